package backend

import (
	"strings"

	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

// Embed is a related table pulled into each row under Alias,
// written "alias:table(col, col)" in a select list.
type Embed struct {
	Alias   string
	Table   string
	Columns []string
}

// Selection is a parsed select list.
type Selection struct {
	// Columns holds plain column names; "*" means all.
	Columns []string
	Embeds  []Embed
}

// All reports whether the selection includes every column.
func (s Selection) All() bool {
	for _, c := range s.Columns {
		if c == "*" {
			return true
		}
	}
	return false
}

// ParseSelect parses a select list such as "*, user:users(username, avatar_url)".
func ParseSelect(list string) (Selection, error) {
	var sel Selection
	for _, item := range splitTopLevel(list) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		open := strings.IndexByte(item, '(')
		if open < 0 {
			if !validIdent(item) && item != "*" {
				return Selection{}, domainerrors.Validationf("invalid select column %q", item)
			}
			sel.Columns = append(sel.Columns, item)
			continue
		}
		if !strings.HasSuffix(item, ")") {
			return Selection{}, domainerrors.Validationf("unterminated embed %q", item)
		}
		head := strings.TrimSpace(item[:open])
		alias, table, found := strings.Cut(head, ":")
		if !found {
			table = alias
		}
		alias, table = strings.TrimSpace(alias), strings.TrimSpace(table)
		if !validIdent(alias) || !validIdent(table) {
			return Selection{}, domainerrors.Validationf("invalid embed %q", head)
		}
		embed := Embed{Alias: alias, Table: table}
		for _, col := range strings.Split(item[open+1:len(item)-1], ",") {
			col = strings.TrimSpace(col)
			if col == "" {
				continue
			}
			if !validIdent(col) && col != "*" {
				return Selection{}, domainerrors.Validationf("invalid embed column %q", col)
			}
			embed.Columns = append(embed.Columns, col)
		}
		sel.Embeds = append(sel.Embeds, embed)
	}
	if len(sel.Columns) == 0 && len(sel.Embeds) == 0 {
		sel.Columns = []string{"*"}
	}
	return sel, nil
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
