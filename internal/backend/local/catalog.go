package local

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	"github.com/shelfnotes/shelfnotes-server/internal/genre"
	"github.com/shelfnotes/shelfnotes-server/internal/id"
	"github.com/shelfnotes/shelfnotes-server/internal/search"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// CatalogEntry is one book in a seed file.
type CatalogEntry struct {
	Title           string `yaml:"title"`
	Author          string `yaml:"author"`
	Description     string `yaml:"description"`
	Genre           string `yaml:"genre"`
	CoverImage      string `yaml:"cover_image"`
	PublicationDate string `yaml:"publication_date"`
	Pages           int    `yaml:"pages"`
	ISBN            string `yaml:"isbn"`
}

// Catalog is the seed file format.
type Catalog struct {
	Books []CatalogEntry `yaml:"books"`
}

// LoadCatalog decodes a YAML catalog. Genres are canonicalized; unknown
// fields and genres are rejected.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return &c, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	for i := range c.Books {
		b := &c.Books[i]
		b.Title = strings.TrimSpace(b.Title)
		b.Author = strings.TrimSpace(b.Author)
		if b.Title == "" || b.Author == "" {
			return nil, fmt.Errorf("catalog entry %d: title and author are required", i+1)
		}
		if b.Genre != "" {
			name, ok := genre.Lookup(b.Genre)
			if !ok {
				return nil, fmt.Errorf("catalog entry %d (%s): unknown genre %q", i+1, b.Title, b.Genre)
			}
			b.Genre = name
		}
		if b.Pages < 0 {
			return nil, fmt.Errorf("catalog entry %d (%s): pages must not be negative", i+1, b.Title)
		}
	}
	return &c, nil
}

// DefaultCatalog returns the embedded demo catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// SeedBooks inserts the catalog entries that are not already present,
// matching on ISBN, or on title and author when the ISBN is empty. It
// returns the number of books inserted.
func (p *Provider) SeedBooks(ctx context.Context, entries []CatalogEntry) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var inserted []string
	now := formatTime(p.now())
	for _, e := range entries {
		var exists int
		if e.ISBN != "" {
			err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM books WHERE isbn = ?`, e.ISBN).Scan(&exists)
		} else {
			err = tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM books WHERE title = ? COLLATE NOCASE AND author = ? COLLATE NOCASE`,
				e.Title, e.Author,
			).Scan(&exists)
		}
		if err != nil {
			return 0, fmt.Errorf("check %q: %w", e.Title, err)
		}
		if exists > 0 {
			continue
		}

		bookID := id.MustGenerate(id.PrefixBook)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO books (id, title, author, description, genre, cover_image,
				publication_date, pages, isbn, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			bookID, e.Title, e.Author, e.Description, e.Genre, e.CoverImage,
			e.PublicationDate, e.Pages, e.ISBN, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert %q: %w", e.Title, err)
		}
		inserted = append(inserted, bookID)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}

	if len(inserted) > 0 {
		books, err := p.loadBooks(ctx, inserted)
		if err != nil {
			return len(inserted), err
		}
		if err := p.index.Add(toDocuments(books)); err != nil {
			return len(inserted), fmt.Errorf("index seeded books: %w", err)
		}
		p.logger.Info("seeded catalog", "inserted", len(inserted), "skipped", len(entries)-len(inserted))
	}
	return len(inserted), nil
}

// syncIndex seeds an empty catalog and rebuilds the search index when it
// has drifted from the books table.
func (p *Provider) syncIndex(ctx context.Context, seedPath string) error {
	var count uint64
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return fmt.Errorf("count books: %w", err)
	}

	if count == 0 {
		catalog, err := p.seedCatalog(seedPath)
		if err != nil {
			return err
		}
		n, err := p.SeedBooks(ctx, catalog.Books)
		if err != nil {
			return err
		}
		count = uint64(n) //nolint:gosec // n is a small non-negative count
	}

	indexed, err := p.index.Count()
	if err != nil {
		return fmt.Errorf("count index documents: %w", err)
	}
	if indexed == count {
		return nil
	}

	p.logger.Info("search index out of sync, rebuilding", "books", count, "indexed", indexed)
	if err := p.index.Reset(); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	books, err := p.loadBooks(ctx, nil)
	if err != nil {
		return err
	}
	if err := p.index.Add(toDocuments(books)); err != nil {
		return fmt.Errorf("reindex books: %w", err)
	}
	return nil
}

func (p *Provider) seedCatalog(path string) (*Catalog, error) {
	if path != "" {
		return LoadCatalogFile(path)
	}
	return DefaultCatalog()
}

// reindexBooks refreshes the index entries of ids. Failures are logged:
// the rows are already committed and the next start reconciles counts.
func (p *Provider) reindexBooks(ctx context.Context, ids []string) {
	books, err := p.loadBooks(ctx, ids)
	if err == nil {
		err = p.index.Add(toDocuments(books))
	}
	if err != nil {
		p.logger.Warn("failed to reindex books", "count", len(ids), "error", err)
	}
}

// loadBooks reads books by id, or every book when ids is nil.
func (p *Provider) loadBooks(ctx context.Context, ids []string) ([]*domain.Book, error) {
	cols := strings.Join(tables["books"].columns, ", ")
	var (
		rows []map[string]any
		err  error
	)
	if ids == nil {
		rows, err = queryRows(ctx, p.db, "SELECT "+cols+" FROM books ORDER BY id")
	} else {
		if len(ids) == 0 {
			return nil, nil
		}
		rows, err = queryRows(ctx, p.db,
			"SELECT "+cols+" FROM books WHERE id IN ("+placeholders(len(ids))+")", stringArgs(ids)...)
	}
	if err != nil {
		return nil, fmt.Errorf("load books: %w", err)
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode books: %w", err)
	}
	var books []*domain.Book
	if err := json.Unmarshal(raw, &books); err != nil {
		return nil, fmt.Errorf("decode books: %w", err)
	}
	return books, nil
}

func toDocuments(books []*domain.Book) []*search.BookDocument {
	docs := make([]*search.BookDocument, len(books))
	for i, b := range books {
		docs[i] = search.BookToDocument(b)
	}
	return docs
}
