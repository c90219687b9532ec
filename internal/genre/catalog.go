// Package genre holds the fixed genre taxonomy of the catalog and the text
// normalization shared by genre lookup and search.
package genre

// Genre is one entry of the catalog taxonomy.
type Genre struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Names lists the catalog genres in display order.
var Names = []string{
	"Fiction",
	"Non-Fiction",
	"Mystery",
	"Romance",
	"Science Fiction",
	"Fantasy",
	"Biography",
	"History",
	"Self-Help",
	"Poetry",
}

var (
	all    []Genre
	bySlug map[string]string
)

// aliases maps common spellings onto catalog slugs.
var aliases = map[string]string{
	"nonfiction":  "non-fiction",
	"sci-fi":      "science-fiction",
	"scifi":       "science-fiction",
	"sf":          "science-fiction",
	"selfhelp":    "self-help",
	"biographies": "biography",
	"memoir":      "biography",
	"historical":  "history",
	"poems":       "poetry",
}

func init() {
	all = make([]Genre, len(Names))
	bySlug = make(map[string]string, len(Names))
	for i, name := range Names {
		slug := Slugify(name)
		all[i] = Genre{Name: name, Slug: slug}
		bySlug[slug] = name
	}
}

// All returns the taxonomy in display order.
func All() []Genre {
	out := make([]Genre, len(all))
	copy(out, all)
	return out
}

// Lookup resolves a user-supplied genre ("fantasy", "Sci-Fi", "Science Fiction")
// to its canonical display name.
func Lookup(raw string) (string, bool) {
	slug := Slugify(raw)
	if alias, ok := aliases[slug]; ok {
		slug = alias
	}
	name, ok := bySlug[slug]
	return name, ok
}
