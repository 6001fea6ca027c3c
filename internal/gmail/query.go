package gmail

import (
	"fmt"
	"strings"
)

// SearchFilters narrows the server-side query beyond the date window.
type SearchFilters struct {
	Extensions []string
	Senders    []string
}

// BuildQuery converts a window and filters to Gmail search syntax.
// Bounds are epoch seconds so the window is exact regardless of the mailbox timezone.
func BuildQuery(w Window, f SearchFilters) Query {
	parts := []string{
		"has:attachment",
		fmt.Sprintf("after:%d", w.Start.Unix()),
		fmt.Sprintf("before:%d", w.End.Unix()),
	}

	if exts := anyOf("filename", f.Extensions, func(e string) string {
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")
	}); exts != "" {
		parts = append(parts, exts)
	}
	if senders := anyOf("from", f.Senders, strings.TrimSpace); senders != "" {
		parts = append(parts, senders)
	}

	return Query{Raw: strings.Join(parts, " ")}
}

// anyOf renders {op:a op:b}, Gmail's OR grouping.
func anyOf(op string, values []string, normalize func(string) string) string {
	terms := make([]string, 0, len(values))
	for _, v := range values {
		v = normalize(v)
		if v == "" {
			continue
		}
		terms = append(terms, op+":"+v)
	}
	switch len(terms) {
	case 0:
		return ""
	case 1:
		return terms[0]
	default:
		return "{" + strings.Join(terms, " ") + "}"
	}
}
