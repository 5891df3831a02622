package gmail

import "strings"

// BuildQuery composes the search query for the next incremental fetch.
// When a done-label is configured, messages already carrying it are
// excluded so they are not re-downloaded; label names containing
// whitespace are quoted so Gmail's query parser treats them as one token.
func BuildQuery(base, doneLabel string) string {
	if doneLabel == "" {
		return base
	}

	name := doneLabel
	if strings.ContainsAny(name, " \t") {
		name = `"` + name + `"`
	}
	exclude := "-label:" + name

	if base == "" {
		return exclude
	}
	return base + " " + exclude
}
