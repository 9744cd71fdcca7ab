package utils

import (
	"strings"
)

// EscapeLike escapes LIKE wildcards in a user-supplied substring so it can be
// embedded in a `LIKE ? ESCAPE '\'` pattern.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SplitAndTrim splits a comma-separated list, dropping empty entries.
func SplitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
