package utils

import (
	"strings"
)

// SplitList splits a comma separated query value, trimming blanks and dropping duplicates
// while keeping first-seen order.
func SplitList(in string) []string {
	if strings.TrimSpace(in) == "" {
		return nil
	}
	seen := map[string]bool{}
	out := []string{}
	for _, e := range strings.Split(in, ",") {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// Ptr returns a pointer to v. Handy for optional model fields in tests and transforms.
func Ptr[T any](v T) *T {
	return &v
}
