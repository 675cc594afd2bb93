package utils

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold case-folds s and collapses every run of whitespace to a single space.
// Two strings that differ only in case or spacing fold to the same value.
// A fresh caser is used per call because cases.Caser is not safe for concurrent use.
func Fold(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// Dedup folds every value and drops duplicates, keeping first-seen order.
func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		e = Fold(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
