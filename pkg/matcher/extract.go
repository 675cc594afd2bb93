package matcher

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/templates"
	"github.com/canopy-network/spendq/pkg/utils"
)

// Entity is one extracted mention. Start and End index the folded query.
type Entity struct {
	Kind  templates.SlotKind
	Value string
	Start int
	End   int
	// Known is false for quoted names absent from the tenant directory.
	Known bool
}

// Extractor finds entity mentions in a folded query.
type Extractor interface {
	Extract(folded string, dir aggregate.Directory) []Entity
}

var (
	quotedName = regexp.MustCompile(`\b(student|vendor)\s+["“']([^"”']+)["”']`)
	monthToken = regexp.MustCompile(`\b\d{4}-\d{2}\b|\b[a-z]+\b`)
)

var monthNames = map[string]string{
	"january": "january", "jan": "january",
	"february": "february", "feb": "february",
	"march": "march", "mar": "march",
	"april": "april", "apr": "april",
	"may":  "may",
	"june": "june", "jun": "june",
	"july": "july", "jul": "july",
	"august": "august", "aug": "august",
	"september": "september", "sep": "september", "sept": "september",
	"october": "october", "oct": "october",
	"november": "november", "nov": "november",
	"december": "december", "dec": "december",
}

// shortMonths are month words that are also ordinary English. They count as
// months only next to a word that introduces or joins a date.
var shortMonths = map[string]bool{"may": true, "mar": true, "jun": true, "dec": true}

var (
	monthLead   = map[string]bool{"in": true, "from": true, "to": true, "and": true, "through": true, "since": true, "until": true, "of": true, "or": true}
	monthFollow = map[string]bool{"to": true, "and": true, "through": true, "or": true}
)

func dateContext(folded string, start, end int) bool {
	if before := strings.Fields(folded[:start]); len(before) > 0 && monthLead[trimWord(before[len(before)-1])] {
		return true
	}
	if after := strings.Fields(folded[end:]); len(after) > 0 {
		next := trimWord(after[0])
		return monthFollow[next] || len(next) == 4 && strings.Trim(next, "0123456789") == ""
	}
	return false
}

func trimWord(w string) string {
	return strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
}

// RuleExtractor recognizes quoted names, directory names and month tokens.
type RuleExtractor struct{}

func (RuleExtractor) Extract(folded string, dir aggregate.Directory) []Entity {
	var found []Entity
	taken := func(start, end int) bool {
		for _, e := range found {
			if start < e.End && e.Start < end {
				return true
			}
		}
		return false
	}

	for _, m := range quotedName.FindAllStringSubmatchIndex(folded, -1) {
		kind := templates.SlotKind(folded[m[2]:m[3]])
		name := utils.Fold(folded[m[4]:m[5]])
		if name == "" {
			continue
		}
		known := contains(dir.Entities, name)
		if kind == templates.SlotVendor {
			known = contains(dir.Vendors, name)
		}
		found = append(found, Entity{Kind: kind, Value: name, Start: m[0], End: m[1], Known: known})
	}

	type named struct {
		kind templates.SlotKind
		name string
	}
	var names []named
	for _, n := range dir.Entities {
		names = append(names, named{templates.SlotStudent, n})
	}
	for _, n := range dir.Vendors {
		names = append(names, named{templates.SlotVendor, n})
	}
	// longest first so "ava smith jr" wins over "ava smith"
	sort.SliceStable(names, func(i, j int) bool { return len(names[i].name) > len(names[j].name) })

	for _, n := range names {
		if n.name == "" {
			continue
		}
		for from := 0; from < len(folded); {
			idx := strings.Index(folded[from:], n.name)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(n.name)
			from = end
			if !wordBoundary(folded, start, end) || taken(start, end) {
				continue
			}
			found = append(found, Entity{Kind: n.kind, Value: n.name, Start: start, End: end, Known: true})
		}
	}

	for _, m := range monthToken.FindAllStringIndex(folded, -1) {
		tok := folded[m[0]:m[1]]
		value, ok := monthNames[tok]
		if !ok && len(tok) == 7 && tok[4] == '-' {
			value, ok = tok, validPeriod(tok)
		}
		if !ok || taken(m[0], m[1]) {
			continue
		}
		if shortMonths[tok] && !dateContext(folded, m[0], m[1]) {
			continue
		}
		found = append(found, Entity{Kind: templates.SlotMonth, Value: value, Start: m[0], End: m[1], Known: true})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Start < found[j].Start })
	return found
}

func validPeriod(p string) bool {
	return p[5] == '0' && p[6] >= '1' && p[6] <= '9' || p[5] == '1' && p[6] >= '0' && p[6] <= '2'
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func wordBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// mask replaces every entity span with its placeholder.
func mask(folded string, ents []Entity) string {
	var b strings.Builder
	last := 0
	for _, e := range ents {
		b.WriteString(folded[last:e.Start])
		b.WriteString(" {" + string(e.Kind) + "} ")
		last = e.End
	}
	b.WriteString(folded[last:])
	return b.String()
}
