package matcher

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/canopy-network/spendq/pkg/utils"
)

// Strategy scores a normalized query against a normalized exemplar in [0, 1].
type Strategy interface {
	Name() string
	Score(query, exemplar string) float64
}

// Exact accepts only normalized equality.
type Exact struct{}

func (Exact) Name() string { return "exact" }

func (Exact) Score(query, exemplar string) float64 {
	if query == exemplar {
		return 1
	}
	return 0
}

// Fuzzy blends character-level edit similarity with word-set overlap.
type Fuzzy struct {
	// EditWeight is the share of the edit similarity; the rest is word overlap.
	EditWeight float64
}

func (Fuzzy) Name() string { return "fuzzy" }

func (f Fuzzy) Score(query, exemplar string) float64 {
	if query == exemplar {
		return 1
	}
	w := f.EditWeight
	if w <= 0 || w > 1 {
		w = 0.5
	}
	return w*levenshtein.Similarity(query, exemplar, nil) + (1-w)*wordOverlap(query, exemplar)
}

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string) Strategy {
	if name == "exact" {
		return Exact{}
	}
	return Fuzzy{EditWeight: 0.5}
}

func wordOverlap(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA)
	for w := range wordsB {
		if !wordsA[w] {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// normalize folds case and keeps letters, digits and placeholder braces.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '{' || r == '}' || r == '-' {
			return r
		}
		return ' '
	}, s)
	return utils.Fold(s)
}
