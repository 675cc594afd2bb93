// Package matcher maps free text onto exactly one catalog template plus its
// entity bindings, or reports why it cannot. It never guesses.
package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/templates"
	"github.com/canopy-network/spendq/pkg/utils"
	"github.com/rotisserie/eris"
)

// ErrUnresolved means no template scored above the confidence threshold, or
// two templates tied for the top score.
var ErrUnresolved = eris.New("unresolved query")

// Reason explains an incomplete binding.
type Reason string

const (
	ReasonMissing   Reason = "missing"
	ReasonAmbiguous Reason = "ambiguous"
	ReasonUnknown   Reason = "unknown"
)

// IncompleteBindingError is returned when a template matched but a slot could
// not be filled from the query.
type IncompleteBindingError struct {
	Template string
	Slot     string
	Reason   Reason
}

func (e *IncompleteBindingError) Error() string {
	return fmt.Sprintf("template %s: slot %s %s", e.Template, e.Slot, e.Reason)
}

// Bindings maps slot name to bound, folded values.
type Bindings map[string][]string

// Resolution is a successful match.
type Resolution struct {
	Template templates.Template
	Bindings Bindings
	Exemplar string
	Score    float64
}

// Directories supplies the known entity names of a tenant.
type Directories interface {
	Directory(tenantID string) aggregate.Directory
}

type Option func(*Matcher)

func WithStrategy(s Strategy) Option { return func(m *Matcher) { m.strategy = s } }

func WithExtractor(e Extractor) Option { return func(m *Matcher) { m.extractor = e } }

func WithThreshold(t float64) Option { return func(m *Matcher) { m.threshold = t } }

// WithValidateEntities rejects quoted names the tenant directory does not know.
func WithValidateEntities(on bool) Option { return func(m *Matcher) { m.validate = on } }

type Matcher struct {
	catalog   *templates.Catalog
	corpus    *Corpus
	dirs      Directories
	strategy  Strategy
	extractor Extractor
	threshold float64
	validate  bool
}

func New(catalog *templates.Catalog, corpus *Corpus, dirs Directories, opts ...Option) (*Matcher, error) {
	if err := corpus.check(catalog); err != nil {
		return nil, err
	}
	m := &Matcher{
		catalog:   catalog,
		corpus:    corpus,
		dirs:      dirs,
		strategy:  Fuzzy{EditWeight: 0.5},
		extractor: RuleExtractor{},
		threshold: 0.75,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Match resolves text for a tenant. It returns ErrUnresolved or an
// *IncompleteBindingError instead of a low-confidence guess.
func (m *Matcher) Match(ctx context.Context, tenantID, text string) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	var dir aggregate.Directory
	if m.dirs != nil {
		dir = m.dirs.Directory(tenantID)
	}
	folded := utils.Fold(text)
	ents := m.extractor.Extract(folded, dir)
	query := normalize(mask(folded, ents))
	if query == "" {
		return Resolution{}, ErrUnresolved
	}

	type best struct {
		id       string
		exemplar string
		score    float64
	}
	perTemplate := map[string]best{}
	for _, e := range m.corpus.Exemplars {
		s := m.strategy.Score(query, e.normalized)
		if b, ok := perTemplate[e.TemplateID]; !ok || s > b.score {
			perTemplate[e.TemplateID] = best{id: e.TemplateID, exemplar: e.Text, score: s}
		}
	}
	ranked := make([]best, 0, len(perTemplate))
	for _, b := range perTemplate {
		ranked = append(ranked, b)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	if len(ranked) == 0 || ranked[0].score < m.threshold {
		return Resolution{}, ErrUnresolved
	}
	if len(ranked) > 1 && math.Abs(ranked[0].score-ranked[1].score) < 1e-9 {
		return Resolution{}, ErrUnresolved
	}

	tpl, ok := m.catalog.Get(ranked[0].id)
	if !ok {
		return Resolution{}, ErrUnresolved
	}
	bindings, err := m.bind(tpl, ents)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Template: tpl,
		Bindings: bindings,
		Exemplar: ranked[0].exemplar,
		Score:    ranked[0].score,
	}, nil
}

// bind fills slots of each kind from candidates in order of appearance. Each
// slot takes its minimum before surplus goes to the earliest slot, so a short
// supply leaves the last slots missing.
func (m *Matcher) bind(tpl templates.Template, ents []Entity) (Bindings, error) {
	out := Bindings{}
	for _, kind := range []templates.SlotKind{templates.SlotStudent, templates.SlotVendor, templates.SlotMonth} {
		slots := tpl.SlotsOf(kind)
		if len(slots) == 0 {
			continue
		}
		var cands []Entity
		for _, e := range ents {
			if e.Kind == kind {
				cands = append(cands, e)
			}
		}

		capacity := 0
		for _, s := range slots {
			capacity += s.Max
		}
		if len(cands) > capacity {
			return nil, &IncompleteBindingError{Template: tpl.ID, Slot: slots[len(slots)-1].Name, Reason: ReasonAmbiguous}
		}

		next := 0
		for i, s := range slots {
			reserved := 0
			for _, later := range slots[i+1:] {
				reserved += later.Min
			}
			remaining := len(cands) - next
			n := max(min(max(s.Min, remaining-reserved), s.Max, remaining), 0)
			if n < s.Min {
				return nil, &IncompleteBindingError{Template: tpl.ID, Slot: s.Name, Reason: ReasonMissing}
			}
			for _, c := range cands[next : next+n] {
				if m.validate && !c.Known {
					return nil, &IncompleteBindingError{Template: tpl.ID, Slot: s.Name, Reason: ReasonUnknown}
				}
				out[s.Name] = append(out[s.Name], c.Value)
			}
			next += n
		}
	}
	return out, nil
}
