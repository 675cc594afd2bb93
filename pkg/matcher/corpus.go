package matcher

import (
	_ "embed"
	"sort"

	"github.com/canopy-network/spendq/pkg/templates"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed exemplars.yaml
var defaultCorpus []byte

// Exemplar is one canonical phrasing of a template.
type Exemplar struct {
	TemplateID string
	Text       string
	normalized string
}

// Corpus is the versioned, static exemplar set.
type Corpus struct {
	Version   int
	Exemplars []Exemplar
}

// LoadCorpus parses a YAML corpus. A phrasing may belong to one template only.
func LoadCorpus(data []byte) (*Corpus, error) {
	var raw struct {
		Version   int                 `yaml:"version"`
		Templates map[string][]string `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "matcher: parse corpus")
	}
	if raw.Version < 1 {
		return nil, eris.New("matcher: corpus version missing")
	}

	ids := make([]string, 0, len(raw.Templates))
	for id := range raw.Templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c := &Corpus{Version: raw.Version}
	owner := map[string]string{}
	for _, id := range ids {
		for _, text := range raw.Templates[id] {
			n := normalize(text)
			if n == "" {
				continue
			}
			if prev, ok := owner[n]; ok && prev != id {
				return nil, eris.Errorf("matcher: exemplar %q used by %s and %s", text, prev, id)
			}
			owner[n] = id
			c.Exemplars = append(c.Exemplars, Exemplar{TemplateID: id, Text: text, normalized: n})
		}
	}
	return c, nil
}

// DefaultCorpus is the embedded exemplar set.
func DefaultCorpus() *Corpus {
	c, err := LoadCorpus(defaultCorpus)
	if err != nil {
		panic(err)
	}
	return c
}

// check verifies every exemplar names a catalog template.
func (c *Corpus) check(catalog *templates.Catalog) error {
	for _, e := range c.Exemplars {
		if _, ok := catalog.Get(e.TemplateID); !ok {
			return eris.Errorf("matcher: exemplar %q names unknown template %s", e.Text, e.TemplateID)
		}
	}
	return nil
}
