// Package taxonomy holds the static category -> subcategory tree used to
// classify receipt items and resolve display labels.
package taxonomy

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"receipt-bot/constants"
)

//go:embed taxonomy.yaml
var taxonomyYAML []byte

// Taxonomy is the loaded classification tree. Read-only for the lifetime
// of the process.
type Taxonomy struct {
	tree     map[constants.Category][]string
	bySubcat map[string]constants.Category
}

// Load parses the embedded asset. Called once at startup.
func Load() (*Taxonomy, error) {
	return parse(taxonomyYAML)
}

func parse(raw []byte) (*Taxonomy, error) {
	var doc map[string][]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	t := &Taxonomy{
		tree:     make(map[constants.Category][]string, len(doc)),
		bySubcat: make(map[string]constants.Category),
	}
	for name, subs := range doc {
		cat, ok := constants.CanonicalizeCategory(name)
		if !ok {
			return nil, fmt.Errorf("parse taxonomy: unknown category %q", name)
		}
		t.tree[cat] = subs
		for _, s := range subs {
			t.bySubcat[normalizeLabel(s)] = cat
		}
	}
	return t, nil
}

// CategoryFor resolves a free-form subcategory label to its category.
// Labels not present in the tree resolve to Other.
func (t *Taxonomy) CategoryFor(subcategory string) constants.Category {
	if cat, ok := t.bySubcat[normalizeLabel(subcategory)]; ok {
		return cat
	}
	return constants.Other
}

// Subcategories returns the labels under one category.
func (t *Taxonomy) Subcategories(cat constants.Category) []string {
	subs := t.tree[cat]
	out := make([]string, len(subs))
	copy(out, subs)
	return out
}

// Labels returns every known subcategory label, for prompt construction.
func (t *Taxonomy) Labels() []string {
	out := make([]string, 0, len(t.bySubcat))
	for s := range t.bySubcat {
		out = append(out, s)
	}
	return out
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
