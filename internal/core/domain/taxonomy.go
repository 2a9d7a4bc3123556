package domain

import (
	"fmt"
	"sort"
	"strings"
)

type TaxonomyLevel string

const (
	LevelCategory    TaxonomyLevel = "category"
	LevelSubcategory TaxonomyLevel = "subcategory"
	LevelCriterion   TaxonomyLevel = "criterion"
)

// TaxonomyNode is one node of the fixed evaluation hierarchy. Number is a
// dotted-decimal identifier ("1", "1.1", "1.1.1") whose dotted prefix equals
// the parent's number.
type TaxonomyNode struct {
	Number       string        `json:"number"`
	Level        TaxonomyLevel `json:"level"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	ParentNumber string        `json:"parent_number,omitempty"`
}

// Taxonomy is the immutable reference structure loaded once at boot and
// injected into the pipeline and the search engine.
type Taxonomy struct {
	nodes    map[string]TaxonomyNode
	children map[string][]string
	ordered  []string
}

func NewTaxonomy(nodes []TaxonomyNode) (*Taxonomy, error) {
	t := &Taxonomy{
		nodes:    make(map[string]TaxonomyNode, len(nodes)),
		children: make(map[string][]string),
	}
	for _, node := range nodes {
		if node.Number == "" {
			return nil, WrapError(ErrInvalidInput, "build taxonomy", fmt.Errorf("node %q has empty number", node.Name))
		}
		if _, exists := t.nodes[node.Number]; exists {
			return nil, WrapError(ErrInvalidInput, "build taxonomy", fmt.Errorf("duplicate node number %s", node.Number))
		}
		if expected := LevelForNumber(node.Number); node.Level != expected {
			return nil, WrapError(ErrInvalidInput, "build taxonomy", fmt.Errorf("node %s declared %s, number implies %s", node.Number, node.Level, expected))
		}
		if node.Level == LevelCategory && node.ParentNumber != "" {
			return nil, WrapError(ErrInvalidInput, "build taxonomy", fmt.Errorf("category %s must not have a parent", node.Number))
		}
		if node.Level != LevelCategory && !strings.HasPrefix(node.Number, node.ParentNumber+".") {
			return nil, WrapError(ErrInvalidInput, "build taxonomy", fmt.Errorf("node %s is not a dotted extension of parent %s", node.Number, node.ParentNumber))
		}
		t.nodes[node.Number] = node
		t.ordered = append(t.ordered, node.Number)
		if node.ParentNumber != "" {
			t.children[node.ParentNumber] = append(t.children[node.ParentNumber], node.Number)
		}
	}
	for number, node := range t.nodes {
		if node.ParentNumber == "" {
			continue
		}
		parent, ok := t.nodes[node.ParentNumber]
		if !ok {
			return nil, WrapError(ErrInvalidInput, "build taxonomy", fmt.Errorf("node %s references unknown parent %s", number, node.ParentNumber))
		}
		if parentLevel(node.Level) != parent.Level {
			return nil, WrapError(ErrInvalidInput, "build taxonomy", fmt.Errorf("node %s (%s) has parent %s of level %s", number, node.Level, parent.Number, parent.Level))
		}
	}
	sort.Strings(t.ordered)
	for parent := range t.children {
		sort.Strings(t.children[parent])
	}
	return t, nil
}

func (t *Taxonomy) ByNumber(number string) (TaxonomyNode, bool) {
	node, ok := t.nodes[number]
	return node, ok
}

func (t *Taxonomy) Contains(number string) bool {
	_, ok := t.nodes[number]
	return ok
}

// Nodes returns all nodes in ascending number order.
func (t *Taxonomy) Nodes() []TaxonomyNode {
	out := make([]TaxonomyNode, 0, len(t.ordered))
	for _, number := range t.ordered {
		out = append(out, t.nodes[number])
	}
	return out
}

// Descendants returns every node strictly below the given number, in
// ascending number order. An unknown number yields nil.
func (t *Taxonomy) Descendants(number string) []TaxonomyNode {
	if _, ok := t.nodes[number]; !ok {
		return nil
	}
	var out []TaxonomyNode
	queue := append([]string(nil), t.children[number]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, t.nodes[next])
		queue = append(queue, t.children[next]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// IsDescendant reports whether candidate sits strictly below ancestor.
func (t *Taxonomy) IsDescendant(ancestor, candidate string) bool {
	if ancestor == candidate {
		return false
	}
	return strings.HasPrefix(candidate, ancestor+".")
}

// Lineage expands a number into its (category, subcategory, criterion)
// components; levels below the node's own are empty.
func (t *Taxonomy) Lineage(number string) (category, subcategory, criterion string) {
	parts := strings.Split(number, ".")
	if len(parts) >= 1 {
		category = parts[0]
	}
	if len(parts) >= 2 {
		subcategory = parts[0] + "." + parts[1]
	}
	if len(parts) >= 3 {
		criterion = number
	}
	return category, subcategory, criterion
}

// LevelForNumber derives the hierarchy level from the dotted depth.
func LevelForNumber(number string) TaxonomyLevel {
	switch strings.Count(number, ".") {
	case 0:
		return LevelCategory
	case 1:
		return LevelSubcategory
	default:
		return LevelCriterion
	}
}

func parentLevel(level TaxonomyLevel) TaxonomyLevel {
	switch level {
	case LevelSubcategory:
		return LevelCategory
	case LevelCriterion:
		return LevelSubcategory
	default:
		return ""
	}
}
