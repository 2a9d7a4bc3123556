// Package taxonomy loads the hierarchical quality-criteria definition from
// its YAML file into the immutable domain structure used across the system.
package taxonomy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
)

type criterionDef struct {
	Number      string `yaml:"number"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type subcategoryDef struct {
	Number      string         `yaml:"number"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Criteria    []criterionDef `yaml:"criteria"`
}

type categoryDef struct {
	Number        string           `yaml:"number"`
	Name          string           `yaml:"name"`
	Description   string           `yaml:"description"`
	Subcategories []subcategoryDef `yaml:"subcategories"`
}

type fileDef struct {
	Categories []categoryDef `yaml:"categories"`
}

// LoadFile reads and validates the taxonomy definition. The result is
// treated as immutable reference data for the lifetime of the process.
func LoadFile(path string) (*domain.Taxonomy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*domain.Taxonomy, error) {
	var def fileDef
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse taxonomy yaml: %w", err)
	}
	if len(def.Categories) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse taxonomy", fmt.Errorf("no categories defined"))
	}

	var nodes []domain.TaxonomyNode
	for _, cat := range def.Categories {
		nodes = append(nodes, domain.TaxonomyNode{
			Number:      cat.Number,
			Level:       domain.LevelCategory,
			Name:        cat.Name,
			Description: cat.Description,
		})
		for _, sub := range cat.Subcategories {
			nodes = append(nodes, domain.TaxonomyNode{
				Number:       sub.Number,
				Level:        domain.LevelSubcategory,
				Name:         sub.Name,
				Description:  sub.Description,
				ParentNumber: cat.Number,
			})
			for _, crit := range sub.Criteria {
				nodes = append(nodes, domain.TaxonomyNode{
					Number:       crit.Number,
					Level:        domain.LevelCriterion,
					Name:         crit.Name,
					Description:  crit.Description,
					ParentNumber: sub.Number,
				})
			}
		}
	}
	return domain.NewTaxonomy(nodes)
}
