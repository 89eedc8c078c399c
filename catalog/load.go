package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileCatalog is the YAML layout of a catalog file. Every section is
// optional; missing sections keep the built-in defaults.
type fileCatalog struct {
	PrimaryModel    string                       `yaml:"primaryModel"`
	PremiumModel    string                       `yaml:"premiumModel"`
	Models          []ModelProfile               `yaml:"models"`
	Budgets         map[BudgetTier]Amount        `yaml:"budgets"`
	Prompts         []PromptTemplate             `yaml:"prompts"`
	DefaultCategory Category                     `yaml:"defaultCategory"`
	Parameters      map[QualityTier]ParamProfile `yaml:"parameters"`
	DefaultSeed     *int64                       `yaml:"defaultSeed"`
}

// Load reads a YAML catalog file and overlays it on the built-in defaults.
// An empty path returns Default().
//
// Example file:
//
//	primaryModel: runware:101@1
//	premiumModel: bfl:2@1
//	models:
//	  - id: runware:101@1
//	    unitCost: 0.05
//	    qualityTier: standard
//	  - id: bfl:2@1
//	    unitCost: 0.12
//	    qualityTier: premium
//	budgets:
//	  low: 0.03
//	  medium: 0.08
//	  high: 0.15
//	  premium: 0.25
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML catalog data and overlays it on the built-in defaults.
func Parse(data []byte) (*Catalog, error) {
	var f fileCatalog
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := Default()

	if len(f.Models) > 0 {
		c.Models = make(map[string]ModelProfile, len(f.Models))
		for _, m := range f.Models {
			if m.ID == "" {
				return nil, fmt.Errorf("model entry without id")
			}
			c.Models[m.ID] = m
		}
	}
	if f.PrimaryModel != "" {
		c.PrimaryModelID = f.PrimaryModel
	}
	if f.PremiumModel != "" {
		c.PremiumModelID = f.PremiumModel
	}

	for tier, limit := range f.Budgets {
		c.BudgetLimits[tier] = limit
	}

	for _, p := range f.Prompts {
		if p.Category == "" {
			return nil, fmt.Errorf("prompt entry without category")
		}
		c.Prompts[p.Category] = p
	}
	if f.DefaultCategory != "" {
		c.DefaultCategory = f.DefaultCategory
	}

	for tier, profile := range f.Parameters {
		c.Profiles[tier] = profile
	}

	if f.DefaultSeed != nil {
		c.DefaultSeed = *f.DefaultSeed
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
