// Package catalog holds the static configuration of the background
// generation pipeline: the synthesis model table, budget-tier ceilings,
// prompt templates per background category and the base generation
// parameter profiles.
//
// A Catalog is built once at startup (Default or Load) and is treated as
// immutable afterwards. Accessors hand out copies so callers cannot mutate
// the shared tables.
package catalog

import (
	"fmt"
	"sort"
)

// QualityTier classifies a synthesis model by output quality and cost.
type QualityTier string

const (
	QualityStandard QualityTier = "standard"
	QualityPremium  QualityTier = "premium"
)

// Valid reports whether the tier is one of the known quality tiers.
func (t QualityTier) Valid() bool {
	return t == QualityStandard || t == QualityPremium
}

// BudgetTier names a per-request cost ceiling.
type BudgetTier string

const (
	BudgetLow     BudgetTier = "low"
	BudgetMedium  BudgetTier = "medium"
	BudgetHigh    BudgetTier = "high"
	BudgetPremium BudgetTier = "premium"
)

// BudgetTiers lists the tiers in ascending order.
var BudgetTiers = []BudgetTier{BudgetLow, BudgetMedium, BudgetHigh, BudgetPremium}

// Category is a background category with its own prompt template.
type Category string

const (
	CategoryStudio   Category = "studio"
	CategoryOffice   Category = "office"
	CategoryOutdoor  Category = "outdoor"
	CategoryAbstract Category = "abstract"
)

// ModelProfile describes one external synthesis model.
type ModelProfile struct {
	ID          string      `yaml:"id" json:"id"`
	UnitCost    Amount      `yaml:"unitCost" json:"unitCost"`
	QualityTier QualityTier `yaml:"qualityTier" json:"qualityTier"`
}

// PromptPair is a resolved positive/negative prompt.
type PromptPair struct {
	Positive string `json:"positive"`
	Negative string `json:"negative"`
}

// PromptTemplate is the catalog entry for one background category.
type PromptTemplate struct {
	Category Category `yaml:"category" json:"category"`
	Positive string   `yaml:"positive" json:"positive"`
	Negative string   `yaml:"negative" json:"negative"`
}

// Pair returns the template as a PromptPair.
func (p PromptTemplate) Pair() PromptPair {
	return PromptPair{Positive: p.Positive, Negative: p.Negative}
}

// ParamProfile is a base set of generation parameters.
type ParamProfile struct {
	Steps            int            `yaml:"steps" json:"steps"`
	GuidanceScale    float64        `yaml:"guidanceScale" json:"guidanceScale"`
	Width            int            `yaml:"width" json:"width"`
	Height           int            `yaml:"height" json:"height"`
	OutputFormat     string         `yaml:"outputFormat" json:"outputFormat"`
	OutputQuality    int            `yaml:"outputQuality" json:"outputQuality"`
	ProviderSettings map[string]any `yaml:"providerSettings,omitempty" json:"providerSettings,omitempty"`
}

// Clone returns a deep copy of the profile, including nested provider settings.
func (p ParamProfile) Clone() ParamProfile {
	out := p
	out.ProviderSettings = cloneSettings(p.ProviderSettings)
	return out
}

func cloneSettings(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneSettings(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Catalog is the typed static configuration shared by the policy components.
type Catalog struct {
	Models          map[string]ModelProfile
	PrimaryModelID  string
	PremiumModelID  string
	BudgetLimits    map[BudgetTier]Amount
	Prompts         map[Category]PromptTemplate
	DefaultCategory Category
	Profiles        map[QualityTier]ParamProfile
	DefaultSeed     int64
}

// Model looks up a model profile by id.
func (c *Catalog) Model(id string) (ModelProfile, bool) {
	m, ok := c.Models[id]
	return m, ok
}

// Limit returns the ceiling for a budget tier.
func (c *Catalog) Limit(tier BudgetTier) (Amount, bool) {
	l, ok := c.BudgetLimits[tier]
	return l, ok
}

// Prompt looks up the template for a category.
func (c *Catalog) Prompt(category Category) (PromptTemplate, bool) {
	p, ok := c.Prompts[category]
	return p, ok
}

// DefaultPrompt returns the fallback (studio) template.
func (c *Catalog) DefaultPrompt() PromptTemplate {
	return c.Prompts[c.DefaultCategory]
}

// Profile returns a copy of the base parameter profile for a quality tier.
func (c *Catalog) Profile(tier QualityTier) (ParamProfile, bool) {
	p, ok := c.Profiles[tier]
	if !ok {
		return ParamProfile{}, false
	}
	return p.Clone(), true
}

// Categories returns the known categories sorted by name.
func (c *Catalog) Categories() []Category {
	out := make([]Category, 0, len(c.Prompts))
	for cat := range c.Prompts {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks the cross-references between tables.
func (c *Catalog) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("catalog: no models configured")
	}
	for id, m := range c.Models {
		if m.ID != id {
			return fmt.Errorf("catalog: model key %q does not match id %q", id, m.ID)
		}
		if !m.QualityTier.Valid() {
			return fmt.Errorf("catalog: model %q has unknown quality tier %q", id, m.QualityTier)
		}
		if m.UnitCost < 0 {
			return fmt.Errorf("catalog: model %q has negative unit cost %s", id, m.UnitCost)
		}
	}
	primary, ok := c.Models[c.PrimaryModelID]
	if !ok {
		return fmt.Errorf("catalog: primary model %q is not in the model table", c.PrimaryModelID)
	}
	if primary.QualityTier != QualityStandard {
		return fmt.Errorf("catalog: primary model %q must be standard tier", c.PrimaryModelID)
	}
	premium, ok := c.Models[c.PremiumModelID]
	if !ok {
		return fmt.Errorf("catalog: premium model %q is not in the model table", c.PremiumModelID)
	}
	if premium.QualityTier != QualityPremium {
		return fmt.Errorf("catalog: premium model %q must be premium tier", c.PremiumModelID)
	}

	for _, tier := range BudgetTiers {
		limit, ok := c.BudgetLimits[tier]
		if !ok {
			return fmt.Errorf("catalog: missing budget limit for tier %q", tier)
		}
		if limit < 0 {
			return fmt.Errorf("catalog: budget limit for tier %q is negative", tier)
		}
	}

	if _, ok := c.Prompts[c.DefaultCategory]; !ok {
		return fmt.Errorf("catalog: default category %q has no prompt template", c.DefaultCategory)
	}
	for cat, p := range c.Prompts {
		if p.Category != cat {
			return fmt.Errorf("catalog: prompt key %q does not match category %q", cat, p.Category)
		}
		if p.Positive == "" {
			return fmt.Errorf("catalog: prompt %q has empty positive text", cat)
		}
	}

	for _, tier := range []QualityTier{QualityStandard, QualityPremium} {
		p, ok := c.Profiles[tier]
		if !ok {
			return fmt.Errorf("catalog: missing parameter profile for %q", tier)
		}
		if p.Steps < 1 || p.GuidanceScale <= 0 {
			return fmt.Errorf("catalog: parameter profile %q needs positive steps and guidance", tier)
		}
		if p.OutputFormat != "" && p.OutputFormat != "PNG" {
			return fmt.Errorf("catalog: parameter profile %q: only PNG output is supported, got %q", tier, p.OutputFormat)
		}
	}
	return nil
}
