package pipeline

import "bgstudio/catalog"

// ModelSelector picks a synthesis model for a quality tier and budget.
type ModelSelector struct {
	catalog *catalog.Catalog
}

func NewModelSelector(c *catalog.Catalog) ModelSelector {
	return ModelSelector{catalog: c}
}

// Select returns the premium model only when premium quality is requested
// and budget reaches the high tier's limit. Every other combination gets
// the primary model.
//
// Example, with a high limit of 0.15:
//
//	Select(catalog.QualityPremium, catalog.MustParseAmount("0.10")) // primary
//	Select(catalog.QualityPremium, catalog.MustParseAmount("0.15")) // premium
func (s ModelSelector) Select(tier catalog.QualityTier, budget catalog.Amount) string {
	if tier == catalog.QualityPremium {
		if high, ok := s.catalog.Limit(catalog.BudgetHigh); ok && budget >= high {
			return s.catalog.PremiumModelID
		}
	}
	return s.catalog.PrimaryModelID
}
