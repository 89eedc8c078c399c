package pipeline

import (
	"fmt"

	"bgstudio/catalog"
)

// CostLedger checks a model's unit cost against a budget tier's ceiling.
// Limits are per request; there is no running total here.
type CostLedger struct {
	catalog *catalog.Catalog
}

func NewCostLedger(c *catalog.Catalog) CostLedger {
	return CostLedger{catalog: c}
}

// Authorize fails with *BudgetError when the unit cost of modelID is
// strictly greater than the limit of tier. Equality is allowed. Unknown
// models or tiers are a *ValidationError against StageSynthesized.
func (l CostLedger) Authorize(modelID string, tier catalog.BudgetTier) error {
	model, ok := l.catalog.Model(modelID)
	if !ok {
		return &ValidationError{Stage: StageSynthesized, Reason: fmt.Sprintf("unknown model %q", modelID)}
	}
	limit, ok := l.catalog.Limit(tier)
	if !ok {
		return &ValidationError{Stage: StageSynthesized, Reason: fmt.Sprintf("unknown budget tier %q", tier)}
	}
	if model.UnitCost > limit {
		return &BudgetError{ModelID: modelID, Cost: model.UnitCost, Tier: tier, Limit: limit}
	}
	return nil
}
