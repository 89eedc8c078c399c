package catalog

// Built-in model identifiers.
const (
	DefaultPrimaryModel = "runware:101@1"
	DefaultPremiumModel = "bfl:2@1"

	// DefaultSeed is used when the caller does not supply a seed so that
	// repeated generations of the same workflow are reproducible.
	DefaultSeed int64 = 42

	// DefaultSafetyTolerance is the BFL moderation level for premium requests.
	DefaultSafetyTolerance = 2
)

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{
		Models: map[string]ModelProfile{
			DefaultPrimaryModel: {ID: DefaultPrimaryModel, UnitCost: MustParseAmount("0.05"), QualityTier: QualityStandard},
			DefaultPremiumModel: {ID: DefaultPremiumModel, UnitCost: MustParseAmount("0.12"), QualityTier: QualityPremium},
		},
		PrimaryModelID: DefaultPrimaryModel,
		PremiumModelID: DefaultPremiumModel,
		BudgetLimits: map[BudgetTier]Amount{
			BudgetLow:     MustParseAmount("0.03"),
			BudgetMedium:  MustParseAmount("0.08"),
			BudgetHigh:    MustParseAmount("0.15"),
			BudgetPremium: MustParseAmount("0.25"),
		},
		Prompts: map[Category]PromptTemplate{
			CategoryStudio: {
				Category: CategoryStudio,
				Positive: "professional studio product photography background, seamless soft gradient backdrop, softbox lighting, subtle floor reflection, high detail, commercial quality",
				Negative: "blurry, low quality, distorted product, text, watermark, logo, cluttered background, harsh shadows, oversaturated, deformed edges",
			},
			CategoryOffice: {
				Category: CategoryOffice,
				Positive: "modern bright office desk setting, clean minimal workspace, natural window light, shallow depth of field, professional product placement",
				Negative: "blurry, messy desk, people, hands, text, watermark, low quality, distorted product",
			},
			CategoryOutdoor: {
				Category: CategoryOutdoor,
				Positive: "natural outdoor setting, soft golden hour daylight, lush greenery bokeh, lifestyle product photography, realistic shadows",
				Negative: "blurry, overexposed sky, people, animals, text, watermark, low quality, distorted product",
			},
			CategoryAbstract: {
				Category: CategoryAbstract,
				Positive: "abstract artistic background, smooth flowing shapes, harmonious color palette, soft gradients, minimalist composition, studio lit product",
				Negative: "blurry, noisy, busy pattern, text, watermark, low quality, distorted product",
			},
		},
		DefaultCategory: CategoryStudio,
		Profiles: map[QualityTier]ParamProfile{
			QualityStandard: {
				Steps:         28,
				GuidanceScale: 3.5,
				Width:         1024,
				Height:        1024,
				OutputFormat:  "PNG",
				OutputQuality: 95,
			},
			QualityPremium: {
				Steps:         40,
				GuidanceScale: 7.0,
				Width:         1024,
				Height:        1024,
				OutputFormat:  "PNG",
				OutputQuality: 100,
				ProviderSettings: map[string]any{
					"bfl": map[string]any{
						"promptUpsampling": true,
						"safetyTolerance":  DefaultSafetyTolerance,
					},
				},
			},
		},
		DefaultSeed: DefaultSeed,
	}
}
