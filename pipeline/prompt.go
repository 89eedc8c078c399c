package pipeline

import (
	"strings"

	"bgstudio/catalog"
)

// PromptResolver maps a background category, or a user's custom prompt,
// to a positive/negative prompt pair.
type PromptResolver struct {
	catalog *catalog.Catalog
}

// NewPromptResolver returns a resolver over c.
func NewPromptResolver(c *catalog.Catalog) PromptResolver {
	return PromptResolver{catalog: c}
}

// Resolve never fails.
//
// A non-blank override is used verbatim as the positive prompt and is
// paired with the default category's negative prompt, whatever category
// was requested. Otherwise the category's template is returned, falling
// back to the default category when it is not in the catalog.
func (r PromptResolver) Resolve(category catalog.Category, override string) catalog.PromptPair {
	fallback := r.catalog.DefaultPrompt()
	if strings.TrimSpace(override) != "" {
		return catalog.PromptPair{Positive: override, Negative: fallback.Negative}
	}
	if tmpl, ok := r.catalog.Prompt(category); ok {
		return tmpl.Pair()
	}
	return fallback.Pair()
}
