package metrics

import (
	_ "embed"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// CharsPerToken is the average characters-per-token heuristic
const CharsPerToken = 4

// extendedContextThreshold switches to extended pricing above this many input tokens
const extendedContextThreshold = 200_000

//go:embed models.json
var registryJSON []byte

// ModelPricing holds per-million token prices for a model
type ModelPricing struct {
	ModelID                  string   `json:"model_id"`
	Provider                 string   `json:"provider"`
	InputPricePer1M          float64  `json:"input_price_per_1m"`
	OutputPricePer1M         float64  `json:"output_price_per_1m"`
	ExtendedInputPricePer1M  *float64 `json:"extended_input_price_per_1m,omitempty"`
	ExtendedOutputPricePer1M *float64 `json:"extended_output_price_per_1m,omitempty"`
}

var (
	registryOnce sync.Once
	registry     []ModelPricing
)

// Registry returns the embedded pricing table, longest model ids first
func Registry() []ModelPricing {
	registryOnce.Do(func() {
		if err := json.Unmarshal(registryJSON, &registry); err != nil {
			panic("metrics: invalid models.json: " + err.Error())
		}
		sort.SliceStable(registry, func(i, j int) bool {
			return len(registry[i].ModelID) > len(registry[j].ModelID)
		})
	})
	return registry
}

// Lookup finds pricing for a model name: an exact id first, then the longest
// id the name contains. A partial name like "gpt" matches nothing.
func Lookup(model string) (ModelPricing, bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	if name == "" {
		return ModelPricing{}, false
	}
	// Strip provider prefixes like "anthropic/claude-sonnet-4"
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	reg := Registry()
	for _, m := range reg {
		if m.ModelID == name {
			return m, true
		}
	}
	// Dated or suffixed names match the longest known id they contain
	var best ModelPricing
	for _, m := range reg {
		if strings.Contains(name, m.ModelID) && len(m.ModelID) > len(best.ModelID) {
			best = m
		}
	}
	return best, best.ModelID != ""
}

// EstimateTokens estimates token count using the characters-per-token heuristic
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// Cost calculates the dollar cost for the given token counts
func (m ModelPricing) Cost(inputTokens, outputTokens int) float64 {
	inputPrice := m.InputPricePer1M
	outputPrice := m.OutputPricePer1M
	if inputTokens > extendedContextThreshold {
		if m.ExtendedInputPricePer1M != nil {
			inputPrice = *m.ExtendedInputPricePer1M
		}
		if m.ExtendedOutputPricePer1M != nil {
			outputPrice = *m.ExtendedOutputPricePer1M
		}
	}
	return float64(inputTokens)/1_000_000*inputPrice + float64(outputTokens)/1_000_000*outputPrice
}
