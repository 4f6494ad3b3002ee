package llm

import "strings"

// modelSpec carries the context window and billing numbers for one model
// family. Prices are USD per million tokens.
type modelSpec struct {
	prefix        string
	contextWindow int
	inputPerM     float64
	outputPerM    float64
}

// Longest matching prefix wins, so specific entries may coexist with a
// family catch-all.
var modelSpecs = []modelSpec{
	{"deepseek-chat", 65536, 0.27, 1.10},
	{"deepseek-reasoner", 65536, 0.55, 2.19},

	{"claude-3-5-haiku", 200000, 0.80, 4.00},
	{"claude-sonnet-4", 200000, 3.00, 15.00},
	{"claude-opus-4", 200000, 15.00, 75.00},
	{"claude", 200000, 3.00, 15.00},

	{"gpt-4o-mini", 128000, 0.15, 0.60},
	{"gpt-4o", 128000, 2.50, 10.00},
	{"gpt-4.1-mini", 1047576, 0.40, 1.60},
	{"gpt-4.1", 1047576, 2.00, 8.00},
	{"o1", 200000, 15.00, 60.00},
	{"o3-mini", 200000, 1.10, 4.40},
	{"o3", 200000, 2.00, 8.00},

	{"gemini-2.5-pro", 1048576, 1.25, 10.00},
	{"gemini-2.0-flash", 1048576, 0.10, 0.40},
	{"gemini", 1048576, 0.10, 0.40},

	{"grok-3-mini", 131072, 0.30, 0.50},
	{"grok", 131072, 3.00, 15.00},
}

// Unknown models get a small window and mid-range pricing rather than a
// failure; cost numbers are estimates either way.
var defaultSpec = modelSpec{contextWindow: 65536, inputPerM: 1.00, outputPerM: 3.00}

func specFor(model string) modelSpec {
	id := apiModelName(model)
	best := defaultSpec
	for _, spec := range modelSpecs {
		if strings.HasPrefix(id, spec.prefix) && len(spec.prefix) > len(best.prefix) {
			best = spec
		}
	}
	return best
}

// ContextWindow returns the model's context size in tokens.
func ContextWindow(model string) int {
	return specFor(model).contextWindow
}

// EstimateCost returns the estimated USD cost of one call.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	spec := specFor(model)
	return float64(inputTokens)/1e6*spec.inputPerM + float64(outputTokens)/1e6*spec.outputPerM
}
