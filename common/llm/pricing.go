package llm

// CostBreakdown is a pure accumulator: values add across every model
// call in a run and are never reset mid-run.
type CostBreakdown struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
}

func (c CostBreakdown) Add(other CostBreakdown) CostBreakdown {
	return CostBreakdown{
		InputCost:  c.InputCost + other.InputCost,
		OutputCost: c.OutputCost + other.OutputCost,
		TotalCost:  c.TotalCost + other.TotalCost,
	}
}

// modelPrice is USD per one million tokens.
type modelPrice struct {
	input  float64
	output float64
}

var priceTable = map[string]modelPrice{
	"gpt-4o":                 {input: 2.50, output: 10.00},
	"gpt-4o-mini":            {input: 0.15, output: 0.60},
	"gpt-4.1":                {input: 2.00, output: 8.00},
	"gpt-4.1-mini":           {input: 0.40, output: 1.60},
	"gpt-4.1-nano":           {input: 0.10, output: 0.40},
	"text-embedding-3-small": {input: 0.02, output: 0},
	"text-embedding-3-large": {input: 0.13, output: 0},
}

// Cost converts raw token usage into a cost breakdown using the static
// per-model price table. Zero usage or an unknown model yields zero
// cost, never an error.
func Cost(usage TokenUsage, model string) CostBreakdown {
	price, ok := priceTable[model]
	if !ok {
		return CostBreakdown{}
	}
	in := float64(usage.PromptTokens) * price.input / 1e6
	out := float64(usage.CompletionTokens) * price.output / 1e6
	return CostBreakdown{
		InputCost:  in,
		OutputCost: out,
		TotalCost:  in + out,
	}
}
