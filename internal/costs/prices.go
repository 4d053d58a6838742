package costs

// defaultPriceTable maps a model identifier to its price in USD per
// million tokens (blended input+output, which is adequate for the
// kernel's budget-governance purpose — it is not a billing reconciliation
// system). Keys match the model identifiers ModelCaller implementations
// pass through to the underlying model API.
func defaultPriceTable() map[string]float64 {
	return map[string]float64{
		"claude-opus-4":            15.0,
		"claude-sonnet-4":          3.0,
		"claude-3-5-haiku-latest":  0.80,
		"local":                    0,
	}
}

// PriceTable resolves a model name to its price per million tokens,
// falling back to a configured default for models it has never seen.
type PriceTable struct {
	prices       map[string]float64
	defaultPrice float64
}

// NewPriceTable merges overrides on top of the built-in defaults.
func NewPriceTable(overrides map[string]float64, defaultPrice float64) *PriceTable {
	prices := defaultPriceTable()
	for k, v := range overrides {
		prices[k] = v
	}
	return &PriceTable{prices: prices, defaultPrice: defaultPrice}
}

// PricePerMillion returns the USD/million-token rate for model.
func (t *PriceTable) PricePerMillion(model string) float64 {
	if p, ok := t.prices[model]; ok {
		return p
	}
	return t.defaultPrice
}

// Cost computes the USD cost of a call using blended input+output tokens.
func (t *PriceTable) Cost(model string, totalTokens int) float64 {
	return t.PricePerMillion(model) * float64(totalTokens) / 1_000_000
}
