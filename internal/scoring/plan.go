package scoring

// TradingPlan is the entry band and exit levels derived from the price a
// token was evaluated at.
type TradingPlan struct {
	EntryMin    float64   `json:"entry_min"`
	EntryMax    float64   `json:"entry_max"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits"`
}

// BuildTradingPlan derives the plan for a signal type around the current
// price. NEUTRAL gets the SELL-side placeholder; neutral signals are stored
// for analysis but never executed.
func BuildTradingPlan(signalType string, price float64) TradingPlan {
	switch signalType {
	case SignalLong, SignalBuy:
		return TradingPlan{
			EntryMin:    price * 0.98,
			EntryMax:    price * 1.01,
			StopLoss:    price * 0.95,
			TakeProfits: []float64{price * 1.05, price * 1.10, price * 1.15},
		}
	default:
		return TradingPlan{
			EntryMin:    price * 0.99,
			EntryMax:    price * 1.02,
			StopLoss:    price * 1.05,
			TakeProfits: []float64{price * 0.95, price * 0.90, price * 0.85},
		}
	}
}
