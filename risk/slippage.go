package risk

// Slippage returns the direction-aware slippage of a fill in percent of
// the planned price. Positive means the fill cost money: paid up on a
// buy, or gave up on a sell. Negative is price improvement.
func Slippage(planned, actual float64, isBuy bool) float64 {
	if planned == 0 {
		return 0
	}
	if isBuy {
		return (actual - planned) / planned * 100
	}
	return (planned - actual) / planned * 100
}

// SlippageCost converts a fill's slippage to currency units for the
// given quantity. Positive is cost, negative improvement.
func SlippageCost(planned, actual float64, quantity int, isBuy bool) float64 {
	diff := actual - planned
	if !isBuy {
		diff = -diff
	}
	return diff * float64(quantity)
}
