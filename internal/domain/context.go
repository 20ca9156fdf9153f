package domain

// MarketContext carries the live market data available at one backtest step.
// Estimators read only the fields they need and composites forward it unchanged.
type MarketContext struct {
	// PastReturns holds per-asset returns strictly before the current timestamp.
	PastReturns *Frame
	// PastVolumes holds per-asset traded volumes strictly before the current timestamp.
	PastVolumes *Frame
	// CurrentPortfolioValue is the total portfolio value in currency units.
	CurrentPortfolioValue float64
	// MPOStep is the lookahead offset of a multi-period solve, 0 for the immediate period.
	MPOStep int
}

// WithMPOStep returns a shallow copy of the context for the given lookahead offset.
func (c MarketContext) WithMPOStep(step int) *MarketContext {
	c.MPOStep = step
	return &c
}
