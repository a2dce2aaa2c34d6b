// Package metrics computes token analytics from fetched ledger data.
// Every function is pure: inputs in, metric out, no I/O.
package metrics

import (
	"time"

	"solana-token-analytics/internal/domain"
)

// dust is the balance below which a position counts as closed.
const dust = 1e-9

// Params holds windows and confidence thresholds.
type Params struct {
	Tiers               []int         // concentration tiers, ascending
	VelocityWindow      time.Duration // trading volume window
	PaperhandWindow     time.Duration // exit within this after acquiring ⇒ paperhand
	DiamondThreshold    time.Duration // continuous holding ⇒ diamond hand
	BehaviorLookback    time.Duration // transactions considered for behavior
	MinActiveWallets    int           // below this behavior is flagged insufficient
	MinTransactions     int           // below this behavior is flagged insufficient
	ExcludeProgramOwned bool          // drop off-curve (program-owned) wallets
}

// DefaultParams returns the default engine parameters.
func DefaultParams() Params {
	return Params{
		Tiers:               []int{1, 5, 15},
		VelocityWindow:      24 * time.Hour,
		PaperhandWindow:     24 * time.Hour,
		DiamondThreshold:    7 * 24 * time.Hour,
		BehaviorLookback:    8 * 24 * time.Hour,
		MinActiveWallets:    1,
		MinTransactions:     1,
		ExcludeProgramOwned: true,
	}
}

// Engine computes metric groups with a fixed parameter set.
type Engine struct {
	params Params
}

// NewEngine creates an engine. Zero fields in p fall back to defaults.
func NewEngine(p Params) *Engine {
	d := DefaultParams()
	if len(p.Tiers) == 0 {
		p.Tiers = d.Tiers
	}
	if p.VelocityWindow <= 0 {
		p.VelocityWindow = d.VelocityWindow
	}
	if p.PaperhandWindow <= 0 {
		p.PaperhandWindow = d.PaperhandWindow
	}
	if p.DiamondThreshold <= 0 {
		p.DiamondThreshold = d.DiamondThreshold
	}
	if p.BehaviorLookback <= 0 {
		p.BehaviorLookback = d.BehaviorLookback
	}
	return &Engine{params: p}
}

// Params returns the engine parameters.
func (e *Engine) Params() Params {
	return e.params
}

// TransactionWindow is the widest window any metric reads, used to bound
// transaction fetches.
func (e *Engine) TransactionWindow() time.Duration {
	if e.params.VelocityWindow > e.params.BehaviorLookback {
		return e.params.VelocityWindow
	}
	return e.params.BehaviorLookback
}

// MarketCap computes price × circulating supply.
// A nil price yields a nil market cap; zero supply yields zero.
func (e *Engine) MarketCap(token *domain.Token, price *float64, now time.Time) *domain.MarketCapMetric {
	m := &domain.MarketCapMetric{
		PriceUSD:   price,
		ComputedAt: now.UnixMilli(),
	}
	if token != nil {
		m.CirculatingSupply = token.Supply
		m.Decimals = token.Decimals
	}

	switch {
	case price == nil || token == nil:
		m.Quality = domain.QualityUnavailable
	case !token.HasSupply():
		zero := 0.0
		m.MarketCapUSD = &zero
		m.Quality = domain.QualityOK
	default:
		v := *price * token.Supply
		m.MarketCapUSD = &v
		m.Quality = domain.QualityOK
	}
	return m
}

// inWindow returns the records with Timestamp in [now-window, now].
func inWindow(records []domain.TransactionRecord, window time.Duration, now time.Time) []domain.TransactionRecord {
	from := now.Add(-window).UnixMilli()
	to := now.UnixMilli()
	out := make([]domain.TransactionRecord, 0, len(records))
	for _, r := range records {
		if r.Timestamp >= from && r.Timestamp <= to {
			out = append(out, r)
		}
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
