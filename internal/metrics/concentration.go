package metrics

import (
	"sort"
	"time"

	"solana-token-analytics/internal/domain"
)

// Distribution labels by top-1 share.
const (
	DistExtremelyConcentrated  = "extremely_concentrated"
	DistHighlyConcentrated     = "highly_concentrated"
	DistModeratelyConcentrated = "moderately_concentrated"
	DistSomewhatDistributed    = "somewhat_distributed"
	DistWellDistributed        = "well_distributed"
)

// Concentration computes the share of totalSupply held by the top-N holders
// for every configured tier. Tiers are non-decreasing and capped at 100.
// Zero supply yields nil ratios; a holder list shorter than the largest tier
// uses what is available and is flagged insufficient.
func (e *Engine) Concentration(holders []domain.Holder, totalSupply float64, now time.Time) *domain.ConcentrationMetric {
	balances := make([]float64, len(holders))
	for i, h := range holders {
		balances[i] = h.Balance
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(balances)))

	m := &domain.ConcentrationMetric{
		Tiers:           make([]domain.TierRatio, len(e.params.Tiers)),
		HoldersAnalyzed: len(balances),
		TotalSupply:     totalSupply,
		MedianBalance:   median(balances),
		Gini:            gini(balances),
		Quality:         domain.QualityOK,
		ComputedAt:      now.UnixMilli(),
	}

	tiers := append([]int(nil), e.params.Tiers...)
	sort.Ints(tiers)

	prefix := make([]float64, len(balances)+1)
	for i, b := range balances {
		prefix[i+1] = prefix[i] + b
	}

	for i, tier := range tiers {
		m.Tiers[i].Tier = tier
		if tier > len(balances) {
			m.Quality = domain.QualityInsufficient
		}
		if totalSupply <= 0 {
			continue
		}
		n := min(tier, len(balances))
		pct := min(prefix[n]/totalSupply*100, 100)
		m.Tiers[i].Percent = &pct
	}

	if totalSupply <= 0 {
		m.Quality = domain.QualityInsufficient
		return m
	}
	if top := m.Tier(1); top != nil {
		m.Distribution = DistributionLabel(*top)
	}
	return m
}

// DistributionLabel classifies the top-1 holder share in percent.
func DistributionLabel(top1 float64) string {
	switch {
	case top1 > 50:
		return DistExtremelyConcentrated
	case top1 > 30:
		return DistHighlyConcentrated
	case top1 > 15:
		return DistModeratelyConcentrated
	case top1 > 5:
		return DistSomewhatDistributed
	default:
		return DistWellDistributed
	}
}

// median of values sorted in any order; nil when empty.
func median(values []float64) *float64 {
	n := len(values)
	if n == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return ptr(sorted[n/2])
	}
	return ptr((sorted[n/2-1] + sorted[n/2]) / 2)
}

// gini computes the Gini coefficient; nil when empty or all zero.
// G = 2·Σ(i·x_i) / (n·Σx) − (n+1)/n with x ascending and i 1-based.
func gini(values []float64) *float64 {
	n := len(values)
	if n == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum, weighted float64
	for i, v := range sorted {
		sum += v
		weighted += float64(i+1) * v
	}
	if sum <= 0 {
		return nil
	}
	g := 2*weighted/(float64(n)*sum) - float64(n+1)/float64(n)
	return &g
}
