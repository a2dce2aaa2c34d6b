package metrics

import (
	"math"
	"time"

	"github.com/axiomhq/hyperloglog"

	"solana-token-analytics/internal/domain"
)

// Categorize buckets a velocity value:
// < 0.1 Low, 0.1..1.0 Medium, > 1.0 High.
func Categorize(v float64) domain.VelocityCategory {
	switch {
	case v < 0.1:
		return domain.VelocityLow
	case v <= 1.0:
		return domain.VelocityMedium
	default:
		return domain.VelocityHigh
	}
}

// Velocity computes window volume over market cap.
// Without a positive market cap or without transactions the value is nil
// and the metric is flagged insufficient. An incomplete history undercounts
// volume: the value is kept but flagged insufficient.
func (e *Engine) Velocity(history domain.TransactionHistory, price, marketCap *float64, now time.Time) *domain.VelocityMetric {
	window := e.params.VelocityWindow
	windowed := inWindow(history.Records, window, now)

	m := &domain.VelocityMetric{
		TransactionCount: len(windowed),
		WindowHours:      window.Hours(),
		Incomplete:       !history.Complete(),
		ComputedAt:       now.UnixMilli(),
	}

	traders := hyperloglog.New16()
	for _, r := range windowed {
		m.VolumeUSD += recordValue(r, price)
		for _, w := range r.Wallets() {
			traders.Insert([]byte(w))
		}
	}
	if len(windowed) > 0 {
		m.UniqueTraders = traders.Estimate()
		m.AvgTransactionSize = m.VolumeUSD / float64(len(windowed))
		m.TradingFrequency = float64(len(windowed)) / window.Hours()
	}

	if marketCap == nil || *marketCap <= 0 || len(windowed) == 0 {
		m.Quality = domain.QualityInsufficient
		return m
	}

	v := m.VolumeUSD / *marketCap
	m.Velocity = &v
	m.Category = ptr(Categorize(v))
	m.Quality = domain.QualityOK
	if m.Incomplete {
		m.Quality = domain.QualityInsufficient
	}
	return m
}

// recordValue returns the USD value of a record, priced at spot when the
// record carries none. Unpriceable records contribute nothing.
func recordValue(r domain.TransactionRecord, price *float64) float64 {
	if r.ValueUSD != nil {
		return math.Abs(*r.ValueUSD)
	}
	if price == nil {
		return 0
	}
	return math.Abs(r.Amount) * *price
}
