package domain

import "time"

// AnalyticsReport is the full analytics response for one token.
type AnalyticsReport struct {
	Token         string               `json:"token"`
	TokenInfo     *Token               `json:"token_info"`
	MarketCap     *MarketCapMetric     `json:"market_cap"`
	Velocity      *VelocityMetric      `json:"velocity"`
	Concentration *ConcentrationMetric `json:"concentration"`
	Behavior      *BehaviorMetric      `json:"behavior"`
	RealTime      *RealTimeInfo        `json:"real_time,omitempty"`
	Meta          ReportMeta           `json:"meta"`
	Timestamp     time.Time            `json:"timestamp"`
}

// RealTimeInfo describes the live channel available for the token.
type RealTimeInfo struct {
	Enabled              bool   `json:"enabled"`
	MaxAccountsToMonitor int    `json:"max_accounts_to_monitor"`
	Channel              string `json:"channel"`
}

// ReportMeta carries degradation details for a report.
type ReportMeta struct {
	PartialFailure bool         `json:"partial_failure"`
	SuccessRate    float64      `json:"success_rate"`
	Stale          []MetricKind `json:"stale,omitempty"`
	Errors         []string     `json:"errors,omitempty"`
	NextUpdate     *time.Time   `json:"next_update,omitempty"`
}

// Metric returns the metric group for kind, or nil.
func (r *AnalyticsReport) Metric(kind MetricKind) any {
	switch kind {
	case KindMarketCap:
		if r.MarketCap != nil {
			return r.MarketCap
		}
	case KindVelocity:
		if r.Velocity != nil {
			return r.Velocity
		}
	case KindConcentration:
		if r.Concentration != nil {
			return r.Concentration
		}
	case KindBehavior:
		if r.Behavior != nil {
			return r.Behavior
		}
	}
	return nil
}

// BatchResult is the per-token entry of a batch analytics response.
type BatchResult struct {
	Metrics map[MetricKind]any `json:"metrics,omitempty"`
	Error   string             `json:"error,omitempty"`
}
