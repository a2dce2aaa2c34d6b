package domain

// MetricKind identifies a cached or persisted value for a token.
type MetricKind string

// Computed metric kinds
const (
	KindMarketCap     MetricKind = "market_cap"
	KindVelocity      MetricKind = "velocity"
	KindConcentration MetricKind = "concentration"
	KindBehavior      MetricKind = "behavior"
)

// Upstream input kinds, cached alongside computed metrics.
const (
	KindMetadata     MetricKind = "metadata"
	KindPrice        MetricKind = "price"
	KindHolders      MetricKind = "holders"
	KindTransactions MetricKind = "transactions"
)

// MetricKinds lists the four computed metric groups in response order.
var MetricKinds = []MetricKind{KindMarketCap, KindVelocity, KindConcentration, KindBehavior}

// ParseMetricKind validates a metric kind name from a request.
func ParseMetricKind(s string) (MetricKind, bool) {
	for _, k := range MetricKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// DataQuality flags how much a metric value can be trusted.
type DataQuality string

const (
	QualityOK           DataQuality = "ok"
	QualityInsufficient DataQuality = "insufficient"
	QualityUnavailable  DataQuality = "unavailable"
)

// VelocityCategory buckets velocity values.
type VelocityCategory string

const (
	VelocityLow    VelocityCategory = "Low"
	VelocityMedium VelocityCategory = "Medium"
	VelocityHigh   VelocityCategory = "High"
)

// MarketCapMetric is price × circulating supply.
type MarketCapMetric struct {
	PriceUSD          *float64    `json:"price_usd"`
	CirculatingSupply float64     `json:"circulating_supply"`
	Decimals          int         `json:"decimals"`
	MarketCapUSD      *float64    `json:"market_cap_usd"`
	Quality           DataQuality `json:"data_quality"`
	ComputedAt        int64       `json:"computed_at"`
}

// VelocityMetric is traded volume over the window relative to market cap.
type VelocityMetric struct {
	Velocity           *float64          `json:"velocity"`
	Category           *VelocityCategory `json:"category"`
	VolumeUSD          float64           `json:"volume_usd"`
	TransactionCount   int               `json:"transaction_count"`
	UniqueTraders      uint64            `json:"unique_traders"`
	AvgTransactionSize float64           `json:"avg_transaction_size_usd"`
	TradingFrequency   float64           `json:"trading_frequency_per_hour"`
	WindowHours        float64           `json:"window_hours"`
	Incomplete         bool              `json:"incomplete_history,omitempty"`
	Quality            DataQuality       `json:"data_quality"`
	ComputedAt         int64             `json:"computed_at"`
}

// TierRatio is the share of supply held by the top N holders, in percent.
type TierRatio struct {
	Tier    int      `json:"tier"`
	Percent *float64 `json:"percent"`
}

// ConcentrationMetric describes how supply is distributed across top holders.
type ConcentrationMetric struct {
	Tiers           []TierRatio `json:"tiers"`
	HoldersAnalyzed int         `json:"holders_analyzed"`
	TotalSupply     float64     `json:"total_supply"`
	MedianBalance   *float64    `json:"median_balance"`
	Gini            *float64    `json:"gini_coefficient"`
	Distribution    string      `json:"distribution,omitempty"`
	Quality         DataQuality `json:"data_quality"`
	ComputedAt      int64       `json:"computed_at"`
}

// Tier returns the ratio for tier n, or nil when absent.
func (m *ConcentrationMetric) Tier(n int) *float64 {
	if m == nil {
		return nil
	}
	for _, t := range m.Tiers {
		if t.Tier == n {
			return t.Percent
		}
	}
	return nil
}

// BehaviorMetric holds paperhand and diamond-hand ratios for active wallets.
type BehaviorMetric struct {
	PaperhandRatio       *float64    `json:"paperhand_ratio"`
	DiamondHandRatio     *float64    `json:"diamond_hand_ratio"`
	ActiveWallets        int         `json:"active_wallets"`
	PaperhandWallets     int         `json:"paperhand_wallets"`
	DiamondHandWallets   int         `json:"diamond_hand_wallets"`
	TransactionsAnalyzed int         `json:"transactions_analyzed"`
	Behavior             string      `json:"behavior,omitempty"`
	WindowHours          float64     `json:"window_hours"`
	Incomplete           bool        `json:"incomplete_history,omitempty"`
	Quality              DataQuality `json:"data_quality"`
	ComputedAt           int64       `json:"computed_at"`
}

// MetricSnapshot is one point of the append-only metric time series.
// Corresponds to metric_snapshots table in ClickHouse.
type MetricSnapshot struct {
	Token      string      // mint address
	Kind       MetricKind  // metric kind
	Payload    []byte      // JSON-encoded metric value
	Quality    DataQuality // data quality flag of the value
	ComputedAt int64       // computation timestamp (ms)
}
