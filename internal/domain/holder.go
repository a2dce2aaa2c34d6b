package domain

// Holder is one entry of a largest-holders lookup.
type Holder struct {
	Account string  `json:"account"` // token account address
	Owner   string  `json:"owner"`   // owning wallet, empty when not resolved
	Balance float64 `json:"balance"` // UI units, never negative
	Rank    int     `json:"rank"`    // 1-based rank by balance
}

// HolderSnapshot is the ordered top-N holder list for a token at a point in time.
// Corresponds to holder_snapshots table in PostgreSQL.
type HolderSnapshot struct {
	Token   string   // mint address
	Holders []Holder // sorted by balance descending
	TakenAt int64    // snapshot timestamp (ms)
}

// Accounts returns up to n account addresses in rank order.
func (s *HolderSnapshot) Accounts(n int) []string {
	if s == nil {
		return nil
	}
	if n > len(s.Holders) || n < 0 {
		n = len(s.Holders)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = s.Holders[i].Account
	}
	return out
}

// Clone returns a deep copy of the snapshot.
func (s *HolderSnapshot) Clone() *HolderSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Holders = make([]Holder, len(s.Holders))
	copy(c.Holders, s.Holders)
	return &c
}

// AccountChange is a balance update observed on a watched token account.
type AccountChange struct {
	Token      string  `json:"token"`
	Account    string  `json:"account"`
	Owner      string  `json:"owner,omitempty"`
	Balance    float64 `json:"balance"` // new balance in UI units
	Slot       int64   `json:"slot"`
	ObservedAt int64   `json:"observed_at"` // local receive time (ms)
}
