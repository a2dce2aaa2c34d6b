package domain

// Token represents a mint tracked by the analytics engine.
// Corresponds to tokens table in PostgreSQL.
type Token struct {
	Address       string  `json:"address"`        // mint address
	Decimals      int     `json:"decimals"`       // mint decimals
	Supply        float64 `json:"supply"`         // circulating supply in UI units
	Name          *string `json:"name"`           // token name (nullable)
	Symbol        *string `json:"symbol"`         // token symbol (nullable)
	Description   *string `json:"description"`    // asset metadata description (nullable)
	ImageURL      *string `json:"image_url"`      // asset metadata image (nullable)
	TokenStandard *string `json:"token_standard"` // e.g. "Fungible" (nullable)
	FirstSeenAt   int64   `json:"first_seen_at"`  // first request timestamp (ms)
	UpdatedAt     int64   `json:"updated_at"`     // last metadata refresh (ms)
}

// HasSupply reports whether the token has a positive circulating supply.
func (t *Token) HasSupply() bool {
	return t != nil && t.Supply > 0
}
