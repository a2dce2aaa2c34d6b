package solana

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// TokenSupply from getTokenSupply.
type TokenSupply struct {
	Raw      string  // raw integer amount
	Decimals int     // mint decimals
	UIAmount float64 // Raw / 10^Decimals
	Slot     int64
}

// TokenAccountBalance is one entry of getTokenLargestAccounts.
type TokenAccountBalance struct {
	Address  string
	Raw      string
	Decimals int
	UIAmount float64
}

// TokenBalance is a pre/post token balance entry of a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	UIAmount     float64
}

// Asset is the subset of DAS getAsset used for token metadata.
type Asset struct {
	ID            string
	Name          string
	Symbol        string
	Description   string
	Image         string
	TokenStandard string
	PricePerToken *float64
}

// MaxLargestAccounts is the upstream limit of getTokenLargestAccounts.
const MaxLargestAccounts = 20
