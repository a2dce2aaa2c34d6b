package solana

import "context"

// RPCClient defines the Solana JSON-RPC calls used for token analytics.
type RPCClient interface {
	// GetTokenSupply returns the supply and decimals of a mint.
	GetTokenSupply(ctx context.Context, mint string) (*TokenSupply, error)

	// GetTokenLargestAccounts returns up to 20 largest token accounts of a mint.
	GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAccountBalance, error)

	// GetAsset returns DAS asset metadata for a mint.
	GetAsset(ctx context.Context, mint string) (*Asset, error)

	// GetSignaturesForAddress retrieves signatures for an address with pagination.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a jsonParsed transaction by signature.
	// Returns nil if the transaction is not available.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetHealth returns nil when the node reports healthy.
	GetHealth(ctx context.Context) error
}

// Transaction represents a parsed Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}

// Failed reports whether the transaction executed with an error.
func (t *Transaction) Failed() bool {
	return t.Meta != nil && t.Meta.Err != nil
}
