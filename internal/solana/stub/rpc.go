package stub

import (
	"context"
	"sync"
	"sync/atomic"

	"solana-token-analytics/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
// Missing entries answer with the not-found RPC error the node returns.
type RPCClient struct {
	mu           sync.RWMutex
	Supplies     map[string]*solana.TokenSupply
	Largest      map[string][]solana.TokenAccountBalance
	Assets       map[string]*solana.Asset
	Transactions map[string]*solana.Transaction
	Signatures   map[string][]solana.SignatureInfo

	// Err, when set, is returned by every call.
	Err error
	// TxErrors fails getTransaction for individual signatures.
	TxErrors map[string]error

	calls atomic.Int64
	byOp  sync.Map // method -> *atomic.Int64
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Supplies:     make(map[string]*solana.TokenSupply),
		Largest:      make(map[string][]solana.TokenAccountBalance),
		Assets:       make(map[string]*solana.Asset),
		Transactions: make(map[string]*solana.Transaction),
		Signatures:   make(map[string][]solana.SignatureInfo),
	}
}

// Calls returns the total number of calls made.
func (c *RPCClient) Calls() int64 {
	return c.calls.Load()
}

// CallsFor returns the number of calls made to method.
func (c *RPCClient) CallsFor(method string) int64 {
	v, ok := c.byOp.Load(method)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func (c *RPCClient) record(method string) error {
	c.calls.Add(1)
	v, _ := c.byOp.LoadOrStore(method, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
	return c.Err
}

// SetSupply registers a mint supply.
func (c *RPCClient) SetSupply(mint string, supply *solana.TokenSupply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Supplies[mint] = supply
}

func notFound(what string) error {
	return &solana.RPCError{Code: -32602, Message: "could not find " + what}
}

// GetTokenSupply returns the registered supply.
func (c *RPCClient) GetTokenSupply(_ context.Context, mint string) (*solana.TokenSupply, error) {
	if err := c.record("getTokenSupply"); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.Supplies[mint]
	if !ok {
		return nil, notFound("mint " + mint)
	}
	cp := *s
	return &cp, nil
}

// GetTokenLargestAccounts returns the registered largest accounts.
func (c *RPCClient) GetTokenLargestAccounts(_ context.Context, mint string) ([]solana.TokenAccountBalance, error) {
	if err := c.record("getTokenLargestAccounts"); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	accounts, ok := c.Largest[mint]
	if !ok {
		return nil, notFound("mint " + mint)
	}
	out := make([]solana.TokenAccountBalance, len(accounts))
	copy(out, accounts)
	return out, nil
}

// GetAsset returns the registered asset or nil.
func (c *RPCClient) GetAsset(_ context.Context, mint string) (*solana.Asset, error) {
	if err := c.record("getAsset"); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Assets[mint], nil
}

// GetSignaturesForAddress pages through the registered signatures newest first.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if err := c.record("getSignaturesForAddress"); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	sigs := c.Signatures[address]

	start := 0
	if opts != nil && opts.Before != "" {
		start = len(sigs)
		for i, s := range sigs {
			if s.Signature == opts.Before {
				start = i + 1
				break
			}
		}
	}
	end := len(sigs)
	if opts != nil && opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start >= end {
		return nil, nil
	}
	out := make([]solana.SignatureInfo, end-start)
	copy(out, sigs[start:end])
	return out, nil
}

// GetTransaction returns the registered transaction or nil.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	if err := c.record("getTransaction"); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.TxErrors[signature]; err != nil {
		return nil, err
	}
	return c.Transactions[signature], nil
}

// GetHealth reports healthy unless Err is set.
func (c *RPCClient) GetHealth(_ context.Context) error {
	return c.record("getHealth")
}

var _ solana.RPCClient = (*RPCClient)(nil)
