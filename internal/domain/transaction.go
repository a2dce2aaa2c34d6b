package domain

// TxType classifies a token movement.
type TxType string

// Transaction type constants
const (
	TxTransfer TxType = "transfer"
	TxSwap     TxType = "swap"
	TxMint     TxType = "mint"
	TxBurn     TxType = "burn"
)

// TransactionRecord is a single token movement derived from a ledger transaction.
// Amount is signed: it is credited to Receiver and debited from Sender.
// Sender is empty for mints and Receiver is empty for burns.
type TransactionRecord struct {
	Signature string   // ledger transaction signature
	Sender    string   // debited wallet
	Receiver  string   // credited wallet
	Amount    float64  // token amount in UI units
	Type      TxType   // transfer | swap | mint | burn
	Slot      int64    // ledger slot
	Timestamp int64    // block time (ms)
	ValueUSD  *float64 // USD value when known (nullable)
}

// Deltas returns the per-wallet balance changes implied by the record.
func (r TransactionRecord) Deltas() map[string]float64 {
	d := make(map[string]float64, 2)
	if r.Receiver != "" {
		d[r.Receiver] += r.Amount
	}
	if r.Sender != "" {
		d[r.Sender] -= r.Amount
	}
	return d
}

// Wallets returns the non-empty participants of the record.
func (r TransactionRecord) Wallets() []string {
	out := make([]string, 0, 2)
	if r.Sender != "" {
		out = append(out, r.Sender)
	}
	if r.Receiver != "" && r.Receiver != r.Sender {
		out = append(out, r.Receiver)
	}
	return out
}

// TransactionHistory is the fetched transaction window of a token.
type TransactionHistory struct {
	Records []TransactionRecord
	Skipped int  // transactions in the window that could not be fetched
	Capped  bool // fetch stopped at the record cap before the window start
}

// Complete reports whether every transaction in the window was fetched.
func (h TransactionHistory) Complete() bool {
	return h.Skipped == 0 && !h.Capped
}
