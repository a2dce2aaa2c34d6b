package gateway

import (
	"context"
	"iter"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/solana"
)

// dustThreshold ignores balance deltas below this UI amount.
const dustThreshold = 1e-12

// FetchTransactions returns the token's transaction records newer than since,
// newest first. The sequence is lazy: pages are fetched as the caller ranges.
// It is finite, stopping at since, the configured cap, or the last page, and
// restartable: each range starts again from the newest page.
// An upstream failure is yielded once as the final element. A range that
// skipped transactions or stopped at the cap ends with an *IncompleteError.
func (g *Gateway) FetchTransactions(ctx context.Context, mint string, since time.Time) iter.Seq2[domain.TransactionRecord, error] {
	return func(yield func(domain.TransactionRecord, error) bool) {
		if err := validate(mint); err != nil {
			yield(domain.TransactionRecord{}, err)
			return
		}

		sinceSec := since.Unix()
		before := ""
		fetched, skipped := 0, 0
		capped := false
		finish := func() {
			if skipped > 0 || capped {
				yield(domain.TransactionRecord{}, &IncompleteError{Skipped: skipped, Capped: capped})
			}
		}

		for {
			opts := &solana.SignaturesOpts{Before: before, Limit: g.cfg.PageSize}
			sigs, err := call(ctx, g, g.ledgerUp, "getSignaturesForAddress", func(ctx context.Context) ([]solana.SignatureInfo, error) {
				return g.ledger.GetSignaturesForAddress(ctx, mint, opts)
			})
			if err != nil {
				yield(domain.TransactionRecord{}, err)
				return
			}
			if len(sigs) == 0 {
				finish()
				return
			}

			page := make([]string, 0, len(sigs))
			reachedWindowStart := false
			for _, s := range sigs {
				if s.BlockTime != nil && *s.BlockTime < sinceSec {
					reachedWindowStart = true
					break
				}
				if s.Err != nil {
					continue
				}
				if fetched+len(page) >= g.cfg.MaxTransactions {
					reachedWindowStart = true
					capped = true
					break
				}
				page = append(page, s.Signature)
			}

			txs, missing, err := g.fetchPage(ctx, page)
			if err != nil {
				yield(domain.TransactionRecord{}, err)
				return
			}
			fetched += len(page)
			skipped += missing

			for _, tx := range txs {
				if tx == nil || tx.Failed() || tx.BlockTime < sinceSec {
					continue
				}
				for _, rec := range ParseRecords(mint, tx) {
					if !yield(rec, nil) {
						return
					}
				}
			}

			if reachedWindowStart || len(sigs) < g.cfg.PageSize {
				finish()
				return
			}
			before = sigs[len(sigs)-1].Signature
		}
	}
}

// fetchPage resolves signatures concurrently, preserving order. Individual
// transaction failures leave a nil slot and are counted in missing.
func (g *Gateway) fetchPage(ctx context.Context, signatures []string) ([]*solana.Transaction, int, error) {
	txs := make([]*solana.Transaction, len(signatures))
	var failed atomic.Int64

	eg := new(errgroup.Group)
	eg.SetLimit(g.cfg.PoolSize)
	for i, sig := range signatures {
		eg.Go(func() error {
			tx, err := call(ctx, g, g.ledgerUp, "getTransaction", func(ctx context.Context) (*solana.Transaction, error) {
				return g.ledger.GetTransaction(ctx, sig)
			})
			if err != nil {
				if ctx.Err() == nil {
					failed.Add(1)
					g.log.Debugw("skipping transaction", "signature", sig, "error", err)
				}
				return nil
			}
			txs[i] = tx
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return txs, int(failed.Load()), nil
}

type walletDelta struct {
	wallet string
	amount float64 // absolute value
}

// ParseRecords derives token movements for mint from a transaction's
// pre/post token balances. Debits are matched to credits in descending size
// order; unmatched debits become burns and unmatched credits become mints.
// The per-wallet sum of the returned records equals the observed deltas.
func ParseRecords(mint string, tx *solana.Transaction) []domain.TransactionRecord {
	if tx == nil || tx.Meta == nil {
		return nil
	}

	var keys []string
	if tx.Message != nil {
		keys = tx.Message.AccountKeys
	}
	ownerOf := func(b solana.TokenBalance) string {
		if b.Owner != "" {
			return b.Owner
		}
		if b.AccountIndex >= 0 && b.AccountIndex < len(keys) {
			return keys[b.AccountIndex]
		}
		return ""
	}

	deltas := make(map[string]float64)
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Mint == mint {
			deltas[ownerOf(b)] -= b.UIAmount
		}
	}
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Mint == mint {
			deltas[ownerOf(b)] += b.UIAmount
		}
	}

	var debits, credits []walletDelta
	for w, d := range deltas {
		if w == "" || math.Abs(d) < dustThreshold {
			continue
		}
		if d < 0 {
			debits = append(debits, walletDelta{w, -d})
		} else {
			credits = append(credits, walletDelta{w, d})
		}
	}
	if len(debits) == 0 && len(credits) == 0 {
		return nil
	}
	byAmount := func(s []walletDelta) {
		sort.Slice(s, func(i, j int) bool {
			if s[i].amount != s[j].amount {
				return s[i].amount > s[j].amount
			}
			return s[i].wallet < s[j].wallet
		})
	}
	byAmount(debits)
	byAmount(credits)

	swap := involvesDEX(keys)
	ts := tx.BlockTime * 1000
	var out []domain.TransactionRecord
	emit := func(sender, receiver string, amount float64) {
		if amount < dustThreshold {
			return
		}
		typ := domain.TxTransfer
		switch {
		case swap:
			typ = domain.TxSwap
		case sender == "":
			typ = domain.TxMint
		case receiver == "":
			typ = domain.TxBurn
		}
		out = append(out, domain.TransactionRecord{
			Signature: tx.Signature,
			Sender:    sender,
			Receiver:  receiver,
			Amount:    amount,
			Type:      typ,
			Slot:      tx.Slot,
			Timestamp: ts,
		})
	}

	i, j := 0, 0
	for i < len(debits) && j < len(credits) {
		m := math.Min(debits[i].amount, credits[j].amount)
		emit(debits[i].wallet, credits[j].wallet, m)
		debits[i].amount -= m
		credits[j].amount -= m
		if debits[i].amount < dustThreshold {
			i++
		}
		if credits[j].amount < dustThreshold {
			j++
		}
	}
	for ; i < len(debits); i++ {
		emit(debits[i].wallet, "", debits[i].amount)
	}
	for ; j < len(credits); j++ {
		emit("", credits[j].wallet, credits[j].amount)
	}
	return out
}
