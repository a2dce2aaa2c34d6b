package metrics

import (
	"sort"
	"time"

	"solana-token-analytics/internal/address"
	"solana-token-analytics/internal/domain"
)

// Behavior labels by paperhand ratio.
const (
	BehaviorExtremelyWeak = "extremely_weak_hands"
	BehaviorWeak          = "weak_hands"
	BehaviorMixed         = "mixed_behavior"
	BehaviorStrong        = "strong_hands"
	BehaviorDiamond       = "diamond_hands"
)

// movement is one signed balance change of a wallet.
type movement struct {
	ts    int64
	sig   string
	delta float64
}

// holding summarizes a wallet's reconstructed balance trajectory.
type holding struct {
	paperhand  bool  // exited within the paperhand window of acquiring
	open       bool  // balance is non-zero at the end
	acquiredAt int64 // start of the current non-zero run (ms)
}

// Behavior classifies wallets active within the lookback window.
//
// Each wallet's trajectory starts from zero and accumulates deltas in
// (timestamp, signature) order. A debit below zero means the position predates
// the window; the balance is clamped to zero and no exit is recorded. A wallet
// is a paperhand when its balance returns to zero within PaperhandWindow of
// becoming non-zero, and a diamond hand when it is non-zero at now and has been
// continuously for at least DiamondThreshold.
//
// A token without supply has null ratios. An incomplete history still yields
// ratios, flagged insufficient.
func (e *Engine) Behavior(history domain.TransactionHistory, token *domain.Token, now time.Time) *domain.BehaviorMetric {
	p := e.params
	windowed := inWindow(history.Records, p.BehaviorLookback, now)

	m := &domain.BehaviorMetric{
		TransactionsAnalyzed: len(windowed),
		WindowHours:          p.PaperhandWindow.Hours(),
		Incomplete:           !history.Complete(),
		ComputedAt:           now.UnixMilli(),
	}

	moves := make(map[string][]movement)
	for _, r := range windowed {
		for wallet, delta := range r.Deltas() {
			if p.ExcludeProgramOwned && !address.IsOnCurve(wallet) {
				continue
			}
			moves[wallet] = append(moves[wallet], movement{ts: r.Timestamp, sig: r.Signature, delta: delta})
		}
	}

	m.ActiveWallets = len(moves)
	if m.ActiveWallets == 0 || !token.HasSupply() {
		m.Quality = domain.QualityInsufficient
		return m
	}

	windowMs := p.PaperhandWindow.Milliseconds()
	diamondMs := p.DiamondThreshold.Milliseconds()
	for _, mv := range moves {
		h := trajectory(mv, windowMs)
		if h.paperhand {
			m.PaperhandWallets++
		}
		if h.open && now.UnixMilli()-h.acquiredAt >= diamondMs {
			m.DiamondHandWallets++
		}
	}

	active := float64(m.ActiveWallets)
	m.PaperhandRatio = ptr(float64(m.PaperhandWallets) / active * 100)
	m.DiamondHandRatio = ptr(float64(m.DiamondHandWallets) / active * 100)
	m.Behavior = BehaviorLabel(*m.PaperhandRatio)

	m.Quality = domain.QualityOK
	if m.ActiveWallets < p.MinActiveWallets || m.TransactionsAnalyzed < p.MinTransactions || m.Incomplete {
		m.Quality = domain.QualityInsufficient
	}
	return m
}

// trajectory replays a wallet's movements.
func trajectory(moves []movement, paperhandWindowMs int64) holding {
	sort.Slice(moves, func(i, j int) bool {
		if moves[i].ts != moves[j].ts {
			return moves[i].ts < moves[j].ts
		}
		return moves[i].sig < moves[j].sig
	})

	var h holding
	balance := 0.0
	for _, mv := range moves {
		prev := balance
		balance += mv.delta

		switch {
		case prev <= dust && balance > dust:
			h.acquiredAt = mv.ts
		case prev > dust && balance <= dust:
			if mv.ts-h.acquiredAt <= paperhandWindowMs {
				h.paperhand = true
			}
		}
		if balance < 0 {
			balance = 0
		}
	}
	h.open = balance > dust
	return h
}

// BehaviorLabel classifies a paperhand ratio in percent.
func BehaviorLabel(paperhandRatio float64) string {
	switch {
	case paperhandRatio > 70:
		return BehaviorExtremelyWeak
	case paperhandRatio > 50:
		return BehaviorWeak
	case paperhandRatio > 30:
		return BehaviorMixed
	case paperhandRatio > 15:
		return BehaviorStrong
	default:
		return BehaviorDiamond
	}
}
