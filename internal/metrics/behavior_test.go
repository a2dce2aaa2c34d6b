package metrics

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"solana-token-analytics/internal/domain"
)

func TestBehavior_PaperhandScenario(t *testing.T) {
	e := testEngine()
	start := testNow.Add(-24 * time.Hour)

	records := []domain.TransactionRecord{
		{Signature: "m1", Receiver: "alice", Amount: 100, Type: domain.TxMint, Timestamp: start.UnixMilli()},
		trade("x1", "alice", "carol", 100, start.Add(2*time.Hour)),
	}

	m := e.Behavior(history(records...), suppliedToken, testNow)

	if m.ActiveWallets != 2 {
		t.Fatalf("expected 2 active wallets, got %d", m.ActiveWallets)
	}
	if m.PaperhandWallets != 1 {
		t.Errorf("expected alice classified as paperhand, got %d paperhands", m.PaperhandWallets)
	}
	if m.PaperhandRatio == nil || !approx(*m.PaperhandRatio, 50) {
		t.Errorf("expected paperhand ratio 50, got %v", m.PaperhandRatio)
	}
	if m.Behavior != BehaviorMixed {
		t.Errorf("expected %s, got %s", BehaviorMixed, m.Behavior)
	}
	if m.Quality != domain.QualityOK {
		t.Errorf("expected quality ok, got %s", m.Quality)
	}
}

func TestBehavior_HolderThroughWindowIsNotPaperhand(t *testing.T) {
	e := testEngine()
	start := testNow.Add(-24 * time.Hour)

	records := []domain.TransactionRecord{
		{Signature: "m1", Receiver: "bob", Amount: 100, Type: domain.TxMint, Timestamp: start.UnixMilli()},
		trade("x1", "bob", "carol", 40, start.Add(2*time.Hour)),
	}

	m := e.Behavior(history(records...), suppliedToken, testNow)

	if m.PaperhandWallets != 0 {
		t.Errorf("expected no paperhands, got %d", m.PaperhandWallets)
	}
	if m.PaperhandRatio == nil || *m.PaperhandRatio != 0 {
		t.Errorf("expected a true zero ratio, got %v", m.PaperhandRatio)
	}
}

func TestBehavior_ExitAfterWindowIsNotPaperhand(t *testing.T) {
	e := testEngine()
	start := testNow.Add(-72 * time.Hour)

	records := []domain.TransactionRecord{
		{Signature: "m1", Receiver: "bob", Amount: 100, Type: domain.TxMint, Timestamp: start.UnixMilli()},
		trade("x1", "bob", "carol", 100, start.Add(30*time.Hour)),
	}

	m := e.Behavior(history(records...), suppliedToken, testNow)

	if m.PaperhandWallets != 0 {
		t.Errorf("expected no paperhands, got %d", m.PaperhandWallets)
	}
}

func TestBehavior_DiamondHands(t *testing.T) {
	e := testEngine()

	records := []domain.TransactionRecord{
		{Signature: "m1", Receiver: "old", Amount: 10, Type: domain.TxMint, Timestamp: testNow.Add(-7*24*time.Hour - time.Hour).UnixMilli()},
		{Signature: "m2", Receiver: "new", Amount: 10, Type: domain.TxMint, Timestamp: testNow.Add(-24 * time.Hour).UnixMilli()},
	}

	m := e.Behavior(history(records...), suppliedToken, testNow)

	if m.DiamondHandWallets != 1 {
		t.Errorf("expected 1 diamond hand, got %d", m.DiamondHandWallets)
	}
	if m.DiamondHandRatio == nil || !approx(*m.DiamondHandRatio, 50) {
		t.Errorf("expected diamond ratio 50, got %v", m.DiamondHandRatio)
	}
}

func TestBehavior_PreexistingPositionClamped(t *testing.T) {
	e := testEngine()

	// dave's acquisition predates the window; selling is not an observed exit.
	records := []domain.TransactionRecord{
		trade("x1", "dave", "erin", 50, testNow.Add(-time.Hour)),
	}

	m := e.Behavior(history(records...), suppliedToken, testNow)

	if m.PaperhandWallets != 0 {
		t.Errorf("expected no paperhands, got %d", m.PaperhandWallets)
	}
	if m.ActiveWallets != 2 {
		t.Errorf("expected 2 active wallets, got %d", m.ActiveWallets)
	}
}

func TestBehavior_SameTimestampOrderedBySignature(t *testing.T) {
	e := testEngine()
	at := testNow.Add(-time.Hour)

	// Buy and sell in one block: "a-buy" sorts before "b-sell".
	records := []domain.TransactionRecord{
		trade("b-sell", "frank", "pool", 10, at),
		trade("a-buy", "pool", "frank", 10, at),
	}

	m := e.Behavior(history(records...), suppliedToken, testNow)

	if m.PaperhandWallets != 1 {
		t.Errorf("expected frank as paperhand, got %d", m.PaperhandWallets)
	}
}

func TestBehavior_NoActiveWallets(t *testing.T) {
	e := testEngine()

	old := trade("x1", "a", "b", 1, testNow.Add(-30*24*time.Hour))
	m := e.Behavior(history(old), suppliedToken, testNow)

	if m.PaperhandRatio != nil || m.DiamondHandRatio != nil {
		t.Error("expected nil ratios with zero active wallets")
	}
	if m.Quality != domain.QualityInsufficient {
		t.Errorf("expected insufficient, got %s", m.Quality)
	}
}

func TestBehavior_BelowConfidenceThreshold(t *testing.T) {
	p := DefaultParams()
	p.ExcludeProgramOwned = false
	p.MinActiveWallets = 5
	e := NewEngine(p)

	m := e.Behavior(history(trade("x1", "a", "b", 1, testNow.Add(-time.Hour))), suppliedToken, testNow)

	if m.PaperhandRatio == nil {
		t.Error("expected partial value below threshold")
	}
	if m.Quality != domain.QualityInsufficient {
		t.Errorf("expected insufficient, got %s", m.Quality)
	}
}

func TestBehavior_ExcludesProgramOwned(t *testing.T) {
	e := NewEngine(DefaultParams())

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	wallet := base58.Encode(pub)
	offCurve := make([]byte, 32)
	for i := range offCurve {
		offCurve[i] = 0xff
	}
	program := base58.Encode(offCurve)

	m := e.Behavior(history(trade("x1", program, wallet, 5, testNow.Add(-time.Hour))), suppliedToken, testNow)

	if m.ActiveWallets != 1 {
		t.Errorf("expected only the on-curve wallet, got %d active", m.ActiveWallets)
	}
}

func TestBehavior_ZeroSupplyHasNullRatios(t *testing.T) {
	e := testEngine()
	at := testNow.Add(-time.Hour)
	records := []domain.TransactionRecord{
		trade("a-buy", "pool", "frank", 10, at),
		trade("b-sell", "frank", "pool", 10, at),
	}

	for _, token := range []*domain.Token{nil, {Address: "mint", Supply: 0}} {
		m := e.Behavior(history(records...), token, testNow)
		if m.PaperhandRatio != nil || m.DiamondHandRatio != nil {
			t.Errorf("expected nil ratios without supply, got %v / %v", m.PaperhandRatio, m.DiamondHandRatio)
		}
		if m.Quality != domain.QualityInsufficient {
			t.Errorf("expected insufficient, got %s", m.Quality)
		}
		if m.ActiveWallets != 2 || m.TransactionsAnalyzed != 2 {
			t.Errorf("expected counts to be reported, got %d wallets, %d txs", m.ActiveWallets, m.TransactionsAnalyzed)
		}
	}
}

func TestBehavior_IncompleteHistory(t *testing.T) {
	e := testEngine()
	start := testNow.Add(-24 * time.Hour)
	h := history(
		domain.TransactionRecord{Signature: "m1", Receiver: "alice", Amount: 100, Type: domain.TxMint, Timestamp: start.UnixMilli()},
		trade("x1", "alice", "carol", 100, start.Add(2*time.Hour)),
	)
	h.Skipped = 1

	m := e.Behavior(h, suppliedToken, testNow)

	if m.PaperhandRatio == nil {
		t.Fatal("expected a partial ratio")
	}
	if !m.Incomplete {
		t.Error("expected incomplete flag")
	}
	if m.Quality != domain.QualityInsufficient {
		t.Errorf("expected insufficient, got %s", m.Quality)
	}
}

func TestBehaviorLabel(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{80, BehaviorExtremelyWeak},
		{60, BehaviorWeak},
		{40, BehaviorMixed},
		{20, BehaviorStrong},
		{15, BehaviorDiamond},
		{0, BehaviorDiamond},
	}
	for _, tt := range tests {
		if got := BehaviorLabel(tt.ratio); got != tt.want {
			t.Errorf("BehaviorLabel(%v) = %s, want %s", tt.ratio, got, tt.want)
		}
	}
}
