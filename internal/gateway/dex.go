package gateway

// DEX program IDs whose presence marks a token movement as a swap.
const (
	// RaydiumAMMV4 is Raydium AMM v4 program ID.
	RaydiumAMMV4 = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	// RaydiumCLMM is Raydium concentrated liquidity program ID.
	RaydiumCLMM = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"
	// PumpFun is Pump.fun bonding curve program ID.
	PumpFun = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	// JupiterV6 is Jupiter aggregator v6 program ID.
	JupiterV6 = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	// OrcaWhirlpool is Orca Whirlpool program ID.
	OrcaWhirlpool = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
)

var dexPrograms = map[string]struct{}{
	RaydiumAMMV4:  {},
	RaydiumCLMM:   {},
	PumpFun:       {},
	JupiterV6:     {},
	OrcaWhirlpool: {},
}

func involvesDEX(accountKeys []string) bool {
	for _, k := range accountKeys {
		if _, ok := dexPrograms[k]; ok {
			return true
		}
	}
	return false
}
