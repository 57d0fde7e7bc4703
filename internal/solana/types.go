package solana

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenInfo describes a Solana SPL token mint.
type TokenInfo struct {
	Mint            Pubkey          `json:"mint"`
	Symbol          string          `json:"symbol,omitempty"`
	Decimals        uint8           `json:"decimals"`
	Supply          decimal.Decimal `json:"supply"`
	MintAuthority   Pubkey          `json:"mint_authority"`   // empty = renounced
	FreezeAuthority Pubkey          `json:"freeze_authority"` // empty = renounced
}

// WalletBalance represents the balance of a wallet.
type WalletBalance struct {
	SOL      decimal.Decimal            `json:"sol"`
	Lamports uint64                     `json:"lamports"`
	Tokens   map[Pubkey]decimal.Decimal `json:"tokens"` // mint -> UI amount
}

// ---------------------------------------------------------------------------
// Transaction types
// ---------------------------------------------------------------------------

// TxStatus is the confirmation status of a submitted transaction.
type TxStatus struct {
	Signature Signature `json:"signature"`
	// Status is one of pending|processed|confirmed|finalized|failed.
	Status string `json:"status"`
	Slot   uint64 `json:"slot,omitempty"`
	// ErrString is a flattened rendering of the on-chain error object,
	// set when Status is failed. The raw JSON shape varies by failure
	// mode, so callers classify against this string.
	ErrString string `json:"err_string,omitempty"`
}

// Confirmed reports whether the transaction reached at least the
// confirmed commitment level.
func (s TxStatus) Confirmed() bool {
	return s.Status == "confirmed" || s.Status == "finalized"
}

// Failed reports whether the transaction landed with an error.
func (s TxStatus) Failed() bool {
	return s.Status == "failed"
}

// Blockhash is a recent blockhash with its validity horizon.
type Blockhash struct {
	Hash                 string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// ConfirmResult is the terminal result of waiting on a signature.
type ConfirmResult struct {
	Status    TxStatus      `json:"status"`
	Elapsed   time.Duration `json:"elapsed"`
	PollCount int           `json:"poll_count"`
}

// LamportsToSOL converts raw lamports to a decimal SOL amount.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromUint64(lamports).Div(decimal.NewFromInt(LamportsPerSOL))
}

// SOLToLamports converts a decimal SOL amount to raw lamports,
// truncating sub-lamport precision.
func SOLToLamports(sol decimal.Decimal) uint64 {
	v := sol.Mul(decimal.NewFromInt(LamportsPerSOL)).IntPart()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// Well-known mints. These are the tokens the CLI accepts by symbol;
// anything else must be addressed by raw mint.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint Pubkey = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	BONKMint Pubkey = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

// MintForSymbol resolves a well-known symbol to its mint.
// Returns empty for unknown symbols.
func MintForSymbol(symbol string) Pubkey {
	switch symbol {
	case "SOL", "sol":
		return SOLMint
	case "USDC", "usdc":
		return USDCMint
	case "USDT", "usdt":
		return USDTMint
	case "BONK", "bonk":
		return BONKMint
	}
	return ""
}
