package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/solflow/solflow/internal/jupiter"
)

// ---------------------------------------------------------------------------
// Error taxonomy — every failure carries a kind and the stage it hit
// ---------------------------------------------------------------------------

// ErrDuplicateIntent means the intent ID is already being executed.
// Callers wait for the first execution instead of retrying.
var ErrDuplicateIntent = errors.New("swap: duplicate intent")

// Kind classifies a swap failure.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindRiskDenied        Kind = "RISK_DENIED"
	KindNoRoute           Kind = "NO_ROUTE"
	KindNetwork           Kind = "NETWORK"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindSlippageExceeded  Kind = "SLIPPAGE_EXCEEDED"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindRejected          Kind = "REJECTED"
	KindTimeout           Kind = "TIMEOUT"
	KindInternal          Kind = "INTERNAL"
)

// Stage identifies where in the pipeline a failure happened.
type Stage string

const (
	StageValidate Stage = "validate"
	StageRisk     Stage = "risk"
	StageQuote    Stage = "quote"
	StageBuild    Stage = "build"
	StageSign     Stage = "sign"
	StageSubmit   Stage = "submit"
	StageConfirm  Stage = "confirm"
	StageRecord   Stage = "record"
)

// Error is the typed swap failure. Kind drives retry decisions, Stage
// tells whether the transaction may have reached the chain.
type Error struct {
	Kind  Kind
	Stage Stage
	// Signature is set when the transaction was submitted before the
	// failure; such failures must never be blindly retried.
	Signature string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("swap: %s at %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("swap: %s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether re-executing the same intent is safe and
// potentially useful. Anything at or past submit is never retryable:
// the transaction may have landed even if we did not see it.
func (e *Error) Retryable() bool {
	if e.Stage == StageSubmit || e.Stage == StageConfirm || e.Signature != "" {
		return false
	}
	switch e.Kind {
	case KindNetwork, KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}

func newError(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// AsError extracts a *Error from any error chain.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// classifyQuoteErr maps Jupiter client errors onto the taxonomy.
func classifyQuoteErr(stage Stage, err error) *Error {
	switch {
	case errors.Is(err, jupiter.ErrNoRoute):
		return newError(KindNoRoute, stage, err)
	case errors.Is(err, jupiter.ErrRateLimited):
		return newError(KindRateLimited, stage, err)
	case errors.Is(err, jupiter.ErrCircuitOpen):
		return newError(KindNetwork, stage, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, stage, err)
	case errors.Is(err, context.Canceled):
		return newError(KindTimeout, stage, err)
	default:
		return newError(KindNetwork, stage, err)
	}
}

// classifyOnChainErr maps a flattened on-chain error string onto the
// taxonomy. Jupiter's slippage guard trips custom error 6001 (0x1771);
// the system program reports missing lamports as custom error 1.
func classifyOnChainErr(errString string) Kind {
	s := strings.ToLower(errString)
	switch {
	case strings.Contains(s, "0x1771"), strings.Contains(s, "6001"):
		return KindSlippageExceeded
	case strings.Contains(s, "insufficient lamports"),
		strings.Contains(s, "insufficient funds"),
		strings.Contains(s, `"custom":1}`),
		strings.Contains(s, "0x1}"):
		return KindInsufficientFunds
	default:
		return KindRejected
	}
}

// classifySendErr maps RPC sendTransaction failures. Preflight catches
// most problems before the transaction reaches the chain.
func classifySendErr(err error) *Error {
	s := strings.ToLower(err.Error())
	e := &Error{Stage: StageSubmit, Err: err}
	switch {
	case strings.Contains(s, "0x1771"), strings.Contains(s, "6001"):
		e.Kind = KindSlippageExceeded
	case strings.Contains(s, "insufficient lamports"), strings.Contains(s, "insufficient funds"):
		e.Kind = KindInsufficientFunds
	case strings.Contains(s, "blockhash not found"):
		e.Kind = KindRejected
	case strings.Contains(s, "429"), strings.Contains(s, "rate limited"):
		e.Kind = KindRateLimited
	default:
		e.Kind = KindNetwork
	}
	return e
}
