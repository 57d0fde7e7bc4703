// solflow-cli is the one-shot companion to the daemon: inspect
// balances, fetch quotes, execute a single swap, wait on a signature,
// or summarize the trade ledger.
//
// Exit codes: 0 success, 1 error, 2 usage, 3 no route, 4 risk denied.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/solflow/solflow/internal/audit"
	"github.com/solflow/solflow/internal/bus"
	"github.com/solflow/solflow/internal/config"
	"github.com/solflow/solflow/internal/jupiter"
	"github.com/solflow/solflow/internal/ledger"
	"github.com/solflow/solflow/internal/risk"
	"github.com/solflow/solflow/internal/solana"
	"github.com/solflow/solflow/internal/swap"
	"github.com/solflow/solflow/internal/wallet"
)

const (
	exitOK      = 0
	exitError   = 1
	exitUsage   = 2
	exitNoRoute = 3
	exitDenied  = 4
)

const usageText = `usage: solflow-cli [-config path] [-v] <command> [args]

commands:
  balance [address]   wallet SOL and token balances
  quote               fetch a swap quote (-in, -out, -amount)
  swap                execute one swap (-in, -out, -amount, [-dry-run])
  confirm <sig>       wait for a submitted signature to land
  trades              summarize the trade ledger
`

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "balance":
		return cmdBalance(ctx, cfg, args)
	case "quote":
		return cmdQuote(ctx, cfg, args)
	case "swap":
		return cmdSwap(ctx, cfg, args)
	case "confirm":
		return cmdConfirm(ctx, cfg, args)
	case "trades":
		return cmdTrades(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		return exitUsage
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// resolveMint accepts a well-known symbol (SOL, USDC, USDT, BONK) or a
// raw base58 mint address.
func resolveMint(s string) (solana.Pubkey, error) {
	if mint := solana.MintForSymbol(s); mint != "" {
		return mint, nil
	}
	if len(s) >= 32 && len(s) <= 44 {
		return solana.Pubkey(s), nil
	}
	return "", fmt.Errorf("unknown token %q: use a symbol or a base58 mint", s)
}

// amountToRaw converts a UI amount to the mint's smallest unit, looking
// up decimals on chain for anything that is not SOL.
func amountToRaw(ctx context.Context, rpc solana.RPCClient, mint solana.Pubkey, amount string) (uint64, error) {
	v, err := decimal.NewFromString(amount)
	if err != nil || !v.IsPositive() {
		return 0, fmt.Errorf("bad amount %q", amount)
	}

	decimals := uint8(9)
	if mint != solana.SOLMint {
		info, err := rpc.GetTokenInfo(ctx, mint)
		if err != nil {
			return 0, fmt.Errorf("token decimals lookup: %w", err)
		}
		decimals = info.Decimals
	}

	raw := v.Shift(int32(decimals)).IntPart()
	if raw <= 0 {
		return 0, fmt.Errorf("amount %s is below one raw unit", amount)
	}
	return uint64(raw), nil
}

// ---------------------------------------------------------------------------
// balance
// ---------------------------------------------------------------------------

func cmdBalance(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	var owner solana.Pubkey
	if fs.NArg() > 0 {
		owner = solana.Pubkey(fs.Arg(0))
	} else {
		signer, err := wallet.Load(cfg.Wallet.KeyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "no address given and %v\n", err)
			return exitUsage
		}
		owner = signer.PublicKey()
	}

	rpc := solana.NewLiveRPCClient(cfg.RPC.Client())
	defer rpc.Close()

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	bal, err := rpc.GetWalletBalance(callCtx, owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "balance: %v\n", err)
		return exitError
	}

	printJSON(map[string]any{"address": owner, "balance": bal})
	return exitOK
}

// ---------------------------------------------------------------------------
// quote
// ---------------------------------------------------------------------------

func cmdQuote(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	in := fs.String("in", "SOL", "input token symbol or mint")
	out := fs.String("out", "", "output token symbol or mint")
	amount := fs.String("amount", "", "input amount in UI units")
	slippage := fs.Int("slippage-bps", 0, "slippage tolerance in basis points")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *out == "" || *amount == "" {
		fmt.Fprintln(os.Stderr, "quote: -out and -amount are required")
		return exitUsage
	}

	inMint, err := resolveMint(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quote: %v\n", err)
		return exitUsage
	}
	outMint, err := resolveMint(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quote: %v\n", err)
		return exitUsage
	}
	return runQuote(ctx, cfg, inMint, outMint, *amount, *slippage)
}

func runQuote(ctx context.Context, cfg *config.Config, inMint, outMint solana.Pubkey, amount string, slippageBps int) int {
	rpc := solana.NewLiveRPCClient(cfg.RPC.Client())
	defer rpc.Close()

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	raw, err := amountToRaw(callCtx, rpc, inMint, amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quote: %v\n", err)
		return exitUsage
	}
	if slippageBps == 0 {
		slippageBps = cfg.Executor.DefaultSlippageBps
	}

	jup := jupiter.NewClient(cfg.Jupiter.Client(), nil)
	quote, err := jup.GetQuote(callCtx, jupiter.QuoteParams{
		InputMint:   inMint,
		OutputMint:  outMint,
		AmountRaw:   raw,
		SlippageBps: slippageBps,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "quote: %v\n", err)
		if errors.Is(err, jupiter.ErrNoRoute) {
			return exitNoRoute
		}
		return exitError
	}

	printJSON(map[string]any{
		"input_mint":       inMint,
		"output_mint":      outMint,
		"in_amount":        quote.InAmount,
		"out_amount":       quote.OutAmount,
		"price_impact_pct": quote.PriceImpactPct,
		"slippage_bps":     slippageBps,
		"route":            quote.RouteLabels(),
	})
	return exitOK
}

// ---------------------------------------------------------------------------
// swap
// ---------------------------------------------------------------------------

func cmdSwap(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("swap", flag.ContinueOnError)
	in := fs.String("in", "SOL", "input token symbol or mint")
	out := fs.String("out", "", "output token symbol or mint")
	amount := fs.String("amount", "", "input amount in UI units")
	slippage := fs.Int("slippage-bps", 0, "slippage tolerance in basis points")
	notional := fs.Float64("notional-sol", 0, "SOL notional for risk accounting (non-SOL input defaults to a price lookup)")
	dryRun := fs.Bool("dry-run", false, "quote and build but never submit")
	urgent := fs.Bool("urgent", false, "use the high priority fee tier")
	priorityFee := fs.Uint64("priority-fee", 0, "priority fee in lamports (0 = automatic)")
	intent := fs.String("intent", "", "idempotency key; reuse to safely retry")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *out == "" || *amount == "" {
		fmt.Fprintln(os.Stderr, "swap: -out and -amount are required")
		return exitUsage
	}

	inMint, err := resolveMint(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swap: %v\n", err)
		return exitUsage
	}
	outMint, err := resolveMint(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swap: %v\n", err)
		return exitUsage
	}
	rpc := solana.NewLiveRPCClient(cfg.RPC.Client())
	defer rpc.Close()

	var signer wallet.Signer
	local, err := wallet.Load(cfg.Wallet.KeyFile)
	switch {
	case err == nil:
		signer = local
	case *dryRun || cfg.General.DryRun:
		signer = wallet.NewStubSigner()
	default:
		fmt.Fprintf(os.Stderr, "swap: %v\n", err)
		return exitError
	}

	producer := bus.NewStubProducer()
	ledgerW := ledger.NewWriter(cfg.State.LedgerPath)
	defer ledgerW.Close()

	jup := jupiter.NewClient(cfg.Jupiter.Client(), nil)

	executor := swap.NewExecutor(swap.Deps{
		RPC:       rpc,
		Jupiter:   jup,
		Signer:    signer,
		Risk:      risk.New(cfg.Risk.Engine()),
		Confirmer: solana.NewConfirmer(rpc, cfg.Confirm.Confirmer()),
		Producer:  producer,
		Trail:     audit.NewTrail(producer, 256),
		Ledger:    ledgerW,
	}, cfg.Executor.Executor("solflow-cli", *dryRun || cfg.General.DryRun))

	callCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	raw, err := amountToRaw(callCtx, rpc, inMint, *amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swap: %v\n", err)
		return exitUsage
	}

	// The risk engine needs a SOL-denominated spend. SOL input is
	// exact; anything else is priced through the aggregator unless the
	// operator pinned a notional.
	notionalSOL := decimal.NewFromFloat(*notional)
	if inMint != solana.SOLMint && !notionalSOL.IsPositive() && !*dryRun {
		notionalSOL, err = deriveNotionalSOL(callCtx, jup, rpc, inMint, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "swap: notional lookup failed (%v); pass -notional-sol explicitly\n", err)
			return exitError
		}
		fmt.Fprintf(os.Stderr, "swap: notional priced at %s SOL\n", notionalSOL.StringFixed(6))
	}

	intentID := *intent
	if intentID == "" {
		intentID = "cli-" + uuid.New().String()[:8]
	}

	outcome, err := executor.Execute(callCtx, swap.Request{
		IntentID:            intentID,
		InputMint:           inMint,
		OutputMint:          outMint,
		AmountRaw:           raw,
		NotionalSOL:         notionalSOL,
		SlippageBps:         *slippage,
		PriorityFeeLamports: *priorityFee,
		DryRun:              *dryRun,
		Urgent:              *urgent,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "swap: %v\n", err)
		if se, ok := swap.AsError(err); ok {
			switch se.Kind {
			case swap.KindNoRoute:
				return exitNoRoute
			case swap.KindRiskDenied:
				return exitDenied
			}
			if se.Signature != "" {
				fmt.Fprintf(os.Stderr, "swap: outcome unknown, check signature %s before retrying\n", se.Signature)
			} else if se.Retryable() {
				fmt.Fprintf(os.Stderr, "swap: safe to retry with -intent %s\n", intentID)
			}
		}
		return exitError
	}

	printJSON(outcome)
	return exitOK
}

// deriveNotionalSOL prices a raw token amount in SOL: both legs come
// from the Jupiter price API (quoted in USDC), decimals from the mint.
func deriveNotionalSOL(ctx context.Context, jup *jupiter.Client, rpc solana.RPCClient, mint solana.Pubkey, amountRaw uint64) (decimal.Decimal, error) {
	tokenPrice, err := jup.GetPrice(ctx, mint)
	if err != nil {
		return decimal.Zero, err
	}
	solPrice, err := jup.GetPrice(ctx, solana.SOLMint)
	if err != nil {
		return decimal.Zero, err
	}
	info, err := rpc.GetTokenInfo(ctx, mint)
	if err != nil {
		return decimal.Zero, err
	}
	ui := decimal.NewFromUint64(amountRaw).Shift(-int32(info.Decimals))
	return ui.Mul(tokenPrice).Div(solPrice), nil
}

// ---------------------------------------------------------------------------
// confirm
// ---------------------------------------------------------------------------

func cmdConfirm(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("confirm", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "confirm: exactly one signature argument required")
		return exitUsage
	}

	rpc := solana.NewLiveRPCClient(cfg.RPC.Client())
	defer rpc.Close()

	confirmer := solana.NewConfirmer(rpc, cfg.Confirm.Confirmer())
	result, err := confirmer.Wait(ctx, solana.Signature(fs.Arg(0)))
	if err != nil {
		if errors.Is(err, solana.ErrConfirmTimeout) {
			fmt.Fprintln(os.Stderr, "confirm: timed out, the transaction may still land")
		} else {
			fmt.Fprintf(os.Stderr, "confirm: %v\n", err)
		}
		return exitError
	}

	printJSON(result)
	if result.Status.Failed() {
		return exitError
	}
	return exitOK
}

// ---------------------------------------------------------------------------
// trades
// ---------------------------------------------------------------------------

func cmdTrades(cfg *config.Config) int {
	summary, err := ledger.Summarize(cfg.State.LedgerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trades: %v\n", err)
		return exitError
	}
	printJSON(summary)
	return exitOK
}
