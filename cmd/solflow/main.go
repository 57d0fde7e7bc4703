// SOLFLOW daemon - automated token swap execution on Solana.
//
// Wires the swap executor to the risk engine, the strategy runner, the
// event bus and the control plane, then runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/solflow/solflow/internal/audit"
	"github.com/solflow/solflow/internal/bus"
	"github.com/solflow/solflow/internal/config"
	"github.com/solflow/solflow/internal/jupiter"
	"github.com/solflow/solflow/internal/ledger"
	"github.com/solflow/solflow/internal/observability"
	"github.com/solflow/solflow/internal/risk"
	"github.com/solflow/solflow/internal/solana"
	"github.com/solflow/solflow/internal/strategy"
	"github.com/solflow/solflow/internal/swap"
	"github.com/solflow/solflow/internal/wallet"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	stubMode := flag.Bool("stub", false, "run with stubbed RPC and aggregator clients (no network)")
	dryRunFlag := flag.Bool("dry-run", false, "quote and build but never submit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("solflow %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.General)

	dryRun := *dryRunFlag || cfg.General.DryRun

	log.Info().
		Str("version", version).
		Str("instance", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("stub", *stubMode).
		Bool("dry_run", dryRun).
		Msg("SOLFLOW starting")

	// -----------------------------------------------------------------
	// Solana RPC
	// -----------------------------------------------------------------

	var rpc solana.RPCClient
	var liveRPC *solana.LiveRPCClient
	if *stubMode {
		stub := solana.NewStubRPCClient()
		stub.SetBalance(solana.WalletBalance{
			SOL:      decimal.NewFromInt(10),
			Lamports: 10 * solana.LamportsPerSOL,
		})
		rpc = stub
		log.Warn().Msg("running with STUB rpc client - no transactions reach the chain")
	} else {
		liveRPC = solana.NewLiveRPCClient(cfg.RPC.Client())
		defer liveRPC.Close()

		probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := liveRPC.Health(probeCtx); err != nil {
			log.Warn().Err(err).Msg("rpc health probe failed, continuing anyway")
		} else {
			log.Info().Str("endpoint", cfg.RPC.Endpoint).Msg("rpc endpoint healthy")
		}
		probeCancel()
		rpc = liveRPC
	}

	// -----------------------------------------------------------------
	// Wallet
	// -----------------------------------------------------------------

	var signer wallet.Signer
	if *stubMode {
		signer = wallet.NewStubSigner()
	} else {
		local, err := wallet.Load(cfg.Wallet.KeyFile)
		switch {
		case err == nil:
			signer = local
		case dryRun:
			log.Warn().Err(err).Msg("no wallet key, dry-run continues with a stub signer")
			signer = wallet.NewStubSigner()
		default:
			log.Fatal().Err(err).Msg("wallet key required for live execution")
		}
	}

	// -----------------------------------------------------------------
	// Jupiter aggregator
	// -----------------------------------------------------------------

	var jup jupiter.API
	var jupClient *jupiter.Client
	if *stubMode {
		jup = jupiter.NewStubClient()
		log.Warn().Msg("running with STUB aggregator client")
	} else {
		jupClient = jupiter.NewClient(cfg.Jupiter.Client(), nil)
		jup = jupClient
	}

	// -----------------------------------------------------------------
	// Event bus
	// -----------------------------------------------------------------

	var producer bus.Producer
	if cfg.Kafka.Enabled {
		kp, err := bus.NewProducer(cfg.Kafka.Brokers,
			bus.WithInstanceID(cfg.Kafka.ClientID),
			bus.WithSchemaVersion(version),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka producer init failed")
		}
		producer = kp
	} else {
		producer = bus.NewStubProducer()
		log.Info().Msg("event bus disabled, events stay in process")
	}

	// -----------------------------------------------------------------
	// Risk engine + durable state
	// -----------------------------------------------------------------

	riskEngine := risk.New(cfg.Risk.Engine())

	if ckpt, ok, err := ledger.LoadCheckpoint(cfg.State.CheckpointPath); err != nil {
		log.Warn().Err(err).Msg("checkpoint unreadable, starting with fresh counters")
	} else if ok {
		riskEngine.Restore(ckpt.Day, ckpt.DailySpentSOL, ckpt.DailyPnLSOL)
	}

	trail := audit.NewTrail(producer, 4096)
	ledgerW := ledger.NewWriter(cfg.State.LedgerPath)

	// -----------------------------------------------------------------
	// Confirmation + priority fees
	// -----------------------------------------------------------------

	confirmer := solana.NewConfirmer(rpc, cfg.Confirm.Confirmer())

	var wsConfirm *solana.WSConfirmer
	if !*stubMode && cfg.RPC.WSEndpoint != "" {
		wsConfirm = solana.NewWSConfirmer(solana.WSConfirmConfig{
			WSEndpoint: cfg.RPC.WSEndpoint,
		})
		confirmer.SetWS(wsConfirm)
	}

	var fees *solana.PriorityFeeEstimator
	if liveRPC != nil {
		fees = solana.NewPriorityFeeEstimator(liveRPC)
	}

	// -----------------------------------------------------------------
	// Executor + strategies
	// -----------------------------------------------------------------

	metrics := observability.NewMetrics()

	executor := swap.NewExecutor(swap.Deps{
		RPC:       rpc,
		Jupiter:   jup,
		Signer:    signer,
		Risk:      riskEngine,
		Confirmer: confirmer,
		Fees:      fees,
		Producer:  producer,
		Trail:     trail,
		Ledger:    ledgerW,
	}, cfg.Executor.Executor(cfg.General.InstanceID, dryRun))

	instrumented := &instrumentedExecutor{exec: executor, metrics: metrics}

	var runner *strategy.Runner
	if cfg.Strategies.Dir != "" {
		specs, err := strategy.LoadDir(cfg.Strategies.Dir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.Strategies.Dir).Msg("strategy load failed")
		}
		runner = strategy.NewRunner(instrumented, specs,
			strategy.WithBalanceSource(rpc, signer.PublicKey()))
	} else {
		log.Info().Msg("no strategy dir configured, daemon serves the control plane only")
	}

	// -----------------------------------------------------------------
	// Health monitoring
	// -----------------------------------------------------------------

	healthMon := observability.NewHealthMonitor(30 * time.Second)
	healthMon.Register("rpc", observability.RPCCheck(rpc))
	if liveRPC != nil {
		healthMon.Register("rpc_breaker", observability.BreakerCheck(func() bool {
			return liveRPC.Stats().CircuitOpen
		}))
	}
	if jupClient != nil {
		healthMon.Register("jupiter", observability.JupiterCheck(jupClient))
	}
	if wsConfirm != nil {
		ws := wsConfirm
		healthMon.Register("ws_confirm", func(ctx context.Context) observability.ComponentHealth {
			if ws.Connected() {
				return observability.ComponentHealth{Status: observability.StatusHealthy}
			}
			return observability.ComponentHealth{
				Status:  observability.StatusDegraded,
				Message: "socket down, confirmations fall back to polling",
			}
		})
	}

	// -----------------------------------------------------------------
	// Run
	// -----------------------------------------------------------------

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()
	var wg sync.WaitGroup

	if wsConfirm != nil {
		wsConfirm.Start(ctx)
	}
	if fees != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fees.Start(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMon.Start(ctx)
	}()

	if runner != nil {
		runner.Start(ctx)
	}

	d := &daemon{
		cfg:       cfg,
		startedAt: startedAt,
		rpc:       rpc,
		liveRPC:   liveRPC,
		jupClient: jupClient,
		wsConfirm: wsConfirm,
		fees:      fees,
		risk:      riskEngine,
		executor:  executor,
		runner:    runner,
		trail:     trail,
		ledger:    ledgerW,
		producer:  producer,
		health:    healthMon,
		metrics:   metrics,
		signer:    signer,
	}

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           d.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("control plane listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control plane server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.statsLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.checkpointLoop(ctx)
	}()

	log.Info().Msg("SOLFLOW running")
	<-ctx.Done()

	// -----------------------------------------------------------------
	// Shutdown
	// -----------------------------------------------------------------

	log.Info().Msg("shutdown signal received")

	if runner != nil {
		runner.Stop()
	}
	healthMon.Stop()
	if fees != nil {
		fees.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control plane shutdown error")
	}
	shutdownCancel()

	d.saveCheckpoint()

	if n := producer.Flush(5 * time.Second); n > 0 {
		log.Warn().Int("unflushed", n).Msg("events lost on shutdown")
	}
	producer.Close()

	if err := ledgerW.Close(); err != nil {
		log.Warn().Err(err).Msg("ledger close error")
	}

	wg.Wait()

	execStats := executor.Stats()
	log.Info().
		Int64("executed", execStats.Executed).
		Int64("failed", execStats.Failed).
		Int64("dry_runs", execStats.DryRuns).
		Dur("uptime", time.Since(startedAt)).
		Msg("SOLFLOW stopped")
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

func setupLogging(cfg config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}

	log.Logger = log.With().
		Str("service", "solflow").
		Str("instance", cfg.InstanceID).
		Logger()
}

// ---------------------------------------------------------------------------
// Metrics instrumentation
// ---------------------------------------------------------------------------

// instrumentedExecutor wraps the swap executor with metric updates so
// the strategy runner and the control plane share one counting point.
type instrumentedExecutor struct {
	exec    *swap.Executor
	metrics *observability.Metrics
}

func (ie *instrumentedExecutor) Execute(ctx context.Context, req swap.Request) (*swap.Outcome, error) {
	outcome, err := ie.exec.Execute(ctx, req)
	switch {
	case err != nil:
		if se, ok := swap.AsError(err); ok && se.Kind == swap.KindRiskDenied {
			ie.metrics.SwapsDenied.Inc()
		} else {
			ie.metrics.SwapsFailed.Inc()
		}
	case outcome.DryRun:
		ie.metrics.DryRuns.Inc()
		ie.metrics.SwapLatency.Observe(float64(outcome.Elapsed.Milliseconds()))
	default:
		ie.metrics.SwapsConfirmed.Inc()
		ie.metrics.SwapLatency.Observe(float64(outcome.Elapsed.Milliseconds()))
	}
	return outcome, err
}

// ---------------------------------------------------------------------------
// Daemon state + periodic loops
// ---------------------------------------------------------------------------

type daemon struct {
	cfg       *config.Config
	startedAt time.Time

	rpc       solana.RPCClient
	liveRPC   *solana.LiveRPCClient
	jupClient *jupiter.Client
	wsConfirm *solana.WSConfirmer
	fees      *solana.PriorityFeeEstimator
	risk      *risk.Engine
	executor  *swap.Executor
	runner    *strategy.Runner
	trail     *audit.Trail
	ledger    *ledger.Writer
	producer  bus.Producer
	health    *observability.HealthMonitor
	metrics   *observability.Metrics
	signer    wallet.Signer

	// Deltas for counters fed from polled stats.
	prevRPC solana.RPCStats
}

// statsLoop logs a periodic summary, refreshes gauges and publishes the
// daemon heartbeat.
func (d *daemon) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := d.risk.Stats()
		execStats := d.executor.Stats()

		d.metrics.InFlight.Set(float64(snap.InFlight))
		d.metrics.DailySpentSOL.Set(snap.DailySpent.InexactFloat64())
		d.metrics.DailyPnLSOL.Set(snap.DailyPnL.InexactFloat64())

		if d.liveRPC != nil {
			cur := d.liveRPC.Stats()
			d.metrics.RPCRequests.Add(float64(cur.RequestCount - d.prevRPC.RequestCount))
			d.metrics.RPCErrors.Add(float64(cur.ErrorCount - d.prevRPC.ErrorCount))
			d.prevRPC = cur
		}

		balCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if bal, err := d.rpc.GetWalletBalance(balCtx, d.signer.PublicKey()); err == nil {
			d.metrics.WalletSOL.Set(bal.SOL.InexactFloat64())
		}
		cancel()

		ev := log.Info().
			Int64("executed", execStats.Executed).
			Int64("failed", execStats.Failed).
			Int64("dry_runs", execStats.DryRuns).
			Int("in_flight", snap.InFlight).
			Str("daily_spent_sol", snap.DailySpent.String()).
			Str("daily_pnl_sol", snap.DailyPnL.String()).
			Bool("frozen", snap.Frozen)
		if d.runner != nil {
			rs := d.runner.Stats()
			ev = ev.Int64("strategy_ticks", rs.Ticks).Int64("strategy_denied", rs.Denied)
		}
		ev.Msg("periodic stats")

		d.publishHeartbeat(ctx, snap, execStats)
	}
}

func (d *daemon) publishHeartbeat(ctx context.Context, snap risk.Snapshot, execStats swap.ExecutorStats) {
	hb := bus.Heartbeat{
		BaseEvent: bus.NewBaseEvent(d.cfg.General.InstanceID, version),
		Component: "solflow-daemon",
		Status:    string(d.health.Check(ctx).Status),
		Uptime:    time.Since(d.startedAt),
		Metrics: map[string]float64{
			"executed":        float64(execStats.Executed),
			"failed":          float64(execStats.Failed),
			"in_flight":       float64(snap.InFlight),
			"daily_spent_sol": snap.DailySpent.InexactFloat64(),
		},
	}
	if err := d.producer.PublishJSON(ctx, bus.TopicHeartbeat, d.cfg.General.InstanceID, hb); err != nil {
		log.Debug().Err(err).Msg("heartbeat publish failed")
	}
}

// checkpointLoop persists the risk counters so a restart on the same
// UTC day resumes budget accounting instead of resetting it.
func (d *daemon) checkpointLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.State.SaveIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.saveCheckpoint()
		}
	}
}

func (d *daemon) saveCheckpoint() {
	if d.cfg.State.CheckpointPath == "" {
		return
	}
	snap := d.risk.Stats()
	err := ledger.SaveCheckpoint(d.cfg.State.CheckpointPath, ledger.Checkpoint{
		Day:           snap.Day,
		DailySpentSOL: snap.DailySpent,
		DailyPnLSOL:   snap.DailyPnL,
	})
	if err != nil {
		log.Warn().Err(err).Msg("checkpoint save failed")
	}
}

// ---------------------------------------------------------------------------
// Control plane
// ---------------------------------------------------------------------------

func (d *daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", d.handleHealth)
	mux.Handle("/metrics", observability.NewPrometheusExporter(d.metrics.Registry()))
	mux.HandleFunc("/stats", d.handleStats)
	mux.HandleFunc("/trades", d.handleTrades)
	mux.HandleFunc("/swaps", d.handleSwapLookup)
	mux.HandleFunc("/audit", d.handleAudit)

	mux.HandleFunc("/control/pause", d.handlePause)
	mux.HandleFunc("/control/resume", d.handleResume)
	mux.HandleFunc("/control/kill", d.handleKill)
	mux.HandleFunc("/control/status", d.handleControlStatus)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (d *daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := d.health.Check(r.Context())
	status := http.StatusOK
	if health.Status == observability.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (d *daemon) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"version":   version,
		"instance":  d.cfg.General.InstanceID,
		"uptime_s":  int64(time.Since(d.startedAt).Seconds()),
		"risk":      d.risk.Stats(),
		"executor":  d.executor.Stats(),
		"ledger":    map[string]int64{"written": d.ledger.Written()},
		"audit_len": d.trail.Len(),
	}
	if d.runner != nil {
		stats["strategies"] = d.runner.Stats()
	}
	if d.liveRPC != nil {
		stats["rpc"] = d.liveRPC.Stats()
	}
	if d.jupClient != nil {
		stats["jupiter"] = d.jupClient.Stats()
	}
	if d.wsConfirm != nil {
		stats["ws_confirm"] = d.wsConfirm.Stats()
	}
	if d.fees != nil {
		stats["fees"] = d.fees.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (d *daemon) handleTrades(w http.ResponseWriter, r *http.Request) {
	summary, err := ledger.Summarize(d.cfg.State.LedgerPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (d *daemon) handleSwapLookup(w http.ResponseWriter, r *http.Request) {
	intentID := r.URL.Query().Get("intent_id")
	if intentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "intent_id query param required"})
		return
	}
	outcome, ok := d.executor.Lookup(intentID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown intent_id"})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (d *daemon) handleAudit(w http.ResponseWriter, r *http.Request) {
	if traceID := r.URL.Query().Get("trace_id"); traceID != "" {
		writeJSON(w, http.StatusOK, d.trail.Query(traceID))
		return
	}
	if intentID := r.URL.Query().Get("intent_id"); intentID != "" {
		writeJSON(w, http.StatusOK, d.trail.QueryIntent(intentID))
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "trace_id or intent_id query param required"})
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return false
	}
	return true
}

func (d *daemon) handlePause(w http.ResponseWriter, r *http.Request) {
	if !requirePOST(w, r) {
		return
	}
	d.risk.Freeze("operator pause")
	d.trail.RecordControl("pause", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (d *daemon) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requirePOST(w, r) {
		return
	}
	d.risk.Resume()
	d.trail.RecordControl("resume", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (d *daemon) handleKill(w http.ResponseWriter, r *http.Request) {
	if !requirePOST(w, r) {
		return
	}
	d.risk.Kill()
	d.trail.RecordControl("kill", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

func (d *daemon) handleControlStatus(w http.ResponseWriter, r *http.Request) {
	snap := d.risk.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"active": d.risk.IsActive(),
		"killed": snap.Killed,
		"frozen": snap.Frozen,
		"day":    snap.Day,
	})
}
