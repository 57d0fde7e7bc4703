package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/solflow/solflow/internal/jupiter"
	"github.com/solflow/solflow/internal/risk"
	"github.com/solflow/solflow/internal/solana"
	"github.com/solflow/solflow/internal/swap"
)

// Config is the root configuration structure for SOLFLOW. Durations
// appear as suffixed integers (timeout_s, poll_interval_ms) because
// the YAML layer has no native duration type; the accessor methods
// convert into the domain configs.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	RPC        RPCConfig        `yaml:"rpc"`
	Confirm    ConfirmConfig    `yaml:"confirm"`
	Jupiter    JupiterConfig    `yaml:"jupiter"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Risk       RiskConfig       `yaml:"risk"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Strategies StrategiesConfig `yaml:"strategies"`
	State      StateConfig      `yaml:"state"`
	Server     ServerConfig     `yaml:"server"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	DryRun      bool   `yaml:"dry_run"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type RPCConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	WSEndpoint   string  `yaml:"ws_endpoint"`
	TimeoutS     int     `yaml:"timeout_s"`
	MaxRetries   int     `yaml:"max_retries"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
}

// Client converts into the RPC layer's config.
func (r RPCConfig) Client() solana.RPCConfig {
	return solana.RPCConfig{
		Endpoint:     r.Endpoint,
		WSEndpoint:   r.WSEndpoint,
		Timeout:      time.Duration(r.TimeoutS) * time.Second,
		MaxRetries:   r.MaxRetries,
		RateLimitRPS: r.RateLimitRPS,
	}
}

type ConfirmConfig struct {
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	MaxWaitS       int    `yaml:"max_wait_s"`
	Commitment     string `yaml:"commitment"` // confirmed|finalized
}

func (c ConfirmConfig) Confirmer() solana.ConfirmConfig {
	return solana.ConfirmConfig{
		PollInterval: time.Duration(c.PollIntervalMs) * time.Millisecond,
		MaxWait:      time.Duration(c.MaxWaitS) * time.Second,
		Commitment:   c.Commitment,
	}
}

type JupiterConfig struct {
	QuoteURL       string `yaml:"quote_url"`
	SwapURL        string `yaml:"swap_url"`
	PriceURL       string `yaml:"price_url"`
	TimeoutS       int    `yaml:"timeout_s"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
}

func (j JupiterConfig) Client() jupiter.Config {
	return jupiter.Config{
		QuoteURL:     j.QuoteURL,
		SwapURL:      j.SwapURL,
		PriceURL:     j.PriceURL,
		Timeout:      time.Duration(j.TimeoutS) * time.Second,
		MaxRetries:   j.MaxRetries,
		RetryBackoff: time.Duration(j.RetryBackoffMs) * time.Millisecond,
	}
}

// WalletConfig locates the signing key. The key material itself is
// never part of the YAML; it comes from SOLFLOW_WALLET_KEY or KeyFile.
type WalletConfig struct {
	KeyFile string `yaml:"key_file"`
}

// RiskConfig mirrors risk.Config with YAML-friendly numeric types.
type RiskConfig struct {
	MaxNotionalSOL   float64 `yaml:"max_notional_sol"` // per swap
	MaxDailySpendSOL float64 `yaml:"max_daily_spend_sol"`
	MaxDailyLossSOL  float64 `yaml:"max_daily_loss_sol"`
	MaxInFlight      int     `yaml:"max_in_flight"`
	MaxSlippageBps   int     `yaml:"max_slippage_bps"`
}

// Engine converts the YAML limits into the risk engine's config.
func (r RiskConfig) Engine() risk.Config {
	return risk.Config{
		MaxNotionalSOL:   decimal.NewFromFloat(r.MaxNotionalSOL),
		MaxDailySpendSOL: decimal.NewFromFloat(r.MaxDailySpendSOL),
		MaxDailyLossSOL:  decimal.NewFromFloat(r.MaxDailyLossSOL),
		MaxInFlight:      r.MaxInFlight,
		MaxSlippageBps:   r.MaxSlippageBps,
	}
}

type ExecutorConfig struct {
	DefaultSlippageBps int `yaml:"default_slippage_bps"`
	QuoteTimeoutS      int `yaml:"quote_timeout_s"`
	SubmitTimeoutS     int `yaml:"submit_timeout_s"`
	CompletedRetention int `yaml:"completed_retention"`
}

func (e ExecutorConfig) Executor(producer string, dryRun bool) swap.Config {
	return swap.Config{
		DefaultSlippageBps: e.DefaultSlippageBps,
		QuoteTimeout:       time.Duration(e.QuoteTimeoutS) * time.Second,
		SubmitTimeout:      time.Duration(e.SubmitTimeoutS) * time.Second,
		CompletedRetention: e.CompletedRetention,
		DryRun:             dryRun,
		Producer:           producer,
	}
}

type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client_id"`
}

type StrategiesConfig struct {
	Dir string `yaml:"dir"`
}

// StateConfig holds the durable file paths.
type StateConfig struct {
	LedgerPath     string `yaml:"ledger_path"`
	CheckpointPath string `yaml:"checkpoint_path"`
	SaveIntervalS  int    `yaml:"save_interval_s"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads a YAML configuration file, expanding ${VAR} references
// from the environment. A .env file next to the process, if present,
// is loaded first so local development does not need exported vars.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "solflow-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	rpcDef := solana.DefaultRPCConfig()
	if cfg.RPC.Endpoint == "" {
		cfg.RPC.Endpoint = rpcDef.Endpoint
	}
	if cfg.RPC.WSEndpoint == "" {
		cfg.RPC.WSEndpoint = rpcDef.WSEndpoint
	}
	if cfg.RPC.TimeoutS == 0 {
		cfg.RPC.TimeoutS = int(rpcDef.Timeout / time.Second)
	}
	if cfg.RPC.MaxRetries == 0 {
		cfg.RPC.MaxRetries = rpcDef.MaxRetries
	}
	if cfg.RPC.RateLimitRPS == 0 {
		cfg.RPC.RateLimitRPS = rpcDef.RateLimitRPS
	}

	confirmDef := solana.DefaultConfirmConfig()
	if cfg.Confirm.PollIntervalMs == 0 {
		cfg.Confirm.PollIntervalMs = int(confirmDef.PollInterval / time.Millisecond)
	}
	if cfg.Confirm.MaxWaitS == 0 {
		cfg.Confirm.MaxWaitS = int(confirmDef.MaxWait / time.Second)
	}
	if cfg.Confirm.Commitment == "" {
		cfg.Confirm.Commitment = confirmDef.Commitment
	}

	jupDef := jupiter.DefaultConfig()
	if cfg.Jupiter.QuoteURL == "" {
		cfg.Jupiter.QuoteURL = jupDef.QuoteURL
	}
	if cfg.Jupiter.SwapURL == "" {
		cfg.Jupiter.SwapURL = jupDef.SwapURL
	}
	if cfg.Jupiter.PriceURL == "" {
		cfg.Jupiter.PriceURL = jupDef.PriceURL
	}
	if cfg.Jupiter.TimeoutS == 0 {
		cfg.Jupiter.TimeoutS = int(jupDef.Timeout / time.Second)
	}
	if cfg.Jupiter.MaxRetries == 0 {
		cfg.Jupiter.MaxRetries = jupDef.MaxRetries
	}
	if cfg.Jupiter.RetryBackoffMs == 0 {
		cfg.Jupiter.RetryBackoffMs = int(jupDef.RetryBackoff / time.Millisecond)
	}

	riskDef := risk.DefaultConfig()
	if cfg.Risk.MaxNotionalSOL == 0 {
		cfg.Risk.MaxNotionalSOL = riskDef.MaxNotionalSOL.InexactFloat64()
	}
	if cfg.Risk.MaxDailySpendSOL == 0 {
		cfg.Risk.MaxDailySpendSOL = riskDef.MaxDailySpendSOL.InexactFloat64()
	}
	if cfg.Risk.MaxDailyLossSOL == 0 {
		cfg.Risk.MaxDailyLossSOL = riskDef.MaxDailyLossSOL.InexactFloat64()
	}
	if cfg.Risk.MaxInFlight == 0 {
		cfg.Risk.MaxInFlight = riskDef.MaxInFlight
	}
	if cfg.Risk.MaxSlippageBps == 0 {
		cfg.Risk.MaxSlippageBps = riskDef.MaxSlippageBps
	}

	execDef := swap.DefaultConfig()
	if cfg.Executor.DefaultSlippageBps == 0 {
		cfg.Executor.DefaultSlippageBps = execDef.DefaultSlippageBps
	}
	if cfg.Executor.QuoteTimeoutS == 0 {
		cfg.Executor.QuoteTimeoutS = int(execDef.QuoteTimeout / time.Second)
	}
	if cfg.Executor.SubmitTimeoutS == 0 {
		cfg.Executor.SubmitTimeoutS = int(execDef.SubmitTimeout / time.Second)
	}
	if cfg.Executor.CompletedRetention == 0 {
		cfg.Executor.CompletedRetention = execDef.CompletedRetention
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "solflow-producer"
	}

	if cfg.State.SaveIntervalS == 0 {
		cfg.State.SaveIntervalS = 30
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1:8710"
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	switch c.General.Environment {
	case "production", "staging", "development":
	default:
		return fmt.Errorf("config: unknown environment %q", c.General.Environment)
	}
	switch c.General.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.General.LogFormat)
	}

	if !strings.HasPrefix(c.RPC.Endpoint, "http://") && !strings.HasPrefix(c.RPC.Endpoint, "https://") {
		return fmt.Errorf("config: rpc endpoint must be http(s): %q", c.RPC.Endpoint)
	}
	if c.RPC.WSEndpoint != "" &&
		!strings.HasPrefix(c.RPC.WSEndpoint, "ws://") && !strings.HasPrefix(c.RPC.WSEndpoint, "wss://") {
		return fmt.Errorf("config: rpc ws_endpoint must be ws(s): %q", c.RPC.WSEndpoint)
	}

	switch c.Confirm.Commitment {
	case "confirmed", "finalized":
	default:
		return fmt.Errorf("config: unknown confirm commitment %q", c.Confirm.Commitment)
	}

	// Key material in the config file would end up in backups and
	// shell history. Only a file path or the env var is accepted.
	if looksLikeKeyMaterial(c.Wallet.KeyFile) {
		return fmt.Errorf("config: wallet.key_file holds key material, expected a file path")
	}

	if c.Risk.MaxNotionalSOL < 0 || c.Risk.MaxDailySpendSOL < 0 || c.Risk.MaxDailyLossSOL < 0 {
		return fmt.Errorf("config: risk limits must be non-negative")
	}
	if c.Risk.MaxSlippageBps < 0 || c.Risk.MaxSlippageBps > 10000 {
		return fmt.Errorf("config: risk max_slippage_bps %d out of range", c.Risk.MaxSlippageBps)
	}
	if c.Executor.DefaultSlippageBps <= 0 || c.Executor.DefaultSlippageBps > 10000 {
		return fmt.Errorf("config: executor default_slippage_bps %d out of range", c.Executor.DefaultSlippageBps)
	}
	return nil
}

// looksLikeKeyMaterial flags values that are plausibly a raw private
// key rather than a path: JSON byte arrays and long hex or base58
// blobs without path separators.
func looksLikeKeyMaterial(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || strings.ContainsAny(v, "/\\") {
		return false
	}
	if strings.HasPrefix(v, "[") {
		return true
	}
	return len(v) >= 64
}
