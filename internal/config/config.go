package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the api binary needs. Values come from an
// optional config.yaml with environment-variable overrides (HALAXA_DB_SOURCE,
// HALAXA_POLYGON_RPC_URL, ...).
type Config struct {
	DBSource string
	Port     string
	Env      string

	PolygonRPCURL string
	PolygonUSDC   string

	SolanaRPCURL string
	SolanaUSDC   string

	ToleranceUSDC  float64
	Window         time.Duration
	SignatureLimit int
	DetailWorkers  int
	RPCTimeout     time.Duration

	PollerEnabled  bool
	PollerInterval time.Duration
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("halaxa")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("polygon.usdc_contract", "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	v.SetDefault("solana.usdc_mint", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	v.SetDefault("reconcile.tolerance_usdc", 0.5)
	v.SetDefault("reconcile.window_minutes", 30)
	v.SetDefault("reconcile.signature_limit", 100)
	v.SetDefault("reconcile.detail_workers", 8)
	v.SetDefault("reconcile.rpc_timeout_seconds", 15)
	v.SetDefault("poller.enabled", false)
	v.SetDefault("poller.interval_seconds", 60)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env vars alone are a valid setup.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DBSource:       v.GetString("db.source"),
		Port:           v.GetString("server.port"),
		Env:            v.GetString("server.env"),
		PolygonRPCURL:  v.GetString("polygon.rpc_url"),
		PolygonUSDC:    v.GetString("polygon.usdc_contract"),
		SolanaRPCURL:   v.GetString("solana.rpc_url"),
		SolanaUSDC:     v.GetString("solana.usdc_mint"),
		ToleranceUSDC:  v.GetFloat64("reconcile.tolerance_usdc"),
		Window:         time.Duration(v.GetInt("reconcile.window_minutes")) * time.Minute,
		SignatureLimit: v.GetInt("reconcile.signature_limit"),
		DetailWorkers:  v.GetInt("reconcile.detail_workers"),
		RPCTimeout:     time.Duration(v.GetInt("reconcile.rpc_timeout_seconds")) * time.Second,
		PollerEnabled:  v.GetBool("poller.enabled"),
		PollerInterval: time.Duration(v.GetInt("poller.interval_seconds")) * time.Second,
	}

	if cfg.DBSource == "" {
		return nil, fmt.Errorf("db.source (HALAXA_DB_SOURCE) is required")
	}
	if cfg.PolygonRPCURL == "" {
		return nil, fmt.Errorf("polygon.rpc_url (HALAXA_POLYGON_RPC_URL) is required")
	}
	if cfg.SolanaRPCURL == "" {
		return nil, fmt.Errorf("solana.rpc_url (HALAXA_SOLANA_RPC_URL) is required")
	}
	if cfg.ToleranceUSDC <= 0 {
		return nil, fmt.Errorf("reconcile.tolerance_usdc must be positive")
	}

	return cfg, nil
}
