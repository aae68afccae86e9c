package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverridesTakePrecedence(t *testing.T) {
	os.Setenv("DB_HOST", "db.internal")
	os.Setenv("DB_PORT", "5433")
	os.Setenv("PRIVY_APP_ID", "app_test")
	os.Setenv("TRADING_DRY_RUN", "true")
	defer func() {
		os.Unsetenv("DB_HOST")
		os.Unsetenv("DB_PORT")
		os.Unsetenv("PRIVY_APP_ID")
		os.Unsetenv("TRADING_DRY_RUN")
	}()

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.DatabaseConfig.Host != "db.internal" {
		t.Errorf("DB host = %s, want db.internal", cfg.DatabaseConfig.Host)
	}
	if cfg.DatabaseConfig.Port != 5433 {
		t.Errorf("DB port = %d, want 5433", cfg.DatabaseConfig.Port)
	}
	if cfg.PrivyConfig.AppID != "app_test" {
		t.Errorf("Privy app id = %s, want app_test", cfg.PrivyConfig.AppID)
	}
	if !cfg.AgentConfig.DryRun {
		t.Error("dry run should be enabled")
	}
}

func TestDefaultsWhenEnvUnset(t *testing.T) {
	for _, key := range []string{
		"DB_HOST", "DB_PORT", "BSC_RPC_URL", "BASE_RPC_URL",
		"PRICE_CACHE_TTL", "AI_LLM_MODEL", "PRIVY_TIMEOUT",
	} {
		os.Unsetenv(key)
	}

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.DatabaseConfig.Host != "localhost" {
		t.Errorf("DB host default = %s, want localhost", cfg.DatabaseConfig.Host)
	}
	if cfg.DatabaseConfig.Port != 5432 {
		t.Errorf("DB port default = %d, want 5432", cfg.DatabaseConfig.Port)
	}
	if cfg.ChainConfig.BSCRPCURL == "" || cfg.ChainConfig.BaseRPCURL == "" {
		t.Error("chain RPC defaults should be populated")
	}
	if cfg.MarketDataConfig.PriceCacheTTL != 15*time.Second {
		t.Errorf("price cache TTL default = %s, want 15s", cfg.MarketDataConfig.PriceCacheTTL)
	}
	if cfg.AIConfig.LLMModel != "deepseek-chat" {
		t.Errorf("LLM model default = %s, want deepseek-chat", cfg.AIConfig.LLMModel)
	}
	if cfg.PrivyConfig.Timeout != 10*time.Second {
		t.Errorf("privy timeout default = %s, want 10s", cfg.PrivyConfig.Timeout)
	}
}

func TestFileValuesSurviveWithoutEnv(t *testing.T) {
	os.Unsetenv("DB_NAME")
	os.Unsetenv("AGGREGATOR_BASE_URL")

	cfg := &Config{
		DatabaseConfig:   DatabaseConfig{Database: "custom_db"},
		AggregatorConfig: AggregatorConfig{BaseURL: "https://agg.example.com"},
	}
	applyEnvOverrides(cfg)

	if cfg.DatabaseConfig.Database != "custom_db" {
		t.Errorf("DB name = %s, want custom_db from file", cfg.DatabaseConfig.Database)
	}
	if cfg.AggregatorConfig.BaseURL != "https://agg.example.com" {
		t.Errorf("aggregator URL = %s, want file value", cfg.AggregatorConfig.BaseURL)
	}
}
