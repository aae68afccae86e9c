package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	ServerConfig       ServerConfig       `json:"server"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	ChainConfig        ChainConfig        `json:"chain"`
	PrivyConfig        PrivyConfig        `json:"privy"`
	AggregatorConfig   AggregatorConfig   `json:"aggregator"`
	MarketDataConfig   MarketDataConfig   `json:"market_data"`
	AIConfig           AIConfig           `json:"ai"`
	AgentConfig        AgentConfig        `json:"agent"`
	NotificationConfig NotificationConfig `json:"notification"`
	VaultConfig        VaultConfig        `json:"vault"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for price caching
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

// ChainConfig holds EVM RPC endpoints per supported chain
type ChainConfig struct {
	BSCRPCURL         string        `json:"bsc_rpc_url"`
	BaseRPCURL        string        `json:"base_rpc_url"`
	ReceiptTimeout    time.Duration `json:"receipt_timeout"`
	ConfirmationPolls int           `json:"confirmation_polls"`
}

// PrivyConfig holds the delegated wallet signing service settings
type PrivyConfig struct {
	AppID     string        `json:"app_id"`
	AppSecret string        `json:"app_secret"`
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
}

// AggregatorConfig holds the DEX swap routing service settings
type AggregatorConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

// MarketDataConfig holds price and kline source settings
type MarketDataConfig struct {
	AlphaBaseURL       string        `json:"alpha_base_url"`
	AlphaAPIKey        string        `json:"alpha_api_key"`
	AlphaAPISecret     string        `json:"alpha_api_secret"`
	DexScreenerBaseURL string        `json:"dexscreener_base_url"`
	PriceCacheTTL      time.Duration `json:"price_cache_ttl"`
	MockMode           bool          `json:"mock_mode"` // Use simulated data when upstream APIs are unavailable
}

// AIConfig holds the LLM knowledge adjustment configuration
type AIConfig struct {
	Enabled        bool          `json:"enabled"`
	DeepSeekAPIKey string        `json:"deepseek_api_key"`
	LLMModel       string        `json:"llm_model"` // e.g., "deepseek-chat"
	Timeout        time.Duration `json:"timeout"`
}

// AgentConfig holds engine-level trading settings
type AgentConfig struct {
	DefaultStrategyID string `json:"default_strategy_id"`
	DryRun            bool   `json:"dry_run"` // Score and gate signals without submitting transactions
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for service credentials
	TLSEnabled bool   `json:"tls_enabled"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Note: user wallet keys are never read from environment. Signing is
// delegated per-user through Privy; only service credentials live here.
func applyEnvOverrides(cfg *Config) {
	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", firstNonEmpty(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", firstNonEmpty(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", firstNonEmpty(cfg.DatabaseConfig.Database, "alpha_trade"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", firstNonEmpty(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", firstNonEmpty(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", firstNonEmpty(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", firstNonEmpty(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// Chain config
	cfg.ChainConfig.BSCRPCURL = getEnvOrDefault("BSC_RPC_URL", firstNonEmpty(cfg.ChainConfig.BSCRPCURL, "https://bsc-dataseed.binance.org"))
	cfg.ChainConfig.BaseRPCURL = getEnvOrDefault("BASE_RPC_URL", firstNonEmpty(cfg.ChainConfig.BaseRPCURL, "https://mainnet.base.org"))
	cfg.ChainConfig.ReceiptTimeout = getEnvDurationOrDefault("CHAIN_RECEIPT_TIMEOUT", 10*time.Second)
	cfg.ChainConfig.ConfirmationPolls = getEnvIntOrDefault("CHAIN_CONFIRMATION_POLLS", defaultInt(cfg.ChainConfig.ConfirmationPolls, 20))

	// Privy config
	cfg.PrivyConfig.AppID = getEnvOrDefault("PRIVY_APP_ID", cfg.PrivyConfig.AppID)
	cfg.PrivyConfig.AppSecret = getEnvOrDefault("PRIVY_APP_SECRET", cfg.PrivyConfig.AppSecret)
	cfg.PrivyConfig.BaseURL = getEnvOrDefault("PRIVY_BASE_URL", firstNonEmpty(cfg.PrivyConfig.BaseURL, "https://api.privy.io"))
	cfg.PrivyConfig.Timeout = getEnvDurationOrDefault("PRIVY_TIMEOUT", 10*time.Second)

	// Aggregator config
	cfg.AggregatorConfig.BaseURL = getEnvOrDefault("AGGREGATOR_BASE_URL", cfg.AggregatorConfig.BaseURL)
	cfg.AggregatorConfig.APIKey = getEnvOrDefault("AGGREGATOR_API_KEY", cfg.AggregatorConfig.APIKey)
	cfg.AggregatorConfig.Timeout = getEnvDurationOrDefault("AGGREGATOR_TIMEOUT", 10*time.Second)

	// Market data config
	cfg.MarketDataConfig.AlphaBaseURL = getEnvOrDefault("ALPHA_API_BASE_URL", firstNonEmpty(cfg.MarketDataConfig.AlphaBaseURL, "https://www.binance.com"))
	cfg.MarketDataConfig.AlphaAPIKey = getEnvOrDefault("ALPHA_API_KEY", cfg.MarketDataConfig.AlphaAPIKey)
	cfg.MarketDataConfig.AlphaAPISecret = getEnvOrDefault("ALPHA_API_SECRET", cfg.MarketDataConfig.AlphaAPISecret)
	cfg.MarketDataConfig.DexScreenerBaseURL = getEnvOrDefault("DEXSCREENER_BASE_URL", firstNonEmpty(cfg.MarketDataConfig.DexScreenerBaseURL, "https://api.dexscreener.com"))
	cfg.MarketDataConfig.PriceCacheTTL = getEnvDurationOrDefault("PRICE_CACHE_TTL", 15*time.Second)
	cfg.MarketDataConfig.MockMode = getEnvOrDefault("MOCK_MODE", "false") == "true"

	// AI config
	cfg.AIConfig.Enabled = getEnvOrDefault("AI_ENABLED", "true") == "true"
	cfg.AIConfig.DeepSeekAPIKey = getEnvOrDefault("AI_DEEPSEEK_API_KEY", cfg.AIConfig.DeepSeekAPIKey)
	cfg.AIConfig.LLMModel = getEnvOrDefault("AI_LLM_MODEL", "deepseek-chat")
	cfg.AIConfig.Timeout = getEnvDurationOrDefault("AI_TIMEOUT", 15*time.Second)

	// Agent config
	cfg.AgentConfig.DefaultStrategyID = getEnvOrDefault("AGENT_STRATEGY_ID", cfg.AgentConfig.DefaultStrategyID)
	cfg.AgentConfig.DryRun = getEnvOrDefault("TRADING_DRY_RUN", "false") == "true"

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", firstNonEmpty(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", firstNonEmpty(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", firstNonEmpty(cfg.VaultConfig.SecretPath, "alpha-trade/service-keys"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func firstNonEmpty(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func defaultInt(value, fallback int) int {
	if value != 0 {
		return value
	}
	return fallback
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "your_password_here",
			Database: "alpha_trade",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		ChainConfig: ChainConfig{
			BSCRPCURL:  "https://bsc-dataseed.binance.org",
			BaseRPCURL: "https://mainnet.base.org",
		},
		PrivyConfig: PrivyConfig{
			AppID:   "your_privy_app_id",
			BaseURL: "https://api.privy.io",
		},
		MarketDataConfig: MarketDataConfig{
			AlphaBaseURL:       "https://www.binance.com",
			DexScreenerBaseURL: "https://api.dexscreener.com",
		},
		AIConfig: AIConfig{
			Enabled:  true,
			LLMModel: "deepseek-chat",
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
