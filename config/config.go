package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	LLMConfig       LLMConfig       `json:"llm"`
	VaultConfig     VaultConfig     `json:"vault"`
	KnowledgeConfig KnowledgeConfig `json:"knowledge"`
	ServerConfig    ServerConfig    `json:"server"`
	AuthConfig      AuthConfig      `json:"auth"`
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

// RedisConfig holds Redis configuration for caching
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

// LLMConfig holds insight-generator (text completion) settings
type LLMConfig struct {
	Enabled     bool    `json:"enabled"`
	Provider    string  `json:"provider"` // "claude", "openai", or "deepseek"
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TimeoutSecs int     `json:"timeout_secs"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path for the LLM API key
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// KnowledgeConfig holds the learning subsystem's tunables
type KnowledgeConfig struct {
	ReflectionIntervalMins int `json:"reflection_interval_mins"` // Max minutes between reflections
	ReflectionTradeTrigger int `json:"reflection_trade_trigger"` // Trades since last reflection that force one
	FirstReflectionTrades  int `json:"first_reflection_trades"`  // Trade count for the very first reflection
	LookbackHours          int `json:"lookback_hours"`           // Trade window each reflection analyzes
	AdaptationCooldownHrs  int `json:"adaptation_cooldown_hrs"`  // Per-target repeat-adaptation suppression
	EffectivenessDelayHrs  int `json:"effectiveness_delay_hrs"`  // Min hours before measuring an adaptation
	EffectivenessForceHrs  int `json:"effectiveness_force_hrs"`  // Hours after which measurement proceeds regardless of sample
	MinTradesToMeasure     int `json:"min_trades_to_measure"`    // Sample size before measuring
	TickIntervalSecs       int `json:"tick_interval_secs"`       // Background loop tick
	EffectivenessEveryMins int `json:"effectiveness_every_mins"` // Cadence of effectiveness passes
	SeedPatterns           bool `json:"seed_patterns"`           // Install starter patterns when collection empty
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig holds authentication for mutating endpoints
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AdminPasswordHash   string        `json:"admin_password_hash"` // bcrypt hash
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

func Load() (*Config, error) {
	// Base config from file, if present
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	// Environment variable overrides take precedence
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "trader"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "trading_knowledge"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// LLM config
	cfg.LLMConfig.Enabled = getEnvOrDefault("LLM_ENABLED", "true") == "true"
	cfg.LLMConfig.Provider = getEnvOrDefault("LLM_PROVIDER", defaultString(cfg.LLMConfig.Provider, "claude"))
	cfg.LLMConfig.APIKey = getEnvOrDefault("LLM_API_KEY", cfg.LLMConfig.APIKey)
	cfg.LLMConfig.Model = getEnvOrDefault("LLM_MODEL", defaultString(cfg.LLMConfig.Model, "claude-sonnet-4-20250514"))
	cfg.LLMConfig.MaxTokens = getEnvIntOrDefault("LLM_MAX_TOKENS", defaultInt(cfg.LLMConfig.MaxTokens, 2048))
	cfg.LLMConfig.Temperature = getEnvFloatOrDefault("LLM_TEMPERATURE", defaultFloat(cfg.LLMConfig.Temperature, 0.3))
	cfg.LLMConfig.TimeoutSecs = getEnvIntOrDefault("LLM_TIMEOUT_SECS", defaultInt(cfg.LLMConfig.TimeoutSecs, 60))

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "trading-bot/llm"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Knowledge config
	cfg.KnowledgeConfig.ReflectionIntervalMins = getEnvIntOrDefault("KNOWLEDGE_REFLECTION_INTERVAL_MINS", defaultInt(cfg.KnowledgeConfig.ReflectionIntervalMins, 60))
	cfg.KnowledgeConfig.ReflectionTradeTrigger = getEnvIntOrDefault("KNOWLEDGE_REFLECTION_TRADE_TRIGGER", defaultInt(cfg.KnowledgeConfig.ReflectionTradeTrigger, 10))
	cfg.KnowledgeConfig.FirstReflectionTrades = getEnvIntOrDefault("KNOWLEDGE_FIRST_REFLECTION_TRADES", defaultInt(cfg.KnowledgeConfig.FirstReflectionTrades, 5))
	cfg.KnowledgeConfig.LookbackHours = getEnvIntOrDefault("KNOWLEDGE_LOOKBACK_HOURS", defaultInt(cfg.KnowledgeConfig.LookbackHours, 24))
	cfg.KnowledgeConfig.AdaptationCooldownHrs = getEnvIntOrDefault("KNOWLEDGE_ADAPTATION_COOLDOWN_HRS", defaultInt(cfg.KnowledgeConfig.AdaptationCooldownHrs, 24))
	cfg.KnowledgeConfig.EffectivenessDelayHrs = getEnvIntOrDefault("KNOWLEDGE_EFFECTIVENESS_DELAY_HRS", defaultInt(cfg.KnowledgeConfig.EffectivenessDelayHrs, 24))
	cfg.KnowledgeConfig.EffectivenessForceHrs = getEnvIntOrDefault("KNOWLEDGE_EFFECTIVENESS_FORCE_HRS", defaultInt(cfg.KnowledgeConfig.EffectivenessForceHrs, 168))
	cfg.KnowledgeConfig.MinTradesToMeasure = getEnvIntOrDefault("KNOWLEDGE_MIN_TRADES_TO_MEASURE", defaultInt(cfg.KnowledgeConfig.MinTradesToMeasure, 10))
	cfg.KnowledgeConfig.TickIntervalSecs = getEnvIntOrDefault("KNOWLEDGE_TICK_INTERVAL_SECS", defaultInt(cfg.KnowledgeConfig.TickIntervalSecs, 60))
	cfg.KnowledgeConfig.EffectivenessEveryMins = getEnvIntOrDefault("KNOWLEDGE_EFFECTIVENESS_EVERY_MINS", defaultInt(cfg.KnowledgeConfig.EffectivenessEveryMins, 60))
	cfg.KnowledgeConfig.SeedPatterns = getEnvOrDefault("KNOWLEDGE_SEED_PATTERNS", "true") == "true"

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Auth config - always apply from environment
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "false") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 12*time.Hour)
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

func defaultString(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func defaultInt(current, fallback int) int {
	if current != 0 {
		return current
	}
	return fallback
}

func defaultFloat(current, fallback float64) float64 {
	if current != 0 {
		return current
	}
	return fallback
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

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "trader",
			Password: "change_me",
			Database: "trading_knowledge",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		LLMConfig: LLMConfig{
			Enabled:     true,
			Provider:    "claude",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   2048,
			Temperature: 0.3,
			TimeoutSecs: 60,
		},
		KnowledgeConfig: KnowledgeConfig{
			ReflectionIntervalMins: 60,
			ReflectionTradeTrigger: 10,
			FirstReflectionTrades:  5,
			LookbackHours:          24,
			AdaptationCooldownHrs:  24,
			EffectivenessDelayHrs:  24,
			EffectivenessForceHrs:  168,
			MinTradesToMeasure:     10,
			TickIntervalSecs:       60,
			EffectivenessEveryMins: 60,
			SeedPatterns:           true,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
