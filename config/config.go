package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid wraps every validation failure. Callers treat it as fatal.
var ErrInvalid = errors.New("invalid configuration")

const (
	RunModePaper   = "paper"
	RunModeTestnet = "testnet"
	RunModeLive    = "live"
)

type Config struct {
	Trading        TradingConfig        `json:"trading"`
	Risk           RiskConfig           `json:"risk"`
	Allocation     AllocationConfig     `json:"allocation"`
	Advisory       AdvisoryConfig       `json:"advisory"`
	Exchange       ExchangeConfig       `json:"exchange"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Flags          FlagsConfig          `json:"flags"`
	Logging        LoggingConfig        `json:"logging"`
	Server         ServerConfig         `json:"server"`
	Auth           AuthConfig           `json:"auth"`
	Vault          VaultConfig          `json:"vault"`
	Database       DatabaseConfig       `json:"database"`
	Redis          RedisConfig          `json:"redis"`
	Notification   NotificationConfig   `json:"notification"`
}

type TradingConfig struct {
	Symbols           []string `json:"symbols"`
	RunMode           string   `json:"run_mode"` // paper, testnet or live
	CycleIntervalSecs int      `json:"cycle_interval_secs"`
	MaxWorkers        int      `json:"max_workers"`
	StartingEquity    float64  `json:"starting_equity"` // paper mode only
	ScalpAutoFlip     bool     `json:"scalp_auto_flip"`
	SkipUnchangedLLM  bool     `json:"skip_unchanged_llm"`
}

// CycleInterval returns the fixed wall-clock cadence of the scheduler.
func (t TradingConfig) CycleInterval() time.Duration {
	return time.Duration(t.CycleIntervalSecs) * time.Second
}

type RiskConfig struct {
	MaxEquityUsagePct float64 `json:"max_equity_usage_pct"` // fraction of equity, 0-1
	MaxLeverage       float64 `json:"max_leverage"`
	DailyLossCapPct   float64 `json:"daily_loss_cap_pct"` // 0 disables
	CooldownSeconds   int     `json:"cooldown_seconds"`   // 0 disables
	SwingMinHoldSecs  int     `json:"swing_min_hold_secs"`
	ScalpMinHoldSecs  int     `json:"scalp_min_hold_secs"`
	HistoryNoiseFloor float64 `json:"history_noise_floor"` // USD
}

type AllocationConfig struct {
	SwingTargetPct   float64 `json:"swing_target_pct"`
	ScalpTargetPct   float64 `json:"scalp_target_pct"`
	MinAllocationUSD float64 `json:"min_allocation_usd"`
}

type AdvisoryConfig struct {
	Enabled             bool    `json:"enabled"`
	Provider            string  `json:"provider"` // claude, openai or deepseek
	Model               string  `json:"model"`
	APIKey              string  `json:"api_key"`
	BaseURL             string  `json:"base_url"`
	BaseTimeoutSecs     int     `json:"base_timeout_secs"`
	TimeoutStepSecs     int     `json:"timeout_step_secs"`
	MaxRetries          int     `json:"max_retries"`
	CacheTTLSecs        int     `json:"cache_ttl_secs"`
	CachePriceTolerance float64 `json:"cache_price_tolerance"` // fraction, 0.001 = 0.1%
	BatchWindowMs       int     `json:"batch_window_ms"`
	BatchMaxSize        int     `json:"batch_max_size"`
	RatePerMinute       int     `json:"rate_per_minute"`
	// ReviewHolds sends hold signals through the batched advisory path for
	// an informational opinion.
	ReviewHolds bool `json:"review_holds"`
}

type ExchangeConfig struct {
	APIKey             string  `json:"api_key"`
	SecretKey          string  `json:"secret_key"`
	FillPollAttempts   int     `json:"fill_poll_attempts"`
	FillPollIntervalMs int     `json:"fill_poll_interval_ms"`
	PaperSlippageBps   float64 `json:"paper_slippage_bps"`
	KlineLimit         int     `json:"kline_limit"`
}

type CircuitBreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDailyLossPct      float64 `json:"max_daily_loss_pct"` // percent of equity
	CooldownMinutes      int     `json:"cooldown_minutes"`
}

type FlagsConfig struct {
	PauseFile     string `json:"pause_file"`
	EmergencyFile string `json:"emergency_file"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`  // seconds
	WriteTimeout    int    `json:"write_timeout"` // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	OperatorUser        string        `json:"operator_user"`
	OperatorPassword    string        `json:"operator_password"` // bcrypt hash or plain text
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

// RedisConfig holds Redis configuration for position state and operator flags
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NotificationConfig routes operator alerts to chat channels. A channel is
// active when its credentials are set.
type NotificationConfig struct {
	Enabled           bool   `json:"enabled"`
	TelegramBotToken  string `json:"telegram_bot_token"`
	TelegramChatID    string `json:"telegram_chat_id"`
	DiscordWebhookURL string `json:"discord_webhook_url"`
	RatePerMinute     int    `json:"rate_per_minute"`
}

// Load reads .env, the JSON config file and environment overrides, fills
// non-critical defaults and validates the result.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	path := getEnvOrDefault("CONFIG_PATH", "config.json")
	cfg, err := loadFromFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if symbols := os.Getenv("SYMBOLS"); symbols != "" {
		cfg.Trading.Symbols = splitList(symbols)
	}
	cfg.Trading.RunMode = getEnvOrDefault("RUN_MODE", cfg.Trading.RunMode)
	cfg.Trading.CycleIntervalSecs = getEnvIntOrDefault("LOOP_INTERVAL_SECONDS", cfg.Trading.CycleIntervalSecs)
	cfg.Trading.MaxWorkers = getEnvIntOrDefault("MAX_WORKERS", cfg.Trading.MaxWorkers)
	cfg.Trading.StartingEquity = getEnvFloatOrDefault("STARTING_EQUITY", cfg.Trading.StartingEquity)
	cfg.Trading.ScalpAutoFlip = getEnvBoolOrDefault("SCALP_AUTO_FLIP", cfg.Trading.ScalpAutoFlip)
	cfg.Trading.SkipUnchangedLLM = getEnvBoolOrDefault("SKIP_UNCHANGED_LLM", cfg.Trading.SkipUnchangedLLM)

	cfg.Risk.MaxEquityUsagePct = getEnvFloatOrDefault("MAX_EQUITY_USAGE_PCT", cfg.Risk.MaxEquityUsagePct)
	cfg.Risk.MaxLeverage = getEnvFloatOrDefault("MAX_LEVERAGE", cfg.Risk.MaxLeverage)
	cfg.Risk.DailyLossCapPct = getEnvFloatOrDefault("DAILY_LOSS_CAP_PCT", cfg.Risk.DailyLossCapPct)
	cfg.Risk.CooldownSeconds = getEnvIntOrDefault("COOLDOWN_SECONDS", cfg.Risk.CooldownSeconds)
	cfg.Risk.SwingMinHoldSecs = getEnvIntOrDefault("SWING_MIN_HOLD_SECONDS", cfg.Risk.SwingMinHoldSecs)
	cfg.Risk.ScalpMinHoldSecs = getEnvIntOrDefault("SCALP_MIN_HOLD_SECONDS", cfg.Risk.ScalpMinHoldSecs)

	cfg.Allocation.SwingTargetPct = getEnvFloatOrDefault("SWING_TARGET_PCT", cfg.Allocation.SwingTargetPct)
	cfg.Allocation.ScalpTargetPct = getEnvFloatOrDefault("SCALP_TARGET_PCT", cfg.Allocation.ScalpTargetPct)
	cfg.Allocation.MinAllocationUSD = getEnvFloatOrDefault("MIN_ALLOCATION_USD", cfg.Allocation.MinAllocationUSD)

	cfg.Advisory.Enabled = getEnvBoolOrDefault("ADVISORY_ENABLED", cfg.Advisory.Enabled)
	cfg.Advisory.Provider = getEnvOrDefault("ADVISORY_PROVIDER", cfg.Advisory.Provider)
	cfg.Advisory.Model = getEnvOrDefault("ADVISORY_MODEL", cfg.Advisory.Model)
	cfg.Advisory.APIKey = getEnvOrDefault("ADVISORY_API_KEY", cfg.Advisory.APIKey)
	cfg.Advisory.BaseURL = getEnvOrDefault("ADVISORY_BASE_URL", cfg.Advisory.BaseURL)
	cfg.Advisory.ReviewHolds = getEnvBoolOrDefault("ADVISORY_REVIEW_HOLDS", cfg.Advisory.ReviewHolds)

	cfg.Exchange.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.Exchange.SecretKey)

	cfg.Flags.PauseFile = getEnvOrDefault("PAUSE_FLAG_FILE", cfg.Flags.PauseFile)
	cfg.Flags.EmergencyFile = getEnvOrDefault("EMERGENCY_FLAG_FILE", cfg.Flags.EmergencyFile)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
	cfg.Logging.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.Logging.IncludeFile)

	cfg.Server.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Auth.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.Auth.AccessTokenDuration)
	cfg.Auth.OperatorUser = getEnvOrDefault("AUTH_OPERATOR_USER", cfg.Auth.OperatorUser)
	cfg.Auth.OperatorPassword = getEnvOrDefault("AUTH_OPERATOR_PASSWORD", cfg.Auth.OperatorPassword)

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	cfg.CircuitBreaker.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cfg.CircuitBreaker.Enabled)
	cfg.CircuitBreaker.MaxConsecutiveLosses = getEnvIntOrDefault("CIRCUIT_MAX_CONSECUTIVE_LOSSES", cfg.CircuitBreaker.MaxConsecutiveLosses)
	cfg.CircuitBreaker.MaxDailyLossPct = getEnvFloatOrDefault("CIRCUIT_MAX_DAILY_LOSS_PCT", cfg.CircuitBreaker.MaxDailyLossPct)
	cfg.CircuitBreaker.CooldownMinutes = getEnvIntOrDefault("CIRCUIT_COOLDOWN_MINUTES", cfg.CircuitBreaker.CooldownMinutes)

	cfg.Notification.Enabled = getEnvBoolOrDefault("NOTIFY_ENABLED", cfg.Notification.Enabled)
	cfg.Notification.TelegramBotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.TelegramBotToken)
	cfg.Notification.TelegramChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notification.TelegramChatID)
	cfg.Notification.DiscordWebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notification.DiscordWebhookURL)
}

// applyDefaults fills operational settings only. Leverage caps, equity usage
// and credentials have no defaults and must be configured explicitly.
func applyDefaults(cfg *Config) {
	if cfg.Trading.RunMode == "" {
		cfg.Trading.RunMode = RunModePaper
	}
	if cfg.Trading.MaxWorkers == 0 {
		cfg.Trading.MaxWorkers = 6
	}
	if cfg.Trading.StartingEquity == 0 {
		cfg.Trading.StartingEquity = 10000
	}
	if cfg.Risk.ScalpMinHoldSecs == 0 {
		cfg.Risk.ScalpMinHoldSecs = 300
	}
	if cfg.Risk.SwingMinHoldSecs == 0 {
		cfg.Risk.SwingMinHoldSecs = 3600
	}
	if cfg.Risk.HistoryNoiseFloor == 0 {
		cfg.Risk.HistoryNoiseFloor = 0.01
	}
	if cfg.Allocation.MinAllocationUSD == 0 {
		cfg.Allocation.MinAllocationUSD = 3
	}

	if cfg.Advisory.Provider == "" {
		cfg.Advisory.Provider = "claude"
	}
	if cfg.Advisory.Model == "" {
		cfg.Advisory.Model = "claude-3-haiku-20240307"
	}
	if cfg.Advisory.BaseTimeoutSecs == 0 {
		cfg.Advisory.BaseTimeoutSecs = 15
	}
	if cfg.Advisory.TimeoutStepSecs == 0 {
		cfg.Advisory.TimeoutStepSecs = 10
	}
	if cfg.Advisory.MaxRetries == 0 {
		cfg.Advisory.MaxRetries = 2
	}
	if cfg.Advisory.CacheTTLSecs == 0 {
		cfg.Advisory.CacheTTLSecs = 90
	}
	if cfg.Advisory.CachePriceTolerance == 0 {
		cfg.Advisory.CachePriceTolerance = 0.001
	}
	if cfg.Advisory.BatchWindowMs == 0 {
		cfg.Advisory.BatchWindowMs = 2000
	}
	if cfg.Advisory.BatchMaxSize == 0 {
		cfg.Advisory.BatchMaxSize = 6
	}
	if cfg.Advisory.RatePerMinute == 0 {
		cfg.Advisory.RatePerMinute = 60
	}

	if cfg.Exchange.FillPollAttempts == 0 {
		cfg.Exchange.FillPollAttempts = 5
	}
	if cfg.Exchange.FillPollIntervalMs == 0 {
		cfg.Exchange.FillPollIntervalMs = 500
	}
	if cfg.Exchange.KlineLimit == 0 {
		cfg.Exchange.KlineLimit = 200
	}

	if cfg.CircuitBreaker.MaxConsecutiveLosses == 0 {
		cfg.CircuitBreaker.MaxConsecutiveLosses = 5
	}
	if cfg.CircuitBreaker.MaxDailyLossPct == 0 {
		cfg.CircuitBreaker.MaxDailyLossPct = 5.0
	}
	if cfg.CircuitBreaker.CooldownMinutes == 0 {
		cfg.CircuitBreaker.CooldownMinutes = 30
	}

	if cfg.Flags.PauseFile == "" {
		cfg.Flags.PauseFile = "PAUSE_TRADING"
	}
	if cfg.Flags.EmergencyFile == "" {
		cfg.Flags.EmergencyFile = "EMERGENCY_CLOSE_ALL"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.AllowedOrigins == "" {
		cfg.Server.AllowedOrigins = "*"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10
	}
	if cfg.Auth.AccessTokenDuration == 0 {
		cfg.Auth.AccessTokenDuration = 15 * time.Minute
	}
	if cfg.Auth.OperatorUser == "" {
		cfg.Auth.OperatorUser = "operator"
	}

	if cfg.Vault.Address == "" {
		cfg.Vault.Address = "http://localhost:8200"
	}
	if cfg.Vault.MountPath == "" {
		cfg.Vault.MountPath = "secret"
	}
	if cfg.Vault.SecretPath == "" {
		cfg.Vault.SecretPath = "futures-agent/credentials"
	}

	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 25
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Notification.RatePerMinute == 0 {
		cfg.Notification.RatePerMinute = 20
	}
}

// Validate returns the first violation wrapped in ErrInvalid.
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("%w: trading.symbols must not be empty", ErrInvalid)
	}
	switch c.Trading.RunMode {
	case RunModePaper, RunModeTestnet, RunModeLive:
	default:
		return fmt.Errorf("%w: trading.run_mode %q must be paper, testnet or live", ErrInvalid, c.Trading.RunMode)
	}
	if c.Trading.CycleIntervalSecs <= 0 {
		return fmt.Errorf("%w: trading.cycle_interval_secs must be > 0", ErrInvalid)
	}
	if c.Trading.MaxWorkers <= 0 {
		return fmt.Errorf("%w: trading.max_workers must be > 0", ErrInvalid)
	}
	if c.Trading.RunMode != RunModePaper && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") && !c.Vault.Enabled {
		return fmt.Errorf("%w: exchange credentials are required in %s mode", ErrInvalid, c.Trading.RunMode)
	}
	if c.Trading.RunMode == RunModePaper && c.Trading.StartingEquity <= 0 {
		return fmt.Errorf("%w: trading.starting_equity must be > 0", ErrInvalid)
	}

	if c.Risk.MaxLeverage <= 0 {
		return fmt.Errorf("%w: risk.max_leverage must be > 0", ErrInvalid)
	}
	if c.Risk.MaxEquityUsagePct <= 0 || c.Risk.MaxEquityUsagePct > 1 {
		return fmt.Errorf("%w: risk.max_equity_usage_pct must be in (0, 1]", ErrInvalid)
	}
	if c.Risk.DailyLossCapPct < 0 || c.Risk.DailyLossCapPct >= 1 {
		return fmt.Errorf("%w: risk.daily_loss_cap_pct must be in [0, 1)", ErrInvalid)
	}
	if c.Risk.CooldownSeconds < 0 {
		return fmt.Errorf("%w: risk.cooldown_seconds must be >= 0", ErrInvalid)
	}
	if c.Risk.ScalpMinHoldSecs < 0 || c.Risk.SwingMinHoldSecs < 0 {
		return fmt.Errorf("%w: minimum hold durations must be >= 0", ErrInvalid)
	}

	if c.Allocation.SwingTargetPct <= 0 || c.Allocation.SwingTargetPct > 1 {
		return fmt.Errorf("%w: allocation.swing_target_pct must be in (0, 1]", ErrInvalid)
	}
	if c.Allocation.ScalpTargetPct <= 0 || c.Allocation.ScalpTargetPct > 1 {
		return fmt.Errorf("%w: allocation.scalp_target_pct must be in (0, 1]", ErrInvalid)
	}
	if c.Allocation.MinAllocationUSD < 0 {
		return fmt.Errorf("%w: allocation.min_allocation_usd must be >= 0", ErrInvalid)
	}

	if c.Advisory.Enabled {
		if c.Advisory.APIKey == "" && !c.Vault.Enabled {
			return fmt.Errorf("%w: advisory.api_key is required when the advisory filter is enabled", ErrInvalid)
		}
		switch c.Advisory.Provider {
		case "claude", "openai", "deepseek":
		default:
			return fmt.Errorf("%w: advisory.provider %q is not supported", ErrInvalid, c.Advisory.Provider)
		}
		if c.Advisory.MaxRetries < 0 {
			return fmt.Errorf("%w: advisory.max_retries must be >= 0", ErrInvalid)
		}
	}

	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("%w: auth.jwt_secret must be at least 32 characters", ErrInvalid)
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file: %v", ErrInvalid, err)
	}

	return &config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
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
		Trading: TradingConfig{
			Symbols:           []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			RunMode:           RunModePaper,
			CycleIntervalSecs: 30,
			MaxWorkers:        6,
			StartingEquity:    10000,
			SkipUnchangedLLM:  true,
		},
		Risk: RiskConfig{
			MaxEquityUsagePct: 0.30,
			MaxLeverage:       3.0,
			DailyLossCapPct:   0.05,
			CooldownSeconds:   60,
			SwingMinHoldSecs:  3600,
			ScalpMinHoldSecs:  300,
			HistoryNoiseFloor: 0.01,
		},
		Allocation: AllocationConfig{
			SwingTargetPct:   0.25,
			ScalpTargetPct:   0.15,
			MinAllocationUSD: 3,
		},
		Advisory: AdvisoryConfig{
			Enabled:  false,
			Provider: "claude",
			Model:    "claude-3-haiku-20240307",
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
