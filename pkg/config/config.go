package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/crypto"
)

// Operating modes.
const (
	ModePaper    = "paper"
	ModeBacktest = "backtest"
	ModeLive     = "live"
)

// Config holds environment-driven settings for the engine.
type Config struct {
	Mode      string
	SessionID string
	Port      string
	Language  string

	// Market
	Symbols      []string
	Interval     string
	PollInterval time.Duration

	// Sizing and admission
	Leverage         int
	MarginPerTrade   float64
	InitialBalance   float64
	MaxOpenPositions int
	MaintMarginRate  float64 // decimal (0.004 = 0.4%)
	DirectionFilter  string  // "both", "long" or "short"

	// Exit policy. Percent values are percent numbers (1.5 = 1.5%).
	ExitMode                  string // fixed_tp, trailing, pnl_percent
	PnLTargetPercent          float64
	RRDivider                 float64
	BaseTPPercent             float64
	StopMultiplier            float64
	TrailingATRMultiplier     float64
	TrailingActivationPercent float64
	TrailingCallbackPercent   float64

	// Indicators / reference signal producer
	Strategy      string
	ATRPeriod     int
	FastEMA       int
	SlowEMA       int
	RSIPeriod     int
	RSIOversold   float64
	RSIOverbought float64

	// Binance Futures (USDT)
	BinanceTestnet    bool
	BinanceUSDTKey    string
	BinanceUSDTSecret string
	MarginType        string
	LegSpacing        time.Duration

	// Live reconciliation
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration

	// Backtest window
	BacktestStart time.Time
	BacktestEnd   time.Time

	DBPath           string
	EngineConfigPath string

	// API
	JWTSecret         string
	AdminUser         string
	AdminPassword     string
	AdminPasswordHash string // bcrypt; takes precedence over AdminPassword
}

// Load reads environment variables (optionally via .env) into Config and
// applies the optional YAML engine file on top.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Mode:                      strings.ToLower(getEnv("MODE", ModePaper)),
		SessionID:                 getEnv("SESSION_ID", ""),
		Port:                      getEnv("PORT", "8080"),
		Language:                  strings.ToLower(getEnv("LANGUAGE", "en")),
		Symbols:                   splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		Interval:                  getEnv("INTERVAL", "5m"),
		PollInterval:              getEnvDuration("POLL_INTERVAL", 15*time.Second),
		Leverage:                  getEnvInt("LEVERAGE", 10),
		MarginPerTrade:            getEnvFloat("MARGIN_PER_TRADE", 10),
		InitialBalance:            getEnvFloat("INITIAL_BALANCE", 1000),
		MaxOpenPositions:          getEnvInt("MAX_OPEN_POSITIONS", 8),
		MaintMarginRate:           getEnvFloat("MAINT_MARGIN_RATE", 0.004),
		DirectionFilter:           strings.ToLower(getEnv("DIRECTION_FILTER", "both")),
		ExitMode:                  strings.ToLower(getEnv("EXIT_MODE", "fixed_tp")),
		PnLTargetPercent:          getEnvFloat("PNL_TARGET_PERCENT", 0),
		RRDivider:                 getEnvFloat("RR_DIVIDER", 2),
		BaseTPPercent:             getEnvFloat("BASE_TP_PERCENT", 1.0),
		StopMultiplier:            getEnvFloat("STOP_MULTIPLIER", 1.5),
		TrailingATRMultiplier:     getEnvFloat("TRAILING_ATR_MULTIPLIER", 1.0),
		TrailingActivationPercent: getEnvFloat("TRAILING_ACTIVATION_PERCENT", 0),
		TrailingCallbackPercent:   getEnvFloat("TRAILING_CALLBACK_PERCENT", 0),
		Strategy:                  strings.ToLower(getEnv("STRATEGY", "ema_cross")),
		ATRPeriod:                 getEnvInt("ATR_PERIOD", 14),
		FastEMA:                   getEnvInt("FAST_EMA", 9),
		SlowEMA:                   getEnvInt("SLOW_EMA", 21),
		RSIPeriod:                 getEnvInt("RSI_PERIOD", 14),
		RSIOversold:               getEnvFloat("RSI_OVERSOLD", 30),
		RSIOverbought:             getEnvFloat("RSI_OVERBOUGHT", 70),
		BinanceTestnet:            getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceUSDTKey:            os.Getenv("BINANCE_USDT_KEY"),
		BinanceUSDTSecret:         os.Getenv("BINANCE_USDT_SECRET"),
		MarginType:                strings.ToUpper(getEnv("MARGIN_TYPE", "ISOLATED")),
		LegSpacing:                getEnvDuration("LEG_SPACING", 250*time.Millisecond),
		ReconcileInterval:         getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileGrace:            getEnvDuration("RECONCILE_GRACE", 30*time.Second),
		DBPath:                    getEnv("DB_PATH", "./data/trades.db"),
		JWTSecret:                 getEnv("JWT_SECRET", "dev-secret"),
		AdminUser:                 getEnv("ADMIN_USER", "admin"),
		AdminPassword:             os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordHash:         os.Getenv("ADMIN_PASSWORD_HASH"),
		EngineConfigPath:          getEnv("ENGINE_CONFIG", ""),
	}

	var err error
	if cfg.BacktestStart, err = getEnvTime("BACKTEST_START"); err != nil {
		return nil, err
	}
	if cfg.BacktestEnd, err = getEnvTime("BACKTEST_END"); err != nil {
		return nil, err
	}

	if cfg.EngineConfigPath != "" {
		file, err := LoadEngineFile(cfg.EngineConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load engine config: %w", err)
		}
		file.Apply(cfg)
	}

	if err := cfg.revealSecrets(os.Getenv); err != nil {
		return nil, err
	}

	if cfg.SessionID == "" {
		cfg.SessionID = cfg.Mode + "-" + uuid.NewString()[:8]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// revealSecrets opens credentials sealed with `encrypt-secret`.
func (c *Config) revealSecrets(lookup func(string) string) error {
	kr, err := crypto.LoadKeyring("CREDENTIALS_KEY", lookup)
	if err != nil {
		return fmt.Errorf("load credentials key: %w", err)
	}
	for name, field := range map[string]*string{
		"BINANCE_USDT_KEY":    &c.BinanceUSDTKey,
		"BINANCE_USDT_SECRET": &c.BinanceUSDTSecret,
		"JWT_SECRET":          &c.JWTSecret,
	} {
		plain, err := kr.Reveal(*field)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = plain
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePaper, ModeBacktest, ModeLive:
	default:
		return fmt.Errorf("invalid MODE %q", c.Mode)
	}
	switch c.ExitMode {
	case "fixed_tp", "trailing", "pnl_percent":
	default:
		return fmt.Errorf("invalid EXIT_MODE %q", c.ExitMode)
	}
	switch c.DirectionFilter {
	case "both", "long", "short":
	default:
		return fmt.Errorf("invalid DIRECTION_FILTER %q", c.DirectionFilter)
	}
	if len(c.Symbols) == 0 {
		return errors.New("SYMBOLS is empty")
	}
	if c.Leverage < 1 || c.Leverage > 125 {
		return fmt.Errorf("LEVERAGE out of range: %d", c.Leverage)
	}
	if c.MarginPerTrade <= 0 {
		return errors.New("MARGIN_PER_TRADE must be positive")
	}
	if c.MaxOpenPositions <= 0 {
		return errors.New("MAX_OPEN_POSITIONS must be positive")
	}
	if c.MaintMarginRate < 0 || c.MaintMarginRate >= 1 {
		return fmt.Errorf("MAINT_MARGIN_RATE out of range: %v", c.MaintMarginRate)
	}
	if c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("RSI_OVERSOLD %v must be below RSI_OVERBOUGHT %v", c.RSIOversold, c.RSIOverbought)
	}
	if c.RRDivider <= 0 {
		return errors.New("RR_DIVIDER must be positive")
	}
	if c.Mode == ModeLive && c.JWTSecret == "dev-secret" && (c.AdminPassword != "" || c.AdminPasswordHash != "") {
		return errors.New("live mode with API login requires a non-default JWT_SECRET")
	}
	if c.Mode == ModeLive && (c.BinanceUSDTKey == "" || c.BinanceUSDTSecret == "") {
		return errors.New("live mode requires BINANCE_USDT_KEY and BINANCE_USDT_SECRET")
	}
	if c.Mode == ModeBacktest {
		if c.BacktestStart.IsZero() {
			return errors.New("backtest mode requires BACKTEST_START")
		}
		if c.BacktestEnd.IsZero() {
			c.BacktestEnd = time.Now().UTC()
		}
		if !c.BacktestEnd.After(c.BacktestStart) {
			return errors.New("BACKTEST_END must be after BACKTEST_START")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getEnvTime accepts RFC3339 or a plain date (2006-01-02, UTC).
func getEnvTime(key string) (time.Time, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return t.UTC(), nil
}
