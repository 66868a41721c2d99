// Package config loads microrun configuration from a YAML file with
// environment-variable overrides for credentials and limits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a microrun process.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Universe  UniverseConfig  `yaml:"universe"`
	Signals   SignalsConfig   `yaml:"signals"`
	Trading   TradingConfig   `yaml:"trading"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Cache     CacheConfig     `yaml:"cache"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
	Model     ModelConfig     `yaml:"model"`
}

// ProvidersConfig holds market-data provider credentials and tuning.
// Priority order is fixed: alpaca -> twelvedata -> alphavantage.
type ProvidersConfig struct {
	AlpacaKey       string `yaml:"-"`
	AlpacaSecret    string `yaml:"-"`
	AlpacaTradeURL  string `yaml:"alpaca_trade_url"`
	AlpacaDataURL   string `yaml:"alpaca_data_url"`
	AlpacaStreamURL string `yaml:"alpaca_stream_url"`
	TwelveDataKey   string `yaml:"-"`
	AlphaVantageKey string `yaml:"-"`

	CallTimeout      time.Duration `yaml:"call_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenCooldown     time.Duration `yaml:"open_cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
	RequestsPerSec   float64       `yaml:"requests_per_sec"`
	Burst            int           `yaml:"burst"`
	QuoteTTL         time.Duration `yaml:"quote_ttl"`
	BarTTL           time.Duration `yaml:"bar_ttl"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
}

// UniverseConfig bounds the candidate filter.
type UniverseConfig struct {
	ETFs            []string `yaml:"etfs"`
	MinMarketCap    float64  `yaml:"min_market_cap"`
	MaxMarketCap    float64  `yaml:"max_market_cap"`
	MinPrice        float64  `yaml:"min_price"`
	MaxPrice        float64  `yaml:"max_price"`
	MinDollarVolume float64  `yaml:"min_dollar_volume"`
	MinLiveSymbols  int      `yaml:"min_live_symbols"`
	MaxSymbols      int      `yaml:"max_symbols"`
}

// SignalsConfig tunes signal generation and merging.
type SignalsConfig struct {
	BarInterval     string     `yaml:"bar_interval"`
	BarLookback     int        `yaml:"bar_lookback"`
	ReferenceETF    string     `yaml:"reference_etf"`
	Pairs           [][]string `yaml:"pairs"`
	ConflictMargin  float64    `yaml:"conflict_margin"`
	ClassifierFloor float64    `yaml:"classifier_floor"`
}

// TradingConfig holds risk limits for the trader engine.
type TradingConfig struct {
	MaxPositionPct  float64 `yaml:"max_position_pct"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
	AllocationPct   float64 `yaml:"allocation_pct"`
	MinNotional     float64 `yaml:"min_notional"`
	MinConfidence   float64 `yaml:"min_confidence"`
	MaxPositions    int     `yaml:"max_positions"`
	StatePath       string  `yaml:"state_path"`
	DryRun          bool    `yaml:"dry_run"`
}

// SentimentConfig tunes the sentiment collaborator.
type SentimentConfig struct {
	FinnhubKey string        `yaml:"-"`
	TTL        time.Duration `yaml:"ttl"`
}

// CacheConfig selects the quote/bar cache backend. An empty RedisAddr
// means the in-process cache.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// PostgresConfig enables durable decision/snapshot history when DSN is set.
type PostgresConfig struct {
	DSN     string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// ArchiveConfig enables parquet bar archival when Dir is set.
type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

// SchedulerConfig drives the cycle loop.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig configures the read-only status server.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ModelConfig points at the classifier artifact.
type ModelConfig struct {
	Path string `yaml:"path"`
}

// Default returns production-ready defaults. Filter constants follow the
// small-cap profile: sub-$2B cap, $2 price floor, $250k daily dollar volume.
func Default() Config {
	return Config{
		Providers: ProvidersConfig{
			AlpacaTradeURL:   "https://paper-api.alpaca.markets",
			AlpacaDataURL:    "https://data.alpaca.markets/v2",
			AlpacaStreamURL:  "wss://paper-api.alpaca.markets/stream",
			CallTimeout:      10 * time.Second,
			FailureThreshold: 3,
			OpenCooldown:     30 * time.Second,
			MaxCooldown:      10 * time.Minute,
			RequestsPerSec:   5,
			Burst:            10,
			QuoteTTL:         30 * time.Second,
			BarTTL:           5 * time.Minute,
			MaxConcurrent:    8,
		},
		Universe: UniverseConfig{
			ETFs:            []string{"IWM", "IWC", "VTWO"},
			MinMarketCap:    50_000_000,
			MaxMarketCap:    2_000_000_000,
			MinPrice:        2.0,
			MaxPrice:        500.0,
			MinDollarVolume: 250_000,
			MinLiveSymbols:  20,
			MaxSymbols:      150,
		},
		Signals: SignalsConfig{
			BarInterval:     "1day",
			BarLookback:     120,
			ReferenceETF:    "IWM",
			Pairs:           [][]string{{"IWM", "URTY"}, {"AMD", "SMH"}, {"NVDA", "SOXX"}},
			ConflictMargin:  0.10,
			ClassifierFloor: 0.60,
		},
		Trading: TradingConfig{
			MaxPositionPct:  0.10,
			MaxDailyLossPct: 0.03,
			AllocationPct:   0.10,
			MinNotional:     200.0,
			MinConfidence:   0.45,
			MaxPositions:    10,
			StatePath:       "data/portfolio_state.json",
		},
		Sentiment: SentimentConfig{TTL: 30 * time.Minute},
		Cache:     CacheConfig{KeyPrefix: "microrun:"},
		Postgres:  PostgresConfig{Timeout: 5 * time.Second},
		Scheduler: SchedulerConfig{Interval: 15 * time.Minute},
		HTTP:      HTTPConfig{ListenAddr: ":8089"},
		Model:     ModelConfig{Path: "models/smallcap_gbdt.json"},
	}
}

// Load reads the YAML file at path (optional), applies environment
// overrides and validates the result. A missing file is not an error:
// defaults plus environment are enough to run.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Providers.AlpacaKey = firstEnv("ALPACA_API_KEY", "APCA_API_KEY_ID")
	c.Providers.AlpacaSecret = firstEnv("ALPACA_API_SECRET", "APCA_API_SECRET_KEY")
	if v := os.Getenv("ALPACA_API_BASE_URL"); v != "" {
		c.Providers.AlpacaTradeURL = v
	}
	if v := os.Getenv("ALPACA_API_DATA_URL"); v != "" {
		c.Providers.AlpacaDataURL = v
	}
	c.Providers.TwelveDataKey = firstEnv("TWELVEDATA_API_KEY", "TWELVEDATA_KEY")
	c.Providers.AlphaVantageKey = firstEnv("ALPHAVANTAGE_API_KEY", "ALPHAVANTAGE_KEY")
	c.Sentiment.FinnhubKey = os.Getenv("FINNHUB_API_KEY")
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	c.Cache.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.Postgres.DSN = os.Getenv("POSTGRES_DSN")

	if v := os.Getenv("MICROCAP_ETFS"); v != "" {
		etfs := make([]string, 0, 4)
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.ToUpper(strings.TrimSpace(tok)); tok != "" {
				etfs = append(etfs, tok)
			}
		}
		if len(etfs) > 0 {
			c.Universe.ETFs = etfs
		}
	}
	if v, ok := envFloat("MAX_POSITION_PCT"); ok {
		c.Trading.MaxPositionPct = v
	}
	if v, ok := envFloat("MAX_DAILY_LOSS_PCT"); ok {
		c.Trading.MaxDailyLossPct = v
	}
	if v, ok := envFloat("MIN_CONFIDENCE"); ok {
		c.Trading.MinConfidence = v
	}
	if v := os.Getenv("PORTFOLIO_STATE_PATH"); v != "" {
		c.Trading.StatePath = v
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v, ok := envFloat("SCHEDULER_INTERVAL_SECONDS"); ok {
		c.Scheduler.Interval = time.Duration(v * float64(time.Second))
	}
}

// Validate enforces startup invariants. Any error here is fatal: running
// with a broken risk limit would be worse than not running.
func (c *Config) Validate() error {
	if c.Providers.AlpacaKey == "" || c.Providers.AlpacaSecret == "" {
		return fmt.Errorf("config invalid: alpaca credentials missing (ALPACA_API_KEY / ALPACA_API_SECRET)")
	}
	if c.Trading.MaxPositionPct <= 0 || c.Trading.MaxPositionPct > 1 {
		return fmt.Errorf("config invalid: max_position_pct %.4f outside (0,1]", c.Trading.MaxPositionPct)
	}
	if c.Trading.MaxDailyLossPct <= 0 || c.Trading.MaxDailyLossPct >= 1 {
		return fmt.Errorf("config invalid: max_daily_loss_pct %.4f outside (0,1)", c.Trading.MaxDailyLossPct)
	}
	if c.Universe.MinMarketCap >= c.Universe.MaxMarketCap {
		return fmt.Errorf("config invalid: market cap bounds [%.0f, %.0f]", c.Universe.MinMarketCap, c.Universe.MaxMarketCap)
	}
	if c.Universe.MinPrice >= c.Universe.MaxPrice {
		return fmt.Errorf("config invalid: price bounds [%.2f, %.2f]", c.Universe.MinPrice, c.Universe.MaxPrice)
	}
	if len(c.Universe.ETFs) == 0 {
		return fmt.Errorf("config invalid: universe needs at least one ETF")
	}
	if c.Scheduler.Interval < time.Minute {
		return fmt.Errorf("config invalid: scheduler interval %s below 1m", c.Scheduler.Interval)
	}
	if c.Signals.ConflictMargin < 0 || c.Signals.ConflictMargin > 1 {
		return fmt.Errorf("config invalid: conflict_margin %.2f outside [0,1]", c.Signals.ConflictMargin)
	}
	for _, pair := range c.Signals.Pairs {
		if len(pair) != 2 {
			return fmt.Errorf("config invalid: pair %v must have exactly two symbols", pair)
		}
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
