// Package app wires the pipeline together and runs one cycle at a
// time: universe build, per-symbol evaluation, merge, execution,
// snapshot publication.
package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/microrun/internal/archive"
	"github.com/sawpanic/microrun/internal/broker"
	"github.com/sawpanic/microrun/internal/config"
	"github.com/sawpanic/microrun/internal/httpapi"
	"github.com/sawpanic/microrun/internal/market"
	"github.com/sawpanic/microrun/internal/market/providers"
	"github.com/sawpanic/microrun/internal/metrics"
	"github.com/sawpanic/microrun/internal/ml"
	"github.com/sawpanic/microrun/internal/persistence"
	"github.com/sawpanic/microrun/internal/persistence/postgres"
	"github.com/sawpanic/microrun/internal/sentiment"
	"github.com/sawpanic/microrun/internal/signal"
	"github.com/sawpanic/microrun/internal/trader"
	"github.com/sawpanic/microrun/internal/universe"
)

// App owns every long-lived pipeline component.
type App struct {
	Config config.Config

	Data      *market.Router
	Universe  *universe.Builder
	Signals   *signal.Router
	Sentiment *sentiment.Engine
	Trader    *trader.Engine
	Stream    *broker.Stream
	Status    *httpapi.StatusStore
	Metrics   *metrics.Registry

	History persistence.Store
	Archive *archive.Writer
}

// New builds the full pipeline from configuration. Optional components
// (redis, postgres, parquet archive, classifier, sentiment) degrade to
// disabled when unconfigured.
func New(cfg config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Status:  httpapi.NewStatusStore(),
		Metrics: metrics.NewRegistry(),
	}

	dataProviders := buildProviders(cfg.Providers)
	if len(dataProviders) == 0 {
		return nil, fmt.Errorf("no market-data providers configured")
	}

	var cache market.Cache
	if cfg.Cache.RedisAddr != "" {
		cache = market.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.KeyPrefix)
		log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("using redis market-data cache")
	} else {
		cache = market.NewMemoryCache()
	}

	limiter := market.NewRateLimiter(cfg.Providers.RequestsPerSec, cfg.Providers.Burst)
	// Alpha Vantage free tier is far tighter than the others.
	limiter.SetBudget("alphavantage", 0.2, 1)

	a.Data = market.NewRouter(dataProviders, cache, limiter, market.RouterConfig{
		CallTimeout: cfg.Providers.CallTimeout,
		QuoteTTL:    cfg.Providers.QuoteTTL,
		BarTTL:      cfg.Providers.BarTTL,
		Breaker: market.BreakerConfig{
			FailureThreshold: cfg.Providers.FailureThreshold,
			OpenCooldown:     cfg.Providers.OpenCooldown,
			MaxCooldown:      cfg.Providers.MaxCooldown,
		},
	})
	a.Data.SetObserver(a.Metrics.RouterObserver())

	a.Universe = universe.NewBuilder(a.Data, universe.Config{
		ETFs:            cfg.Universe.ETFs,
		MinMarketCap:    cfg.Universe.MinMarketCap,
		MaxMarketCap:    cfg.Universe.MaxMarketCap,
		MinPrice:        cfg.Universe.MinPrice,
		MaxPrice:        cfg.Universe.MaxPrice,
		MinDollarVolume: cfg.Universe.MinDollarVolume,
		MinLiveSymbols:  cfg.Universe.MinLiveSymbols,
		MaxSymbols:      cfg.Universe.MaxSymbols,
		MaxConcurrent:   cfg.Providers.MaxConcurrent,
	})

	a.Signals = signal.NewRouter(
		signal.RouterConfig{ConflictMargin: cfg.Signals.ConflictMargin},
		buildStrategies(cfg, a.Data)...,
	)

	var src sentiment.Source
	if cfg.Sentiment.FinnhubKey != "" {
		src = sentiment.NewFinnhub(cfg.Sentiment.FinnhubKey)
	} else {
		log.Info().Msg("no sentiment key configured, scores default to neutral")
	}
	a.Sentiment = sentiment.NewEngine(src, cfg.Sentiment.TTL)

	trading := broker.NewAlpaca(cfg.Providers.AlpacaKey, cfg.Providers.AlpacaSecret, cfg.Providers.AlpacaTradeURL)
	a.Trader = trader.NewEngine(trading, trader.NewFileStore(cfg.Trading.StatePath), trader.Config{
		MaxPositionPct:  cfg.Trading.MaxPositionPct,
		MaxDailyLossPct: cfg.Trading.MaxDailyLossPct,
		AllocationPct:   cfg.Trading.AllocationPct,
		MinNotional:     cfg.Trading.MinNotional,
		MinConfidence:   cfg.Trading.MinConfidence,
		MaxPositions:    cfg.Trading.MaxPositions,
		DryRun:          cfg.Trading.DryRun,
	})
	a.Trader.SetObserver(func(outcome string) {
		a.Metrics.OrdersSubmitted.WithLabelValues(outcome).Inc()
	})
	if !cfg.Trading.DryRun {
		a.Stream = broker.NewStream(cfg.Providers.AlpacaKey, cfg.Providers.AlpacaSecret,
			cfg.Providers.AlpacaStreamURL, a.Trader.HandleFill)
	}

	if cfg.Postgres.DSN != "" {
		store, err := postgres.Open(cfg.Postgres.DSN, cfg.Postgres.Timeout)
		if err != nil {
			return nil, fmt.Errorf("postgres history: %w", err)
		}
		a.History = store
		log.Info().Msg("postgres cycle history enabled")
	}
	if cfg.Archive.Dir != "" {
		a.Archive = archive.NewWriter(cfg.Archive.Dir)
		log.Info().Str("dir", cfg.Archive.Dir).Msg("parquet bar archive enabled")
	}

	return a, nil
}

// Close releases long-lived resources.
func (a *App) Close() {
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			log.Warn().Err(err).Msg("history store close failed")
		}
	}
}

func buildProviders(cfg config.ProvidersConfig) []market.Provider {
	var out []market.Provider
	if cfg.AlpacaKey != "" {
		out = append(out, providers.NewAlpaca(cfg.AlpacaDataURL, cfg.AlpacaKey, cfg.AlpacaSecret))
	}
	if cfg.TwelveDataKey != "" {
		out = append(out, providers.NewTwelveData(cfg.TwelveDataKey))
	}
	if cfg.AlphaVantageKey != "" {
		out = append(out, providers.NewAlphaVantage(cfg.AlphaVantageKey))
	}
	return out
}

func buildStrategies(cfg config.Config, data signal.BarSource) []signal.Strategy {
	strategies := []signal.Strategy{
		signal.NewMomentumBreakout(),
		signal.NewMeanReversion(),
	}

	pairs := make([]signal.Pair, 0, len(cfg.Signals.Pairs))
	for _, p := range cfg.Signals.Pairs {
		if len(p) != 2 {
			log.Warn().Strs("pair", p).Msg("malformed pair, expected two symbols")
			continue
		}
		pairs = append(pairs, signal.Pair{Symbol: p[0], Reference: p[1]})
	}
	if len(pairs) > 0 {
		strategies = append(strategies, signal.NewPairArbitrage(data, pairs))
	}

	model, err := ml.Load(cfg.Model.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("path", cfg.Model.Path).Msg("classifier artifact missing, strategy disabled")
	case err != nil:
		log.Error().Err(err).Msg("classifier artifact unusable, strategy disabled")
	case !model.ExpectsFeatures(signal.FeatureNames):
		log.Error().Strs("model_features", model.Features).
			Msg("classifier feature list does not match, strategy disabled")
	default:
		log.Info().Str("version", model.Version).Msg("classifier loaded")
		strategies = append(strategies, signal.NewClassifier(model, cfg.Signals.ClassifierFloor))
	}

	return strategies
}
