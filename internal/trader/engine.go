package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/microrun/internal/broker"
	"github.com/sawpanic/microrun/internal/signal"
)

// Config holds the trader's risk limits.
type Config struct {
	MaxPositionPct  float64
	MaxDailyLossPct float64
	AllocationPct   float64
	MinNotional     float64
	MinConfidence   float64
	MaxPositions    int
	DryRun          bool
}

// Store persists the portfolio state. FileStore is the production
// implementation.
type Store interface {
	Load() (*PortfolioState, error)
	Save(state *PortfolioState) error
}

// Engine executes merged decisions against the brokerage under the risk
// gates, keeping the portfolio state durable across every mutation.
type Engine struct {
	client broker.Client
	store  Store
	config Config

	mu    sync.Mutex
	state *PortfolioState

	now     func() time.Time
	observe func(outcome string)
}

// NewEngine creates a trader. The persisted state is loaded lazily on
// the first Execute so a corrupt file surfaces as a cycle error, not a
// construction panic.
func NewEngine(client broker.Client, store Store, config Config) *Engine {
	return &Engine{
		client:  client,
		store:   store,
		config:  config,
		now:     time.Now,
		observe: func(string) {},
	}
}

// SetObserver registers a callback invoked with the outcome of every
// order attempt: submitted, rejected, dry_run or failed.
func (e *Engine) SetObserver(fn func(outcome string)) {
	if fn != nil {
		e.observe = fn
	}
}

// State returns a deep copy of the current portfolio state.
func (e *Engine) State() *PortfolioState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return NewPortfolioState()
	}
	return e.state.clone()
}

func (s *PortfolioState) clone() *PortfolioState {
	cp := *s
	cp.Positions = make(map[string]*Position, len(s.Positions))
	for sym, p := range s.Positions {
		pc := *p
		cp.Positions[sym] = &pc
	}
	return &cp
}

// Execute runs the decisions through the risk gates and submits bracket
// orders. Per-decision failures are logged and skipped; a persistence
// failure aborts all remaining submissions and is returned.
func (e *Engine) Execute(ctx context.Context, decisions []signal.Decision) (*PortfolioState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStateLocked(); err != nil {
		return nil, err
	}
	if err := e.reconcileLocked(ctx); err != nil {
		return nil, err
	}

	state := e.state

	if state.DailyLossBreached(e.config.MaxDailyLossPct) {
		log.Warn().
			Float64("day_start_equity", state.DayStartEquity).
			Float64("equity", state.Equity).
			Float64("max_daily_loss_pct", e.config.MaxDailyLossPct).
			Msg("daily loss breaker tripped, no new entries today")
		return state.clone(), nil
	}

	// Symbol order keeps runs reproducible regardless of merge order.
	ordered := make([]signal.Decision, len(decisions))
	copy(ordered, decisions)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Symbol < ordered[j].Symbol })

	for _, d := range ordered {
		if err := e.executeOneLocked(ctx, d); err != nil {
			if errors.Is(err, ErrPersistence) {
				log.Error().Err(err).Msg("state persistence failed, halting submissions for this cycle")
				return state.clone(), err
			}
			log.Warn().Str("symbol", d.Symbol).Err(err).Msg("decision skipped")
		}
	}
	return state.clone(), nil
}

func (e *Engine) ensureStateLocked() error {
	if e.state != nil {
		return nil
	}
	state, err := e.store.Load()
	if err != nil {
		return err
	}
	e.state = state
	return nil
}

// reconcileLocked overwrites local capital and positions with the
// brokerage's view. The brokerage is always the source of truth; local
// bookkeeping only fills in bracket levels the API does not echo back.
func (e *Engine) reconcileLocked(ctx context.Context) error {
	account, err := e.client.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("reconcile account: %w", err)
	}
	remote, err := e.client.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile positions: %w", err)
	}

	state := e.state
	state.Equity = account.Equity
	state.Cash = account.Cash
	state.EnsureTradingDay(e.now())

	remoteBySymbol := make(map[string]broker.Position, len(remote))
	for _, p := range remote {
		remoteBySymbol[p.Symbol] = p
	}

	// Local positions the brokerage no longer holds are gone: the exit
	// leg filled or someone flattened them out-of-band.
	for symbol, local := range state.Positions {
		if _, held := remoteBySymbol[symbol]; held {
			continue
		}
		if local.State == Open || local.State == EntrySubmitted {
			log.Info().Str("symbol", symbol).Msg("position closed at brokerage, dropping local record")
		}
		delete(state.Positions, symbol)
	}

	// Brokerage positions we have no record of are adopted as open.
	var unrealized float64
	for symbol, p := range remoteBySymbol {
		unrealized += p.UnrealizedPL
		local, ok := state.Positions[symbol]
		if !ok {
			side := string(broker.Buy)
			if p.Qty < 0 {
				side = string(broker.Sell)
			}
			state.Positions[symbol] = &Position{
				Symbol:     symbol,
				Qty:        int(math.Abs(p.Qty)),
				Side:       side,
				EntryPrice: p.AvgEntryPrice,
				State:      Open,
				OpenedAt:   e.now().UTC(),
			}
			log.Info().Str("symbol", symbol).Msg("adopted brokerage position missing locally")
			continue
		}
		local.Qty = int(math.Abs(p.Qty))
		local.EntryPrice = p.AvgEntryPrice
		if local.State == EntrySubmitted {
			local.State = Open
		}
	}
	state.UnrealizedPL = unrealized

	return e.store.Save(state)
}

func (e *Engine) executeOneLocked(ctx context.Context, d signal.Decision) error {
	state := e.state

	if d.Confidence < e.config.MinConfidence {
		return nil
	}
	if existing, ok := state.Positions[d.Symbol]; ok &&
		(existing.State == Open || existing.State == EntrySubmitted) {
		log.Debug().Str("symbol", d.Symbol).Msg("position already open, not pyramiding")
		return nil
	}
	if e.config.MaxPositions > 0 && state.OpenPositionCount() >= e.config.MaxPositions {
		return nil
	}

	qty, notional := e.allocate(state, d)
	if qty <= 0 || notional < e.config.MinNotional {
		log.Debug().
			Str("symbol", d.Symbol).
			Float64("notional", notional).
			Msg("allocation below minimum notional, skipping")
		return nil
	}

	side := broker.Buy
	if d.Direction == signal.Short {
		side = broker.Sell
	}

	if e.config.DryRun {
		log.Info().
			Str("symbol", d.Symbol).
			Str("side", string(side)).
			Int("qty", qty).
			Float64("entry", d.Entry).
			Float64("take_profit", d.TakeProfit).
			Float64("stop_loss", d.StopLoss).
			Msg("dry run, order not submitted")
		e.observe("dry_run")
		return nil
	}

	order, err := e.client.SubmitBracketOrder(ctx, broker.BracketRequest{
		Symbol:        d.Symbol,
		Qty:           qty,
		Side:          side,
		TakeProfit:    d.TakeProfit,
		StopLoss:      d.StopLoss,
		ClientOrderID: fmt.Sprintf("%s-%s", d.CycleID, d.Symbol),
	})
	if err != nil {
		var rej *broker.RejectionError
		if errors.As(err, &rej) {
			log.Warn().Str("symbol", d.Symbol).Str("reason", rej.Reason).Msg("order rejected by brokerage")
			e.observe("rejected")
			return nil
		}
		e.observe("failed")
		return fmt.Errorf("submit order: %w", err)
	}
	e.observe("submitted")

	state.Positions[d.Symbol] = &Position{
		Symbol:     d.Symbol,
		Qty:        qty,
		Side:       string(side),
		EntryPrice: d.Entry,
		TakeProfit: d.TakeProfit,
		StopLoss:   d.StopLoss,
		OrderID:    order.ID,
		State:      EntrySubmitted,
		CycleID:    d.CycleID,
		OpenedAt:   e.now().UTC(),
	}
	state.Cash -= float64(qty) * d.Entry

	log.Info().
		Str("symbol", d.Symbol).
		Str("order_id", order.ID).
		Int("qty", qty).
		Float64("entry", d.Entry).
		Float64("take_profit", d.TakeProfit).
		Float64("stop_loss", d.StopLoss).
		Msg("bracket order submitted")

	return e.store.Save(state)
}

// allocate sizes a position: confidence-scaled fraction of equity,
// capped by the per-position limit and available cash, floored to whole
// shares.
func (e *Engine) allocate(state *PortfolioState, d signal.Decision) (int, float64) {
	if d.Entry <= 0 {
		return 0, 0
	}
	notional := state.Equity * e.config.AllocationPct * d.Confidence
	notional = math.Min(notional, state.Equity*e.config.MaxPositionPct)
	notional = math.Min(notional, state.Cash)
	if notional <= 0 {
		return 0, 0
	}
	qty := int(math.Floor(notional / d.Entry))
	return qty, float64(qty) * d.Entry
}

// HandleFill applies one trade-update event from the brokerage stream.
// Exit-leg fills close the position and book realized P&L.
func (e *Engine) HandleFill(fill broker.Fill) {
	if fill.Event != "fill" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return
	}

	position, ok := e.state.Positions[fill.Symbol]
	if !ok {
		return
	}

	switch position.State {
	case EntrySubmitted:
		position.State = Open
		position.EntryPrice = fill.Price
		log.Info().
			Str("symbol", fill.Symbol).
			Float64("fill_price", fill.Price).
			Msg("entry filled, position open")
	case Open:
		pl := (fill.Price - position.EntryPrice) * float64(position.Qty)
		if position.Side == string(broker.Sell) {
			pl = -pl
		}
		e.state.RealizedPL += pl
		e.state.Cash += fill.Price * float64(position.Qty)

		exit := ManuallyFlattened
		if position.Side == string(broker.Buy) && fill.Price >= position.TakeProfit {
			exit = TakeProfitFilled
		} else if position.Side == string(broker.Buy) && fill.Price <= position.StopLoss {
			exit = StopLossFilled
		}
		log.Info().
			Str("symbol", fill.Symbol).
			Str("exit", string(exit)).
			Float64("realized_pl", pl).
			Msg("position closed")
		delete(e.state.Positions, fill.Symbol)
	default:
		return
	}

	if err := e.store.Save(e.state); err != nil {
		log.Error().Err(err).Msg("state persistence failed after fill")
	}
}
