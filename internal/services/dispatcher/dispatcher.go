// Package dispatcher schedules every balance reconciliation trigger for one
// session: initial load, record pushes, timers and window focus.
package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/events"
	"github.com/vadiminshakov/walletsync/internal/services/balance"
	"github.com/vadiminshakov/walletsync/pkg/retrier"
)

const (
	// DefaultPriceInterval is also the minimum, to stay under the oracle rate limit.
	DefaultPriceInterval = 15 * time.Second
	FastFullRefresh      = 30 * time.Second
	SlowFullRefresh      = 300 * time.Second
)

// Phase of the dispatcher lifecycle.
type Phase int32

const (
	Idle Phase = iota
	Initializing
	Ready
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

type balanceMachine interface {
	Email() string
	Initialize(ctx context.Context) error
	ApplyPushUpdate(ctx context.Context, storedBalance decimal.Decimal, forEmail string) error
	Refresh(ctx context.Context) error
	RefreshPrices(ctx context.Context) error
}

type recordSubscriber interface {
	Subscribe(email string) (*events.Subscription, error)
	Unsubscribe(sub *events.Subscription)
}

// Config holds the timer intervals and the push resubscription policy.
type Config struct {
	PriceInterval       time.Duration
	FullRefreshInterval time.Duration
	ResubscribeBackoff  time.Duration
	ResubscribeAttempts int
}

// Dispatcher runs at most one reconciliation pass at a time. Triggers that
// arrive during a pass are coalesced; triggers that arrive before the initial
// load settled are dropped.
type Dispatcher struct {
	logger  *zap.Logger
	machine balanceMachine
	subs    recordSubscriber
	cfg     Config
	retrier *retrier.Retrier

	focus chan struct{}
	phase atomic.Int32
}

// New creates a dispatcher. Zero intervals take the defaults.
func New(logger *zap.Logger, machine balanceMachine, subs recordSubscriber, cfg Config) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PriceInterval <= 0 {
		cfg.PriceInterval = DefaultPriceInterval
	}
	if cfg.FullRefreshInterval <= 0 {
		cfg.FullRefreshInterval = FastFullRefresh
	}
	if cfg.ResubscribeBackoff <= 0 {
		cfg.ResubscribeBackoff = time.Second
	}
	if cfg.ResubscribeAttempts <= 0 {
		cfg.ResubscribeAttempts = 10
	}

	d := &Dispatcher{
		logger:  logger.With(zap.String("email", machine.Email())),
		machine: machine,
		subs:    subs,
		cfg:     cfg,
		focus:   make(chan struct{}, 1),
	}
	d.retrier = retrier.New(
		retrier.WithInitialInterval(cfg.ResubscribeBackoff),
		retrier.WithMaxInterval(30*cfg.ResubscribeBackoff),
		retrier.WithMaxRetries(cfg.ResubscribeAttempts),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			d.logger.Warn("push subscription failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	return d
}

// Phase reports the current lifecycle phase.
func (d *Dispatcher) Phase() Phase {
	return Phase(d.phase.Load())
}

// NotifyFocus requests a full refresh. Never blocks.
func (d *Dispatcher) NotifyFocus() {
	select {
	case d.focus <- struct{}{}:
	default:
	}
}

type pending struct {
	push   *decimal.Decimal
	email  string
	full   bool
	prices bool
}

// Run subscribes to record changes, starts the initial load and serves
// triggers until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	email := d.machine.Email()

	sub, err := d.subscribe(ctx, email, nil)
	if err != nil {
		return errors.Wrap(err, "subscribe to record changes")
	}
	defer func() {
		if sub != nil {
			d.subs.Unsubscribe(sub)
		}
		d.phase.Store(int32(Idle))
	}()

	d.phase.Store(int32(Initializing))
	d.logger.Info("balance dispatcher starting",
		zap.Duration("price_interval", d.cfg.PriceInterval),
		zap.Duration("full_refresh_interval", d.cfg.FullRefreshInterval))

	initDone := make(chan error, 1)
	go func() { initDone <- d.machine.Initialize(ctx) }()

	priceTicker := time.NewTicker(d.cfg.PriceInterval)
	defer priceTicker.Stop()
	fullTicker := time.NewTicker(d.cfg.FullRefreshInterval)
	defer fullTicker.Stop()

	var (
		queue    pending
		running  bool
		passDone = make(chan error, 1)
	)
	kick := func() {
		if running || d.Phase() != Ready {
			return
		}
		var pass func(context.Context) error
		switch {
		case queue.push != nil:
			v, forEmail := *queue.push, queue.email
			pass = func(ctx context.Context) error { return d.machine.ApplyPushUpdate(ctx, v, forEmail) }
			// a push pass reloads holdings and prices too
			queue = pending{}
		case queue.full:
			pass = d.machine.Refresh
			queue.full, queue.prices = false, false
		case queue.prices:
			pass = d.machine.RefreshPrices
			queue.prices = false
		default:
			return
		}
		running = true
		go func() { passDone <- pass(ctx) }()
	}

	for {
		var subC <-chan domain.RecordChange
		if sub != nil {
			subC = sub.C
		}

		select {
		case <-ctx.Done():
			d.logger.Info("balance dispatcher stopped")
			return ctx.Err()

		case err := <-initDone:
			d.logPassResult("initial load", err)
			d.phase.Store(int32(Ready))
			kick()

		case change, ok := <-subC:
			if !ok {
				sub, err = d.subscribe(ctx, email, sub)
				if err != nil {
					d.logger.Error("giving up on push subscription, relying on periodic refresh", zap.Error(err))
					sub = nil
				}
				continue
			}
			if d.Phase() != Ready {
				d.logger.Debug("dropping push during initial load")
				continue
			}
			v := change.Record.StoredBalance()
			queue.push, queue.email = &v, change.Email
			kick()

		case <-d.focus:
			if d.Phase() != Ready {
				d.logger.Debug("dropping focus refresh during initial load")
				continue
			}
			queue.full = true
			kick()

		case <-fullTicker.C:
			if d.Phase() != Ready {
				continue
			}
			queue.full = true
			kick()

		case <-priceTicker.C:
			if d.Phase() != Ready {
				continue
			}
			queue.prices = true
			kick()

		case err := <-passDone:
			running = false
			d.logPassResult("refresh", err)
			kick()
		}
	}
}

// subscribe replaces prev with a fresh subscription, retrying with backoff.
func (d *Dispatcher) subscribe(ctx context.Context, email string, prev *events.Subscription) (*events.Subscription, error) {
	if prev != nil {
		d.subs.Unsubscribe(prev)
	}
	return retrier.DoWithData(d.retrier, ctx, func(ctx context.Context) (*events.Subscription, error) {
		return d.subs.Subscribe(email)
	})
}

func (d *Dispatcher) logPassResult(name string, err error) {
	switch {
	case err == nil:
		d.logger.Debug("balance pass finished", zap.String("pass", name))
	case errors.Is(err, balance.ErrInitializing), errors.Is(err, balance.ErrStale), errors.Is(err, context.Canceled):
		d.logger.Debug("balance pass skipped", zap.String("pass", name), zap.Error(err))
	default:
		d.logger.Warn("balance pass failed", zap.String("pass", name), zap.Error(err))
	}
}
