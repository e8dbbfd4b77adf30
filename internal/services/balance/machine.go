// Package balance owns the single displayed balance of the signed-in user and
// decides which source may overwrite it.
package balance

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/services/pricer"
)

var (
	// ErrInitializing is returned for triggers that arrive before the first
	// reconciliation settled. The trigger is dropped.
	ErrInitializing = errors.New("balance is initializing")
	// ErrForeignEmail is returned for pushes addressed to another user.
	ErrForeignEmail = errors.New("push update for another user")
	// ErrStale is returned when the machine was reset while a pass was running.
	ErrStale = errors.New("balance pass superseded by reset")
)

// Visibility of the displayed value.
type Visibility int

const (
	Shown Visibility = iota
	Masked
)

// Renderer receives every view the machine publishes.
type Renderer interface {
	Render(view domain.BalanceView)
}

// Cache keeps the last displayed value across restarts.
type Cache interface {
	CachedBalance() (decimal.Decimal, bool)
	StoreBalance(v decimal.Decimal) error
}

type aggregator interface {
	LoadHoldings(ctx context.Context, email string) error
	ApplyPrices(quotes map[string]domain.Quote)
	AggregateValue() decimal.Decimal
	WeightedChange() decimal.Decimal
	Snapshot() []domain.Holding
	OracleIDs() []string
}

// State is a copy of the machine's flags.
type State struct {
	DisplayValue   decimal.Decimal
	HasValue       bool
	Change         decimal.Decimal
	IsLoaded       bool
	IsLivePriced   bool
	IsInitializing bool
	Visibility     Visibility
}

// Machine is the only writer of the displayed balance.
type Machine struct {
	logger   *zap.Logger
	email    string
	agg      aggregator
	oracle   pricer.Oracle
	renderer Renderer
	cache    Cache
	now      func() time.Time

	mu    sync.Mutex
	state State
	gen   uint64
}

// NewMachine creates a machine in the loading state. A cached value, if any,
// becomes the last known value.
func NewMachine(logger *zap.Logger, email string, agg aggregator, oracle pricer.Oracle, renderer Renderer, cache Cache) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		logger:   logger.With(zap.String("email", email)),
		email:    email,
		agg:      agg,
		oracle:   oracle,
		renderer: renderer,
		cache:    cache,
		now:      time.Now,
	}
	m.state = m.freshState()
	return m
}

// Email returns the user this machine belongs to.
func (m *Machine) Email() string {
	return m.email
}

// Initialize runs the first reconciliation: placeholder, provisional value
// from default prices, then live prices. Pushes are refused until it returns.
func (m *Machine) Initialize(ctx context.Context) error {
	m.mu.Lock()
	m.state.IsLoaded = false
	m.state.IsLivePriced = false
	m.state.IsInitializing = true
	gen := m.gen
	m.renderLocked()
	m.mu.Unlock()

	loaded := false
	defer func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			return
		}
		m.state.IsInitializing = false
		if loaded {
			m.state.IsLoaded = true
			m.state.HasValue = true
		} else {
			m.state.IsLoaded = m.state.HasValue
		}
		m.renderLocked()
		m.logger.Info("balance initialized",
			zap.Bool("loaded", m.state.IsLoaded),
			zap.Bool("live_priced", m.state.IsLivePriced),
			zap.String("value", m.state.DisplayValue.String()))
	}()

	if err := m.agg.LoadHoldings(ctx, m.email); err != nil {
		m.logger.Warn("failed to load holdings, keeping last known balance", zap.Error(err))
		return err
	}
	loaded = true

	provisional := m.agg.AggregateValue()
	if provisional.IsPositive() {
		if !m.commit(gen, provisional) {
			return ErrStale
		}
	}

	return m.applyLivePrices(ctx, gen)
}

// ApplyPushUpdate adopts an administrator-set balance immediately, then lets a
// positive live portfolio value overwrite it.
func (m *Machine) ApplyPushUpdate(ctx context.Context, storedBalance decimal.Decimal, forEmail string) error {
	m.mu.Lock()
	if m.state.IsInitializing {
		m.mu.Unlock()
		return ErrInitializing
	}
	if forEmail != m.email {
		m.mu.Unlock()
		return errors.Wrapf(ErrForeignEmail, "got %s", forEmail)
	}
	if storedBalance.IsNegative() {
		storedBalance = decimal.Zero
	}
	gen := m.gen
	m.setValueLocked(storedBalance)
	m.mu.Unlock()

	return m.reconcile(ctx, gen)
}

// Refresh re-runs the full reconciliation without dropping back to the placeholder.
func (m *Machine) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state.IsInitializing {
		m.mu.Unlock()
		return ErrInitializing
	}
	gen := m.gen
	m.mu.Unlock()

	return m.reconcile(ctx, gen)
}

// RefreshPrices reprices the current holdings without reading the record store.
func (m *Machine) RefreshPrices(ctx context.Context) error {
	m.mu.Lock()
	if m.state.IsInitializing {
		m.mu.Unlock()
		return ErrInitializing
	}
	gen := m.gen
	m.mu.Unlock()

	return m.applyLivePrices(ctx, gen)
}

// ToggleVisibility flips between shown and masked and returns the new mode.
func (m *Machine) ToggleVisibility() Visibility {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Visibility == Shown {
		m.state.Visibility = Masked
	} else {
		m.state.Visibility = Shown
	}
	m.renderLocked()
	return m.state.Visibility
}

// Reset drops back to the loading state. The cached value, if any, becomes the
// last known value again. Passes started before Reset cannot write afterwards.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.state = m.freshState()
	m.renderLocked()
}

// State returns a copy of the current flags.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// View renders the current state.
func (m *Machine) View() domain.BalanceView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// DisplayValue returns the current balance when one is shown.
func (m *Machine) DisplayValue() (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DisplayValue, m.state.IsLoaded && m.state.HasValue
}

func (m *Machine) reconcile(ctx context.Context, gen uint64) error {
	if err := m.agg.LoadHoldings(ctx, m.email); err != nil {
		m.logger.Warn("failed to reload holdings, keeping last known balance", zap.Error(err))
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrStale
	}
	if !m.state.IsLoaded {
		// first successful load after a failed initialize: publish the
		// provisional value before asking the oracle, as Initialize does
		if provisional := m.agg.AggregateValue(); provisional.IsPositive() {
			m.state.Change = m.agg.WeightedChange()
			m.setValueLocked(provisional)
		} else {
			m.state.IsLoaded = true
			m.state.HasValue = true
			m.renderLocked()
		}
	}
	m.mu.Unlock()

	return m.applyLivePrices(ctx, gen)
}

func (m *Machine) applyLivePrices(ctx context.Context, gen uint64) error {
	quotes, err := m.oracle.FetchPrices(ctx, m.agg.OracleIDs())
	if err != nil {
		m.logger.Warn("live prices unavailable, keeping last computed balance", zap.Error(err))
		return errors.Wrap(err, "fetch live prices")
	}

	m.agg.ApplyPrices(quotes)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrStale
	}
	m.state.IsLivePriced = true
	m.state.Change = m.agg.WeightedChange()

	live := m.agg.AggregateValue()
	if live.IsPositive() {
		m.setValueLocked(live)
		return nil
	}
	// zero live value means no holdings, never "clear the balance"
	m.renderLocked()
	return nil
}

// commit sets a positive value if gen is still current.
func (m *Machine) commit(gen uint64, v decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.state.Change = m.agg.WeightedChange()
	m.setValueLocked(v)
	return true
}

func (m *Machine) setValueLocked(v decimal.Decimal) {
	m.state.DisplayValue = v
	m.state.HasValue = true
	m.state.IsLoaded = true
	if m.cache != nil {
		if err := m.cache.StoreBalance(v); err != nil {
			m.logger.Warn("failed to cache balance", zap.Error(err))
		}
	}
	m.renderLocked()
}

func (m *Machine) renderLocked() {
	if m.renderer == nil {
		return
	}
	m.renderer.Render(m.viewLocked())
}

func (m *Machine) viewLocked() domain.BalanceView {
	s := m.state
	masked := s.Visibility == Masked

	display := domain.PlaceholderValue
	change := domain.PlaceholderChange
	if s.IsLoaded && s.HasValue {
		display = domain.FormatUSD(s.DisplayValue)
		change = domain.FormatChange(s.Change)
	}
	if masked {
		display = domain.Mask(display)
	}

	snapshot := m.agg.Snapshot()
	holdings := make([]domain.HoldingView, 0, len(snapshot))
	for _, h := range snapshot {
		holdings = append(holdings, domain.NewHoldingView(h, s.IsLivePriced, masked))
	}

	return domain.BalanceView{
		Timestamp:    m.now().UTC(),
		Email:        m.email,
		DisplayValue: display,
		ChangeLabel:  change,
		Loaded:       s.IsLoaded,
		LivePriced:   s.IsLivePriced,
		Masked:       masked,
		Holdings:     holdings,
	}
}

func (m *Machine) freshState() State {
	s := State{IsInitializing: true}
	if m.cache != nil {
		if v, ok := m.cache.CachedBalance(); ok && !v.IsNegative() {
			s.DisplayValue = v
			s.HasValue = true
		}
	}
	return s
}
