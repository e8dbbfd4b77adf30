package internal

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/walletsync/config"
	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/events"
	"github.com/vadiminshakov/walletsync/internal/services/balance"
	"github.com/vadiminshakov/walletsync/internal/services/dispatcher"
	"github.com/vadiminshakov/walletsync/internal/services/portfolio"
)

// ErrSignedOut is returned by session operations after Logout.
var ErrSignedOut = errors.New("wallet session signed out")

type recordSource interface {
	ReadUser(ctx context.Context, email string) (domain.UserRecord, error)
	ReadUserPortfolio(ctx context.Context, email string) (map[string]decimal.Decimal, error)
	Subscribe(email string) (*events.Subscription, error)
	Unsubscribe(sub *events.Subscription)
}

type identityStore interface {
	balance.Cache
	SignOut() error
}

// WalletSession is the balance view of one signed-in user: the state machine
// plus the dispatcher that drives it.
type WalletSession struct {
	Email string

	logger     *zap.Logger
	records    recordSource
	identity   identityStore
	machine    *balance.Machine
	dispatcher *dispatcher.Dispatcher

	mu        sync.Mutex
	cancel    context.CancelFunc
	signedOut bool
}

// NewWalletSession wires a session for email. client is one of the values
// returned by NewOracleClient.
func NewWalletSession(
	logger *zap.Logger,
	conf config.Config,
	email string,
	client any,
	records recordSource,
	renderer balance.Renderer,
	identity identityStore,
) (*WalletSession, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	oracle, err := newOracle(client, conf.OracleURL, conf.OracleTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create price oracle")
	}

	var cache balance.Cache
	if identity != nil {
		cache = identity
	}

	sessionLogger := logger.With(zap.String("oracle", conf.Oracle))
	machine := balance.NewMachine(sessionLogger, email, portfolio.NewAggregator(records), oracle, renderer, cache)
	disp := dispatcher.New(sessionLogger, machine, records, dispatcher.Config{
		PriceInterval:       conf.PriceRefreshInterval,
		FullRefreshInterval: conf.FullRefreshInterval,
	})

	return &WalletSession{
		Email:      email,
		logger:     sessionLogger.With(zap.String("email", email)),
		records:    records,
		identity:   identity,
		machine:    machine,
		dispatcher: disp,
	}, nil
}

// Run drives the balance until ctx is done or the user logs out.
func (s *WalletSession) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.signedOut {
		s.mu.Unlock()
		return ErrSignedOut
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.logger.Info("wallet session started")
	err := s.dispatcher.Run(ctx)

	s.mu.Lock()
	signedOut := s.signedOut
	s.mu.Unlock()
	if signedOut {
		s.logger.Info("wallet session ended by logout")
		return nil
	}
	return err
}

// View returns what the user currently sees.
func (s *WalletSession) View() domain.BalanceView {
	return s.machine.View()
}

// NotifyFocus asks for a full refresh, as when the wallet window regains focus.
func (s *WalletSession) NotifyFocus() {
	s.dispatcher.NotifyFocus()
}

// ToggleVisibility flips the balance mask and reports whether it is now masked.
func (s *WalletSession) ToggleVisibility() bool {
	return s.machine.ToggleVisibility() == balance.Masked
}

// Ready reports whether the initial load settled.
func (s *WalletSession) Ready() bool {
	return s.dispatcher.Phase() == dispatcher.Ready
}

// SignedIn reports whether Logout has not been called.
func (s *WalletSession) SignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.signedOut
}

// QuoteSend prices a simulated withdrawal against the displayed balance.
func (s *WalletSession) QuoteSend(ctx context.Context, req domain.SendRequest) (domain.SendQuote, error) {
	if !s.SignedIn() {
		return domain.SendQuote{}, ErrSignedOut
	}
	rec, err := s.records.ReadUser(ctx, s.Email)
	if err != nil {
		return domain.SendQuote{}, errors.Wrap(err, "read user record")
	}

	current, ok := s.machine.DisplayValue()
	if !ok {
		current = decimal.Zero
	}
	quote, err := domain.QuoteSend(req, current, rec)
	if err != nil {
		return domain.SendQuote{}, err
	}
	s.logger.Info("send quoted",
		zap.String("symbol", quote.Symbol),
		zap.String("amount", quote.Amount.String()),
		zap.String("fee", quote.Fee.String()))
	return quote, nil
}

// Logout stops the dispatcher, resets the displayed balance and clears the
// identity. The cached balance survives for the next sign-in.
func (s *WalletSession) Logout() error {
	s.mu.Lock()
	if s.signedOut {
		s.mu.Unlock()
		return nil
	}
	s.signedOut = true
	cancel := s.cancel
	s.mu.Unlock()

	s.machine.Reset()
	if cancel != nil {
		cancel()
	}

	if s.identity != nil {
		if err := s.identity.SignOut(); err != nil {
			return errors.Wrap(err, "sign out")
		}
	}
	s.logger.Info("user logged out")
	return nil
}
