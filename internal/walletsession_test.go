package internal

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/walletsync/config"
	"github.com/vadiminshakov/walletsync/internal/clients"
	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/events"
	"github.com/vadiminshakov/walletsync/internal/services/pricer"
	"github.com/vadiminshakov/walletsync/internal/storage/records"
	"github.com/vadiminshakov/walletsync/internal/storage/sessionstate"
)

func TestNewOracle(t *testing.T) {
	tests := []struct {
		name             string
		client           any
		expectError      bool
		expectedErrorMsg string
	}{
		{name: "coingecko", client: &http.Client{}},
		{name: "binance", client: &binance.Client{}},
		{name: "bybit", client: &bybit.Client{}},
		{name: "simulate", client: clients.NewSimulateClient()},
		{name: "unsupported", client: "kraken", expectError: true, expectedErrorMsg: "unsupported client type: string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle, err := newOracle(tt.client, "", 250*time.Millisecond)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErrorMsg)
				return
			}
			require.NoError(t, err)
			budgeted, ok := oracle.(*pricer.Budgeted)
			require.True(t, ok)
			assert.Equal(t, 250*time.Millisecond, budgeted.Budget())
		})
	}
}

func TestNewOracleClient(t *testing.T) {
	for _, name := range []string{config.OracleCoinGecko, config.OracleBinance, config.OracleBybit, config.OracleSimulate} {
		client, err := NewOracleClient(name)
		require.NoError(t, err, name)
		_, err = newOracle(client, "", time.Second)
		require.NoError(t, err, name)
	}

	_, err := NewOracleClient("kraken")
	require.Error(t, err)
}

type viewLog struct {
	mu    sync.Mutex
	views []domain.BalanceView
}

func (l *viewLog) Render(view domain.BalanceView) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.views = append(l.views, view)
}

func (l *viewLog) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.views) == 0 {
		return ""
	}
	return l.views[len(l.views)-1].DisplayValue
}

type sessionFixture struct {
	session  *WalletSession
	records  *records.WALStore
	identity *sessionstate.Store
	views    *viewLog
	done     chan error
	cancel   context.CancelFunc
}

func startSession(t *testing.T, seed domain.UserRecord) *sessionFixture {
	t.Helper()
	ctx := context.Background()

	store, err := records.NewWALStore(t.TempDir(), events.NewRecordBroadcaster(8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.InsertUser(ctx, seed)
	require.NoError(t, err)

	t.Setenv("WALLETSYNC_SESSION_FILE", "")
	identity, err := sessionstate.NewStore(t.TempDir() + "/session.json")
	require.NoError(t, err)
	require.NoError(t, identity.SignIn(domain.Identity{Email: seed.Email}))

	conf := config.Config{
		Oracle:               config.OracleSimulate,
		OracleTimeout:        time.Second,
		PriceRefreshInterval: time.Hour,
		FullRefreshInterval:  time.Hour,
	}
	views := &viewLog{}
	session, err := NewWalletSession(nil, conf, seed.Email, clients.NewSimulateClient(), store, views, identity)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- session.Run(runCtx) }()
	t.Cleanup(cancel)

	require.Eventually(t, session.Ready, 2*time.Second, 5*time.Millisecond)
	return &sessionFixture{session: session, records: store, identity: identity, views: views, done: done, cancel: cancel}
}

func TestWalletSession_InitialLoadAndPush(t *testing.T) {
	f := startSession(t, domain.UserRecord{Email: "alice@example.com"})

	assert.Equal(t, "$0.00", f.session.View().DisplayValue)

	balance := decimal.NewFromInt(1000)
	_, err := f.records.WriteUserBalance(context.Background(), "alice@example.com", domain.BalanceUpdate{Balance: &balance})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.views.last() == "$1,000.00" }, 2*time.Second, 5*time.Millisecond)

	cached, ok := f.identity.CachedBalance()
	require.True(t, ok)
	assert.True(t, cached.Equal(balance))
}

func TestWalletSession_PortfolioValue(t *testing.T) {
	f := startSession(t, domain.UserRecord{
		Email:     "bob@example.com",
		Portfolio: map[string]string{"BTC": "0.01", "USDT": "100"},
	})

	view := f.session.View()
	assert.Equal(t, "$634.50", view.DisplayValue)
	assert.True(t, view.LivePriced)
	require.Len(t, view.Holdings, len(domain.SupportedAssets()))

	assert.True(t, f.session.ToggleVisibility())
	assert.Equal(t, "*******", f.session.View().DisplayValue)
	assert.False(t, f.session.ToggleVisibility())
}

func TestWalletSession_QuoteSend(t *testing.T) {
	f := startSession(t, domain.UserRecord{
		Email:               "carol@example.com",
		Portfolio:           map[string]string{"USDT": "500"},
		DeductionPercentage: "10",
	})
	require.Equal(t, "$500.00", f.session.View().DisplayValue)

	quote, err := f.session.QuoteSend(context.Background(), domain.SendRequest{
		Symbol:  "USDT",
		Address: "0x52908400098527886E0F7030069857D2E4169EE7",
		Amount:  decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	assert.True(t, quote.Fee.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, "To withdraw $200, you need to deposit a network fee of $20.00 first", quote.Message)

	_, err = f.session.QuoteSend(context.Background(), domain.SendRequest{
		Symbol:  "USDT",
		Address: "0x52908400098527886E0F7030069857D2E4169EE7",
		Amount:  decimal.NewFromInt(501),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestWalletSession_Logout(t *testing.T) {
	f := startSession(t, domain.UserRecord{
		Email:     "dave@example.com",
		Portfolio: map[string]string{"USDC": "42"},
	})
	require.Equal(t, "$42.00", f.session.View().DisplayValue)

	require.NoError(t, f.session.Logout())
	require.NoError(t, <-f.done)

	assert.False(t, f.session.SignedIn())
	assert.Equal(t, domain.PlaceholderValue, f.session.View().DisplayValue)

	_, signedIn, err := f.identity.CurrentIdentity()
	require.NoError(t, err)
	assert.False(t, signedIn)

	cached, ok := f.identity.CachedBalance()
	require.True(t, ok, "cached balance survives logout")
	assert.True(t, cached.Equal(decimal.NewFromInt(42)))

	_, err = f.session.QuoteSend(context.Background(), domain.SendRequest{Symbol: "USDC"})
	assert.ErrorIs(t, err, ErrSignedOut)
	assert.ErrorIs(t, f.session.Run(context.Background()), ErrSignedOut)
	require.NoError(t, f.session.Logout())
}
