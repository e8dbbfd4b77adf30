// Command walletsync serves a user's crypto wallet balance, kept in sync with
// administrator writes and live market prices, plus the admin API that edits it.
//
// Usage:
//
//	walletsync --config config.yaml
//	walletsync --email alice@example.com --oracle binance
//	walletsync setup (interactive wizard)
//	walletsync edit-balance --config config.yaml (stop the daemon first)
//
// Optional environment variables:
//
//	WALLETSYNC_ADMIN_PASSWORD_HASH: bcrypt hash enabling the admin API
//	WALLETSYNC_SESSION_FILE: overrides the session file location
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/walletsync/config"
	"github.com/vadiminshakov/walletsync/internal"
	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/events"
	"github.com/vadiminshakov/walletsync/internal/services/admin"
	"github.com/vadiminshakov/walletsync/internal/setup"
	"github.com/vadiminshakov/walletsync/internal/storage/balancesnapshots"
	"github.com/vadiminshakov/walletsync/internal/storage/blobs"
	"github.com/vadiminshakov/walletsync/internal/storage/records"
	"github.com/vadiminshakov/walletsync/internal/storage/sessionstate"
	"github.com/vadiminshakov/walletsync/internal/web"
	"github.com/vadiminshakov/walletsync/pkg/retrier"
)

const subscriberBuffer = 16

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	args := os.Args[1:]
	command := ""
	if len(args) > 0 && (args[0] == "setup" || args[0] == "edit-balance") {
		command, args = args[0], args[1:]
	}
	if command == "setup" {
		path, err := setup.RunTUI()
		if err != nil {
			logger.Fatal("setup failed", zap.Error(err))
		}
		args = []string{"--config", path}
	}

	conf, err := config.Parse(args)
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if command == "edit-balance" {
		if err := editBalance(ctx, logger, conf); err != nil {
			logger.Fatal("balance edit failed", zap.Error(err))
		}
		return
	}

	if err := run(ctx, logger, conf); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("walletsync stopped", zap.Error(err))
	}
	logger.Info("walletsync stopped")
}

func editBalance(ctx context.Context, logger *zap.Logger, conf config.Config) error {
	recordStore, err := records.NewWALStore(filepath.Join(conf.DataDir, "records"), nil)
	if err != nil {
		return errors.Wrap(err, "open record store")
	}
	defer recordStore.Close()

	blobStore, err := blobs.NewFSStore(conf.BlobDir, conf.BlobBaseURL)
	if err != nil {
		return errors.Wrap(err, "open blob store")
	}
	return setup.RunBalanceEditor(ctx, admin.NewService(logger, recordStore, blobStore))
}

func run(ctx context.Context, logger *zap.Logger, conf config.Config) error {
	open := retrier.New(
		retrier.WithInitialInterval(time.Second),
		retrier.WithMaxRetries(10),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			logger.Warn("failed to open store, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}),
	)

	recordStore, err := retrier.DoWithData(open, ctx, func(ctx context.Context) (*records.WALStore, error) {
		return records.NewWALStore(filepath.Join(conf.DataDir, "records"), events.NewRecordBroadcaster(subscriberBuffer))
	})
	if err != nil {
		return errors.Wrap(err, "open record store")
	}
	defer recordStore.Close()

	viewStore, err := retrier.DoWithData(open, ctx, func(ctx context.Context) (*balancesnapshots.WALStore, error) {
		return balancesnapshots.NewWALStore(filepath.Join(conf.DataDir, "views"), logger)
	})
	if err != nil {
		return errors.Wrap(err, "open balance view store")
	}
	defer viewStore.Close()

	identity, err := sessionstate.NewStore(conf.SessionFile)
	if err != nil {
		return errors.Wrap(err, "open session store")
	}

	blobStore, err := blobs.NewFSStore(conf.BlobDir, conf.BlobBaseURL)
	if err != nil {
		return errors.Wrap(err, "open blob store")
	}

	email, err := resolveIdentity(ctx, logger, conf, identity, recordStore)
	if err != nil {
		return err
	}

	var session *internal.WalletSession
	if email != "" {
		client, err := internal.NewOracleClient(conf.Oracle)
		if err != nil {
			return err
		}
		session, err = internal.NewWalletSession(logger, conf, email, client, recordStore, viewStore, identity)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no signed-in user, serving the admin API only")
	}

	adminSvc := admin.NewService(logger, recordStore, blobStore)
	opts := web.Options{
		Addr:              conf.ListenAddr,
		Email:             email,
		AdminUser:         conf.AdminUser,
		AdminPasswordHash: conf.AdminPasswordHash,
		BlobDir:           blobStore.Dir(),
		BlobBaseURL:       conf.BlobBaseURL,
	}

	var server *web.Server
	if session != nil {
		server = web.NewServer(logger, opts, viewStore, session, adminSvc)
	} else {
		server = web.NewServer(logger, opts, viewStore, nil, adminSvc)
	}

	g, gctx := errgroup.WithContext(ctx)
	if session != nil {
		g.Go(func() error {
			return session.Run(gctx)
		})
	}
	g.Go(func() error {
		if len(conf.TLSDomains) > 0 {
			return server.StartWithAutoTLS(gctx, conf.TLSDomains, filepath.Join(conf.DataDir, "cert-cache"))
		}
		return server.Start(gctx)
	})

	logger.Info("walletsync started",
		zap.String("email", email),
		zap.String("oracle", conf.Oracle),
		zap.String("refresh_mode", conf.RefreshMode),
		zap.String("listen", conf.ListenAddr))
	return g.Wait()
}

// resolveIdentity picks the user from --email or the persisted session and
// registers the record on first sign-in.
func resolveIdentity(ctx context.Context, logger *zap.Logger, conf config.Config, identity *sessionstate.Store, store *records.WALStore) (string, error) {
	email := conf.Email
	if email == "" {
		id, ok, err := identity.CurrentIdentity()
		if err != nil {
			return "", errors.Wrap(err, "read session")
		}
		if !ok {
			return "", nil
		}
		email = id.Email
	} else if err := identity.SignIn(domain.Identity{Email: email}); err != nil {
		return "", errors.Wrap(err, "sign in")
	}

	if _, err := store.ReadUser(ctx, email); errors.Is(err, records.ErrNotFound) {
		if _, err := store.InsertUser(ctx, domain.UserRecord{Email: email}); err != nil && !errors.Is(err, records.ErrAlreadyExists) {
			return "", errors.Wrap(err, "register user")
		}
		logger.Info("registered user record", zap.String("email", email))
	} else if err != nil {
		return "", errors.Wrap(err, "read user")
	}
	return email, nil
}
