// Package app is the composition root. An App owns every long-lived service
// of one client process and the storage handles behind them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cartsync/internal/config"
	"cartsync/internal/db"
	"cartsync/internal/httpserver"
	"cartsync/internal/live"
	"cartsync/internal/migrate"
	"cartsync/internal/notify"
	"cartsync/internal/remote"
	cartrepo "cartsync/internal/repository/cart"
	intentrepo "cartsync/internal/repository/intent"
	cartsvc "cartsync/internal/service/cart"
	"cartsync/internal/service/selection"
	"cartsync/internal/service/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Notices   *notify.Feed
	Session   *session.Service
	Cart      *cartsvc.Service
	Selection *selection.Service
	Live      *live.Channel

	snapshots cartrepo.Repository
	intents   intentrepo.Repository
	closers   []func() error
}

// New opens storage, applies migrations and wires the services together.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Notices = notify.NewFeed(cfg.NoticeBuffer, logger.Named("notice"))

	httpClient := remote.NewHTTPClient(cfg.RequestTimeout)
	authAPI := remote.NewAuthAPI(remote.New(cfg.APIBaseURL, httpClient, nil, logger.Named("auth")))
	a.Session = session.New(authAPI, a.Notices, logger.Named("session"))
	if cfg.AccessToken != "" {
		if err := a.Session.SetTokens(cfg.AccessToken, cfg.RefreshToken); err != nil {
			logger.Warn("ignoring configured access token", zap.Error(err))
		}
	}

	client := remote.New(cfg.APIBaseURL, httpClient, a.Session, logger.Named("remote"))
	a.Cart = cartsvc.New(client, a.snapshots, a.Session, a.Notices, logger.Named("cart"))
	a.Selection = selection.New(a.Cart, a.intents, a.owner, cfg.CheckoutIntentTTL, a.Notices, logger.Named("selection"))
	a.Live = live.New(cfg.LiveURL, a.Session, a.Cart.ApplyRemote, live.Options{
		ReconnectInterval: cfg.ReconnectInterval,
		OutboxSize:        cfg.OutboxSize,
	}, logger.Named("live"))

	a.Cart.SetBroadcaster(a.Live)
	a.Cart.OnChange(a.Selection.Prune)
	a.Session.OnLogout(a.onLogout)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.Config.StorageDriver {
	case "postgres":
		pool, err := db.ConnectPostgres(ctx, a.Config.StorageDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := migrate.Apply(ctx, pool); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		a.snapshots = cartrepo.NewPostgres(pool)
		a.intents = intentrepo.NewPostgres(pool)
	default:
		sqlDB, err := db.OpenSQLite(ctx, a.Config.StorageDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sqlDB.Close)
		if err := migrate.ApplySQLite(ctx, sqlDB); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		a.snapshots = cartrepo.NewSQLite(sqlDB)
		a.intents = intentrepo.NewSQLite(sqlDB)
	}

	if a.Config.RedisAddr != "" {
		client, err := db.ConnectRedis(ctx, a.Config.RedisAddr)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.intents = intentrepo.NewRedis(client)
	}
	a.Logger.Info("storage ready",
		zap.String("driver", a.Config.StorageDriver),
		zap.Bool("redis_intents", a.Config.RedisAddr != ""))
	return nil
}

func (a *App) owner() string {
	if id := a.Session.UserID(); id != "" {
		return id
	}
	return cartsvc.GuestOwner
}

func (a *App) onLogout(ctx context.Context, userID string) {
	if err := a.Cart.Clear(ctx); err != nil {
		a.Logger.Warn("clear cart on logout", zap.Error(err))
	}
	a.Selection.Clear()
	if userID != "" {
		if err := a.Selection.Discard(ctx, userID); err != nil {
			a.Logger.Warn("discard checkout intent on logout", zap.Error(err))
		}
	}
	a.Live.Reset()
}

// Start restores the persisted cart and, for a signed-in user, merges any
// leftover guest cart and reconciles with the backend. A failed sync leaves
// the restored cart in place.
func (a *App) Start(ctx context.Context) error {
	if err := a.Cart.Restore(ctx); err != nil {
		return fmt.Errorf("restore cart: %w", err)
	}
	if a.Session.Authenticated() {
		if _, err := a.Cart.MergeGuest(ctx); err != nil {
			a.Logger.Warn("initial cart sync failed", zap.Error(err))
		}
	}
	return nil
}

// Server builds the local HTTP API server.
func (a *App) Server() (*httpserver.Server, error) {
	return httpserver.New(a.Config.HTTPAddr, a.Logger.Named("http"), httpserver.Deps{
		Cart:      a.Cart,
		Selection: a.Selection,
		Session:   a.Session,
		Notices:   a.Notices,
		Storage:   a.snapshots,
		Live:      a.Live,
	}, a.Config.AllowedOrigins)
}

// Run serves the HTTP API and the live channel until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	srv, err := a.Server()
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.Live.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("graceful shutdown failed", zap.Error(err))
			return err
		}
		a.Logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

// Close releases storage handles in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
