package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiregate/internal/conference"
	"github.com/vovakirdan/wiregate/internal/config"
	"github.com/vovakirdan/wiregate/internal/core"
	"github.com/vovakirdan/wiregate/internal/eventsocket"
	"github.com/vovakirdan/wiregate/internal/identity"
	wglog "github.com/vovakirdan/wiregate/internal/log"
	"github.com/vovakirdan/wiregate/internal/notify"
	"github.com/vovakirdan/wiregate/internal/ratelimit"
	"github.com/vovakirdan/wiregate/internal/store"
	"github.com/vovakirdan/wiregate/internal/store/postgres"
	"github.com/vovakirdan/wiregate/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wiregate/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.UserStore
	relay           *notify.Relay
	bridge          *eventsocket.Client
	confs           *conference.Registry
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	users, err := openUserStore(ctx, cfg.Users)
	if err != nil {
		return nil, fmt.Errorf("init user store: %w", err)
	}
	if users != nil {
		logger.Info().Str("driver", cfg.Users.Driver).Msg("user store initialized")
	}

	var sessions identity.SessionCache
	if len(cfg.Memcached.Servers) > 0 {
		sessions = identity.NewMemcacheSessions(cfg.Memcached.Servers, cfg.Memcached.Timeout)
	}
	tokens := identity.NewTokenVerifier(identity.TokenConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})
	resolver := identity.NewResolver(sessions, users, tokens, wglog.Component(logger, "identity"))

	windows := make([]ratelimit.Window, 0, len(cfg.Throttler.Limits))
	for _, l := range cfg.Throttler.Limits {
		windows = append(windows, ratelimit.Window{Interval: l.Interval, Max: l.Max, Penalty: l.Penalty})
	}
	limiter := ratelimit.New(ratelimit.Config{
		Windows: windows,
		MaxAge:  cfg.Throttler.MaxAge,
		Logging: cfg.Throttler.Logging,
	}, wglog.Component(logger, "throttler"))

	hub := core.NewHub(wglog.Component(logger, "hub"))

	relay, err := notify.Listen(cfg.NotifyAddr, hub, logger)
	if err != nil {
		closeStore(users, logger)
		return nil, fmt.Errorf("init notification relay: %w", err)
	}

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           users,
		relay:           relay,
		log:             logger,
	}

	if cfg.FreeSWITCH.Enabled {
		fsCfg := BridgeConfig(cfg.FreeSWITCH)
		a.bridge = eventsocket.New(fsCfg, logger)
		a.confs = conference.NewRegistry(conference.CommanderFunc(func(ctx context.Context, cmd string) error {
			return eventsocket.Exec(ctx, fsCfg, cmd, logger)
		}), logger)
	}

	a.server = transporthttp.NewServer(transporthttp.Deps{
		Hub:         hub,
		Resolver:    resolver,
		Limiter:     limiter,
		Conferences: a.confs,
	}, cfg, wglog.Component(logger, "http"))

	return a, nil
}

// BridgeConfig maps the freeswitch config section onto the event socket client.
func BridgeConfig(c config.FreeSWITCHConfig) eventsocket.Config {
	return eventsocket.Config{
		Host:           c.Host,
		Port:           c.Port,
		Password:       c.Password,
		ReconnectDelay: c.ReconnectTimeout,
		LoginTimeout:   c.LoginTimeout,
		APITimeout:     c.APITimeout,
	}
}

func openUserStore(ctx context.Context, cfg config.UsersConfig) (store.UserStore, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite3":
		st, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown users driver %q", cfg.Driver)
	}
}

// Run starts every component and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.hub.Run(ctx)
	}()

	relayErr := make(chan error, 1)
	go func() {
		relayErr <- a.relay.Serve(ctx)
	}()

	if a.bridge != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = a.bridge.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			a.confs.Run(ctx, a.bridge)
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
	case runErr = <-relayErr:
		a.shutdownServer()
	case <-ctx.Done():
		a.shutdownServer()
		runErr = <-serverErr
	}

	cancel()
	wg.Wait()
	if a.confs != nil {
		a.confs.Wait()
	}
	a.cleanup()
	return runErr
}

func (a *App) shutdownServer() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	a.log.Info().Msg("shutting down http server")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown incomplete")
	}
}

// cleanup closes the user store.
func (a *App) cleanup() {
	closeStore(a.store, a.log)
}

func closeStore(st store.UserStore, logger *zerolog.Logger) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close store")
	} else {
		logger.Info().Msg("store closed")
	}
}
