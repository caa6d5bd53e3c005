package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"chatsync/internal/retention"
	"chatsync/pkg/banner"
	"chatsync/pkg/cache"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/state"
	"chatsync/pkg/validation"
)

// App encapsulates the reference daemon's components and lifecycle.
type App struct {
	cfg     config.Config
	addr    string
	version string

	cache *cache.Cache
	rooms *Rooms
	hub   *Hub
	srv   *http.Server
	sweep *retention.Sweeper
}

// New prepares the state directories, opens the message log and wires
// the hub. It does not start listening; call Run for that.
func New(cfg config.Config, addr, version string) (*App, error) {
	if addr == "" {
		addr = cfg.Addr()
	}
	if err := state.EnsureStateDirs(cfg.Storage.DBPath); err != nil {
		return nil, fmt.Errorf("prepare state dirs: %w", err)
	}
	validation.SetLimits(validation.Limits{
		MaxContentBytes: cfg.Limits.MaxContentBytes,
		MaxEventBytes:   cfg.Limits.MaxEventBytes,
	})
	log, err := cache.Open(filepath.Join(cfg.Storage.DBPath, "log"))
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, addr: addr, version: version, cache: log}
	a.rooms = NewRooms(log)
	a.hub = NewHub(a.rooms, cfg.Client.Token)
	if cfg.Retention.Enabled {
		a.sweep = retention.New(log, cfg.Retention.Schedule, cfg.Retention.MaxAgeDays)
	}
	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	banner.Print(a.addr, a.cfg.Storage.DBPath, a.version)
	if a.sweep != nil {
		a.sweep.Start(ctx)
	}

	a.srv = &http.Server{Addr: a.addr, Handler: a.routes()}
	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.ListenAndServe() }()
	logger.Info("server_listening", "addr", a.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(shCtx); err != nil {
			logger.Warn("server_shutdown_failed", "err", err)
		}
		if err := a.cache.Close(); err != nil {
			logger.Warn("log_close_failed", "err", err)
		}
		logger.Info("server_stopped")
		return nil
	case err := <-errCh:
		a.cache.Close()
		return err
	}
}
