// Package server wires the file server together: configuration, logging,
// the storage backend, the TCP acceptor, the optional health endpoint and
// signal handling.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/fileshare/internal/filex"
	"github.com/dmitrijs2005/fileshare/internal/logging"
	"github.com/dmitrijs2005/fileshare/internal/server/config"
	"github.com/dmitrijs2005/fileshare/internal/server/health"
	"github.com/dmitrijs2005/fileshare/internal/server/session"
	"github.com/dmitrijs2005/fileshare/internal/server/tcp"
	"github.com/dmitrijs2005/fileshare/internal/storage"
	"github.com/dmitrijs2005/fileshare/internal/storage/fsstore"
	"github.com/dmitrijs2005/fileshare/internal/storage/pgstore"
	"github.com/dmitrijs2005/fileshare/internal/storage/s3store"
)

type App struct {
	config *config.Config
	logger logging.Logger
	store  storage.Backend
	closer io.Closer
}

// NewApp builds the logger and opens the configured storage backend. Logs
// go to w.
func NewApp(ctx context.Context, c *config.Config, w io.Writer) (*App, error) {
	l, err := logging.New(w, c.LogLevel, c.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	app := &App{config: c, logger: l}

	if err := app.openStorage(ctx); err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	return app, nil
}

func (app *App) openStorage(ctx context.Context) error {
	c := app.config
	switch c.StorageKind {
	case config.StorageFS:
		s, err := fsstore.New(ctx, c.StorageRoot, c.MaxNameLength, app.logger)
		if err != nil {
			return err
		}
		app.store = s

	case config.StorageS3:
		opts, err := app.s3Options()
		if err != nil {
			return err
		}
		client, err := s3store.NewClient(ctx, opts)
		if err != nil {
			return err
		}
		app.store = s3store.New(client, opts, app.logger)

	case config.StoragePostgres:
		db, err := pgstore.Open(ctx, c.DatabaseDSN)
		if err != nil {
			return err
		}
		if err := pgstore.RunMigrations(ctx, db); err != nil {
			db.Close()
			return err
		}
		app.store = pgstore.New(db, c.DBChunkSize, c.MaxNameLength, app.logger)
		app.closer = db

	default:
		return fmt.Errorf("unknown storage kind %q", c.StorageKind)
	}
	app.logger.Info(ctx, "storage ready", "kind", c.StorageKind)
	return nil
}

// s3Options maps the configuration onto the S3 backend, creating the spool
// directory when one is configured.
func (app *App) s3Options() (s3store.Options, error) {
	c := app.config
	opts := s3store.Options{
		Bucket:     c.S3Bucket,
		Prefix:     c.S3Prefix,
		Region:     c.S3Region,
		Endpoint:   c.S3BaseEndpoint,
		AccessKey:  c.S3RootUser,
		SecretKey:  c.S3RootPassword,
		MaxNameLen: c.MaxNameLength,
	}
	if c.S3SpoolDir != "" {
		dir, err := filex.EnsureDir(c.S3SpoolDir)
		if err != nil {
			return opts, fmt.Errorf("spool directory: %w", err)
		}
		opts.SpoolDir = dir
	}
	return opts, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigs
		app.logger.Info(context.Background(), "signal received, shutting down", "signal", sig.String())
		cancelFunc()
	}()
}

func (app *App) acceptorConfig() tcp.Config {
	return tcp.Config{
		Session: session.Config{
			Limits:      app.config.Limits(),
			ChunkSize:   app.config.ChunkSize,
			IdleTimeout: app.config.IdleTimeout,
		},
		ShutdownGrace: app.config.ShutdownGrace,
	}
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// shuts down gracefully and releases the storage backend.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	lis, err := net.Listen("tcp", app.config.ListenAddr)
	if err != nil {
		app.close(ctx)
		return fmt.Errorf("listen %s: %w", app.config.ListenAddr, err)
	}
	return app.serve(ctx, lis, cancelFunc)
}

func (app *App) serve(ctx context.Context, lis net.Listener, cancelFunc context.CancelFunc) error {
	defer app.close(ctx)

	// the health endpoint outlives the acceptor so probes see NOT_SERVING
	// while sessions drain
	healthCtx, stopHealth := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHealth()

	var wg sync.WaitGroup
	var hs *health.Server
	if app.config.HealthAddr != "" {
		hs = health.New(app.config.HealthAddr, app.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hs.Run(healthCtx); err != nil {
				app.logger.Error(ctx, "health server failed", "error", err)
				cancelFunc()
			}
		}()
		hs.SetServing(true)

		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				hs.SetServing(false)
			case <-healthCtx.Done():
			}
		}()
	}

	srv := tcp.New(app.store, app.acceptorConfig(), app.logger)
	err := srv.Serve(ctx, lis)
	if errors.Is(err, tcp.ErrServerClosed) {
		err = nil
	}
	app.logger.Info(ctx, "acceptor stopped", "sessions_served", srv.TotalSessions())

	stopHealth()
	wg.Wait()
	return err
}

func (app *App) close(ctx context.Context) {
	if app.closer == nil {
		return
	}
	if err := app.closer.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		app.logger.Warn(ctx, "storage close failed", "error", err)
	}
}
