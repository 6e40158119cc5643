package main

import (
	"context"
	"fmt"
	"time"

	"github.com/azzuriel/clipman/internal/clipboard"
	"github.com/azzuriel/clipman/internal/config"
	"github.com/azzuriel/clipman/internal/db"
	"github.com/azzuriel/clipman/internal/events"
	"github.com/azzuriel/clipman/internal/gateway"
	"github.com/azzuriel/clipman/internal/ingest"
	"github.com/azzuriel/clipman/internal/ipc"
	"github.com/azzuriel/clipman/internal/janitor"
	"github.com/azzuriel/clipman/internal/logging"
	"github.com/azzuriel/clipman/internal/storage"
	"github.com/azzuriel/clipman/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

// daemon owns every component and their start/stop order.
type daemon struct {
	cfg *config.Config

	database *db.DB
	store    *storage.Store
	index    *db.Index
	ingestor *ingest.Ingestor
	watcher  *watcher.Watcher
	server   *ipc.Server
	gateway  *gateway.Gateway
	janitor  *janitor.Janitor
}

func newDaemon(cfg *config.Config, clip clipboard.ReadWriter) (*daemon, error) {
	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	version, _, err := db.Migrate(database)
	if err != nil {
		database.Close()
		return nil, err
	}
	logging.Debug("Database ready", map[string]interface{}{
		"path":           cfg.DatabasePath(),
		"schema_version": version,
	})

	d := &daemon{
		cfg:      cfg,
		database: database,
		store:    store,
		index:    db.NewIndex(database, store, cfg.MaxItems),
	}

	var publisher events.Publisher = events.Nop{}
	var hub *gateway.Hub
	if cfg.HTTPAddr != "" {
		hub = gateway.NewHub()
		publisher = hub
	}

	d.ingestor = ingest.New(store, d.index, ingest.Options{
		PreviewLength: cfg.PreviewLength,
		SensitiveTTL:  cfg.SensitiveTTL,
		MaxImageBytes: cfg.MaxImageBytes(),
		Publisher:     publisher,
	})
	d.watcher = watcher.New(clip, d.ingestor, cfg.PollInterval)

	dispatcher := ipc.NewDispatcher(d.index, store, clip, d.watcher, publisher)
	d.server = ipc.NewServer(cfg.SocketPath, dispatcher, ipc.Options{
		AcceptTimeout:   cfg.AcceptTimeout,
		MaxRequestBytes: cfg.MaxRequestBytes,
	})

	if hub != nil {
		d.gateway = gateway.New(cfg.HTTPAddr, dispatcher, hub)
	}
	if cfg.JanitorInterval > 0 {
		d.janitor = janitor.New(d.index, store, &janitor.Config{
			Interval: cfg.JanitorInterval,
			MinAge:   janitor.DefaultConfig().MinAge,
		})
	}

	return d, nil
}

// start brings components up. On error the caller still calls stop.
func (d *daemon) start(ctx context.Context) error {
	if err := d.server.Start(); err != nil {
		return err
	}
	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			return err
		}
	}
	if err := d.watcher.Start(ctx); err != nil {
		return err
	}
	if d.janitor != nil {
		d.janitor.Start(ctx)
	}

	count, err := d.index.Count(ctx)
	if err != nil {
		return err
	}
	logging.Info("clipmand ready", map[string]interface{}{
		"items":     count,
		"max_items": d.cfg.MaxItems,
	})
	return nil
}

// stop tears down in reverse dependency order. Safe to call after a partial
// start.
func (d *daemon) stop() {
	d.watcher.Stop()

	if d.gateway != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.gateway.Stop(ctx); err != nil {
			logging.Warn("HTTP gateway shutdown incomplete", map[string]interface{}{"error": err.Error()})
		}
		cancel()
	}

	d.server.Stop()

	if d.janitor != nil {
		d.janitor.Stop()
	}

	// cancels pending expiry timers; those items are kept
	d.ingestor.Stop()

	if err := d.index.Close(); err != nil {
		logging.Error("Failed to close index", err, nil)
	}
	if err := d.database.Close(); err != nil {
		logging.Error("Failed to close database", err, nil)
	}

	logging.Info("clipmand stopped")
}
