// Command clipmand records the Wayland clipboard history and serves it to
// clients over a UNIX socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/azzuriel/clipman/internal/clipboard"
	"github.com/azzuriel/clipman/internal/config"
	"github.com/azzuriel/clipman/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "clipmand: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if cfg == nil {
		// help was printed
		return nil
	}

	logging.InitWithFormat(os.Stderr, logging.ParseLevel(cfg.LogLevel), logging.Format(cfg.LogFormat))
	logging.Info("Starting clipmand", map[string]interface{}{
		"version":  Version,
		"data_dir": cfg.DataDir,
		"socket":   cfg.SocketPath,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, clipboard.NewWayland(cfg.ReadTimeout))
	if err != nil {
		return err
	}

	if err := d.start(ctx); err != nil {
		d.stop()
		return err
	}

	<-ctx.Done()
	logging.Info("Shutting down")
	d.stop()
	return nil
}
