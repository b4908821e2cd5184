package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/runtime"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host  string `help:"Listen host (overrides config)."`
	Port  int    `help:"Listen port (overrides config)."`
	Watch bool   `help:"Watch the config file and restart the server on change."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloads := make(chan *config.Config, 1)
	var opts []config.LoaderOption
	if c.Watch {
		opts = append(opts, config.WithOnChange(func(next *config.Config) {
			// A slow restart must not block the watcher; the latest
			// config wins.
			select {
			case reloads <- next:
			default:
			}
		}))
	}

	cfg, loader, err := loadConfig(ctx, cli.Config, opts...)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
		if c.Watch {
			go func() {
				if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("config watch failed", "error", err)
				}
			}()
		}
	}
	if c.Watch && loader == nil {
		slog.Warn("--watch has no effect without --config")
	}

	for {
		c.applyOverrides(cfg)
		next, err := c.serveOnce(ctx, cfg, reloads)
		if err != nil || next == nil {
			return err
		}
		slog.Info("configuration changed, restarting server")
		cfg = next
	}
}

func (c *ServeCmd) applyOverrides(cfg *config.Config) {
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
}

// serveOnce runs one server lifetime. It returns the next config when
// a reload stopped the server, or nil when the context did.
func (c *ServeCmd) serveOnce(ctx context.Context, cfg *config.Config, reloads <-chan *config.Config) (*config.Config, error) {
	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	srv := rt.Server()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	printReady(cfg)

	var next *config.Config
	select {
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
	case next = <-reloads:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
	<-errCh
	return next, nil
}

func printReady(cfg *config.Config) {
	addr := cfg.Server.Address()
	fmt.Printf("\nmagpie ready\n")
	fmt.Printf("   API:       http://%s/v1\n", addr)
	fmt.Printf("   Health:    http://%s/health\n", addr)
	if cfg.Observability.MetricsEnabled == nil || *cfg.Observability.MetricsEnabled {
		fmt.Printf("   Metrics:   http://%s/metrics\n", addr)
	}
	if cfg.Observability.TracingEnabled {
		fmt.Printf("   Tracing:   otlp://%s\n", cfg.Observability.OTLPEndpoint)
	}
	fmt.Printf("   Vectors:   %s\n", cfg.Vector.Provider)
	fmt.Printf("   State:     %s\n", cfg.State.Backend)
	fmt.Println("\nPress Ctrl+C to stop")
}
