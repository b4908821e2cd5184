package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/magpielabs/magpie/pkg/ingest"
	"github.com/magpielabs/magpie/pkg/runtime"
)

// IngestCmd runs files through the full pipeline from the terminal.
type IngestCmd struct {
	Paths     []string `arg:"" name:"path" help:"Files to ingest, or a directory with --watch." type:"path"`
	Namespace string   `help:"Tenant namespace." default:"default"`
	Watch     bool     `help:"Watch a directory and re-ingest files as they change."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.Watch {
		if len(c.Paths) != 1 {
			return fmt.Errorf("--watch takes exactly one directory")
		}
		err := rt.Ingest().Watch(ctx, c.Paths[0], c.Namespace, printProgress)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	for _, path := range c.Paths {
		fmt.Printf("%s\n", path)
		id, err := rt.Ingest().IngestLocal(ctx, path, c.Namespace, printProgress)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("  done, file id %s\n", id)
	}
	return nil
}

func printProgress(p ingest.Progress) {
	fmt.Printf("  %3d%% %s\n", p.Progress, p.Message)
}
