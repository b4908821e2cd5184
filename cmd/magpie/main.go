// Command magpie is the CLI for the magpie analysis engine.
//
// Usage:
//
//	magpie serve --config magpie.yaml
//	magpie ingest ./docs/q3-report.pdf --namespace acme
//	magpie ingest ./docs --watch --namespace acme
//	magpie section "Revenue" -d "Quarterly revenue growth" --file <id>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/magpielabs/magpie"
	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/config/provider"
	"github.com/magpielabs/magpie/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`
	Ingest  IngestCmd  `cmd:"" help:"Ingest local files, or watch a directory."`
	Section SectionCmd `cmd:"" help:"Run one section analysis and print the result."`
	Schema  SchemaCmd  `cmd:"" help:"Print the configuration JSON schema."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text, json)." default:"text"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(magpie.GetVersion().String())
	return nil
}

// loadConfig loads the config file when one is given, returning a
// loader the caller closes, or falls back to the zero-config defaults.
func loadConfig(ctx context.Context, path string, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if path == "" {
		slog.Info("no config file, using defaults")
		return config.Default(), nil, nil
	}

	p, err := provider.New(provider.ProviderConfig{Type: provider.TypeFile, Path: path})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config provider: %w", err)
	}
	loader := config.NewLoader(p, opts...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		loader.Close()
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("loaded configuration", "path", path)
	return cfg, loader, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("magpie"),
		kong.Description("magpie - retrieval-grounded document analysis"),
		kong.UsageOnError(),
	)

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFormat)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
