package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/magpielabs/magpie/pkg/response"
	"github.com/magpielabs/magpie/pkg/runtime"
	"github.com/magpielabs/magpie/pkg/section"
)

// SectionCmd runs one section analysis and prints the grounded result.
type SectionCmd struct {
	Name        string   `arg:"" help:"Section name."`
	Description string   `short:"d" required:"" help:"What the section should cover."`
	Files       []string `name:"file" required:"" help:"File id to ground on (repeatable)."`
	Format      string   `help:"Response format." default:"text" enum:"text,table,chart"`
	Namespace   string   `help:"Tenant namespace." default:"default"`
	JSON        bool     `help:"Print the full outcome as JSON."`
}

func (c *SectionCmd) Run(cli *CLI) error {
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

	sections := rt.Sections()
	req := section.Request{
		SectionID:          uuid.NewString(),
		SectionName:        c.Name,
		SectionDescription: c.Description,
		FileIDs:            c.Files,
		Format:             response.Format(c.Format),
		Namespace:          c.Namespace,
	}
	if _, err := sections.Init(ctx, req); err != nil {
		return err
	}

	events, unsubscribe, err := sections.Stream(ctx, req.SectionID, c.Namespace)
	if err != nil {
		return err
	}
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- sections.Run(ctx, req.SectionID, c.Namespace) }()

	var result *section.Outcome
	for ev := range events {
		switch ev.Stage {
		case section.StageComplete:
			result = ev.Result
		case section.StageError, section.StageCancelled:
			// Run's return carries the cause.
		default:
			fmt.Printf("  %3d%% %s\n", ev.Progress, ev.Message)
		}
	}
	if err := <-done; err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("cancelled")
		}
		return err
	}
	return printOutcome(result, c.JSON)
}

func printOutcome(out *section.Outcome, asJSON bool) error {
	if out == nil {
		return fmt.Errorf("run finished without a result")
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println()
	for _, item := range out.Response.Items {
		if len(item.Tags) > 0 {
			fmt.Printf("%s  [%s]\n", item.Text, strings.Join(item.Tags, " "))
		} else {
			fmt.Println(item.Text)
		}
	}
	for _, row := range out.Response.Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = cell.Text
		}
		fmt.Println(strings.Join(cells, " | "))
	}
	fmt.Printf("\n%d citations over %d chunks in %.1fs\n",
		len(out.Citations), out.Stats.Chunks, out.Stats.Duration)
	return nil
}
