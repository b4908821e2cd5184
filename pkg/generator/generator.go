// Package generator holds the model-facing calls of a section run:
// grounded response generation, the evidence audit that accompanies
// it, and intake metadata extraction at ingest time.
//
// Prompts are assembled from a shared base block, an optional
// previous-sections block, and one format block (text, table, chart).
// Table and chart calls request JSON output; text calls return prose
// lines ending in bracket citations.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/llms"
	"github.com/magpielabs/magpie/pkg/response"
)

const op = "generator"

// contextDateFormat renders today's date for the prompts.
const contextDateFormat = "January 02, 2006"

// Previous is a dependent section's finished result, included in the
// prompt so follow-up sections can build on it without citing it.
type Previous struct {
	Name     string
	Format   response.Format
	Response string
}

// Request is one section generation call.
type Request struct {
	Context             string
	SectionName         string
	SectionDescription  string
	TemplateDescription string
	ProjectDescription  string
	Format              response.Format
	PreviousSections    []Previous
}

// Generator issues the pipeline's completion calls.
type Generator struct {
	llm    llms.LLM
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New returns a Generator backed by the given completion client.
func New(llm llms.LLM, opts ...Option) *Generator {
	g := &Generator{
		llm:    llm,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces the raw model answer for a section. Table and
// chart formats request a JSON object; text returns prose. Parsing is
// the response package's job.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Context) == "" {
		return "", &fault.Error{Kind: fault.KindValidation, Op: op, Msg: "context is required"}
	}
	if strings.TrimSpace(req.SectionName) == "" {
		return "", &fault.Error{Kind: fault.KindValidation, Op: op, Msg: "section name is required"}
	}
	if strings.TrimSpace(req.SectionDescription) == "" {
		return "", &fault.Error{Kind: fault.KindValidation, Op: op, Msg: "section description is required"}
	}

	structured := req.Format == response.FormatTable || req.Format == response.FormatChart
	raw, err := g.llm.Complete(ctx, llms.Request{
		System: g.sectionPrompt(req),
		User:   fmt.Sprintf("Extract the %s.", req.SectionName),
		JSON:   structured,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return "", &fault.Error{Kind: fault.KindAI, Op: op, Msg: "model returned an empty response"}
	}
	return raw, nil
}

func (g *Generator) sectionPrompt(req Request) string {
	prompt := expand(basePrompt, map[string]string{
		"context_date":         g.now().Format(contextDateFormat),
		"project_description":  req.ProjectDescription,
		"template_description": req.TemplateDescription,
		"section_name":         req.SectionName,
		"section_description":  req.SectionDescription,
	})

	if prev := formatPrevious(req.PreviousSections); prev != "" {
		prompt += expand(previousSectionsBlock, map[string]string{
			"previous_sections": prev,
		})
	}

	block := textPrompt
	switch req.Format {
	case response.FormatTable:
		block = tablePrompt
	case response.FormatChart:
		block = chartPrompt
	}
	return prompt + expand(block, map[string]string{
		"numbered_context": req.Context,
	})
}

// formatPrevious renders dependent section results as prompt bullets.
// Structured results are flattened to pipe-separated rows.
func formatPrevious(deps []Previous) string {
	var blocks []string
	for _, dep := range deps {
		body := strings.TrimSpace(dep.Response)
		if body == "" {
			continue
		}
		if dep.Format == response.FormatTable || dep.Format == response.FormatChart {
			body = response.Parse(body, dep.Format).Render()
		}
		blocks = append(blocks, fmt.Sprintf("    • %s:\n%s", dep.Name, body))
	}
	return strings.Join(blocks, "\n")
}
