// Package planner produces the search queries that drive retrieval for
// a section. One completion per plan, full model, JSON mode. An empty
// plan is a hard failure; the pipeline surfaces it and never retries.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/llms"
)

const op = "planner"

// MaxQueries is the ceiling the prompt asks the model to respect.
const MaxQueries = 8

const plannerPrompt = `
You are a retrieval planner. Your queries will be converted to embeddings and matched against document chunks.

CONTEXT INFORMATION
    • Date: %s (today's date)
    • Project: %s
    • Template: %s

INPUT
  Section: %s
  Description: %s

TASK
  Generate the absolute MINIMUM number of search queries needed. Each query must target distinct information with no overlap. Only create separate queries when information requires different search terms to retrieve.

  Generate 1-%d search queries MAXIMUM.

    • **Financial metrics**: include queries for both the current and all comparative periods referenced.
    • **Trend analysis**: generate separate queries that explicitly name each time period or date range mentioned in the section description.
    • **Calculations**: add queries for every individual component required to compute the answer.
    • **Be specific**: include company names, metric names, and time periods when mentioned in the section description.

Return your response as JSON with this structure:
{
  "queries": [
    "search query 1 for vector embedding",
    ...
  ]
}
`

// Request describes the section to plan retrieval for, plus the
// template and project descriptions that steer query phrasing.
type Request struct {
	SectionName         string
	SectionDescription  string
	TemplateDescription string
	ProjectDescription  string
}

// Planner asks the model for embedding-ready search queries.
type Planner struct {
	llm    llms.LLM
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// New returns a Planner backed by the given completion client.
func New(llm llms.LLM, opts ...Option) *Planner {
	p := &Planner{
		llm:    llm,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan generates between one and MaxQueries distinct queries for the
// section. A plan with no usable queries comes back as
// fault.KindNoQueries.
func (p *Planner) Plan(ctx context.Context, req Request) ([]string, error) {
	if strings.TrimSpace(req.SectionName) == "" {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Msg: "section name is required"}
	}
	if strings.TrimSpace(req.SectionDescription) == "" {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Msg: "section description is required"}
	}

	raw, err := p.llm.Complete(ctx, llms.Request{
		System: p.systemPrompt(req),
		User:   "Plan retrieval.",
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	var plan struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fault.Wrapf(fault.KindAI, op, err, "model returned invalid plan")
	}

	queries := make([]string, 0, len(plan.Queries))
	for _, q := range plan.Queries {
		if strings.TrimSpace(q) == "" {
			continue
		}
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return nil, fault.Newf(fault.KindNoQueries, "no queries generated for %q", req.SectionName)
	}
	if len(queries) > MaxQueries {
		queries = queries[:MaxQueries]
	}

	p.logger.Info("planned retrieval queries",
		"section", req.SectionName,
		"queries", len(queries))
	return queries, nil
}

func (p *Planner) systemPrompt(req Request) string {
	return fmt.Sprintf(plannerPrompt,
		p.now().Format("January 02, 2006"),
		req.ProjectDescription,
		req.TemplateDescription,
		req.SectionName,
		req.SectionDescription,
		MaxQueries)
}
