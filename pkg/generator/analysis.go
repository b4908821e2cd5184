package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/magpielabs/magpie/pkg/llms"
)

// Analysis is the evidence audit verdict attached to a section
// outcome. Score is 0..100; Queries propose follow-up searches for
// missing data points.
type Analysis struct {
	Score   int      `json:"score"`
	Summary string   `json:"summary"`
	Queries []string `json:"queries,omitempty"`
}

// AnalysisRequest carries the inputs of the evidence audit.
type AnalysisRequest struct {
	Context             string
	SectionName         string
	SectionDescription  string
	TemplateDescription string
	ProjectDescription  string

	// Response is the rendered draft answer, shown to the auditor for
	// reference. Text responses arrive as joined lines, structured
	// responses as pipe-separated rows.
	Response string
}

// Analyze audits whether the retrieved context actually supports the
// section. It runs on the small model and never fails: any error
// degrades to a zero-score verdict so the section outcome is not lost
// over a quality signal.
func (g *Generator) Analyze(ctx context.Context, req AnalysisRequest) Analysis {
	if strings.TrimSpace(req.Context) == "" {
		return Analysis{Summary: "No context provided"}
	}
	if strings.TrimSpace(req.SectionName) == "" {
		return Analysis{Summary: "No section name provided"}
	}

	prompt := expand(analysisPrompt, map[string]string{
		"context_date":         g.now().Format(contextDateFormat),
		"project_description":  req.ProjectDescription,
		"template_description": req.TemplateDescription,
		"section_name":         req.SectionName,
		"section_description":  req.SectionDescription,
		"numbered_context":     req.Context,
		"response":             req.Response,
	})

	raw, err := g.llm.Complete(ctx, llms.Request{
		Model:  g.llm.SmallModelName(),
		System: "You are an evidence auditor. Return only valid JSON.",
		User:   prompt,
		JSON:   true,
	})
	if err != nil {
		g.logger.Error("evidence analysis failed", "section", req.SectionName, "error", err)
		return Analysis{Summary: fmt.Sprintf("Analysis failed: %v", err)}
	}

	verdict, err := parseAnalysis(raw)
	if err != nil {
		g.logger.Error("evidence analysis returned invalid JSON", "section", req.SectionName, "error", err)
		return Analysis{Summary: fmt.Sprintf("Analysis failed: %v", err)}
	}

	g.logger.Info("evidence analysis complete",
		"section", req.SectionName,
		"score", verdict.Score)
	return verdict
}

// parseAnalysis reads the auditor's JSON. Search queries arrive as
// objects with query/reason/priority fields but are tolerated as bare
// strings.
func parseAnalysis(raw string) (Analysis, error) {
	var wire struct {
		Score   int               `json:"sufficiency_score"`
		Summary string            `json:"summary"`
		Queries []json.RawMessage `json:"search_queries"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Analysis{}, err
	}

	verdict := Analysis{Score: wire.Score, Summary: wire.Summary}
	for _, entry := range wire.Queries {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			if s != "" {
				verdict.Queries = append(verdict.Queries, s)
			}
			continue
		}
		var obj struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(entry, &obj); err == nil && obj.Query != "" {
			verdict.Queries = append(verdict.Queries, obj.Query)
		}
	}
	return verdict, nil
}
