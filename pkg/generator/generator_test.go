package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/llms"
	"github.com/magpielabs/magpie/pkg/response"
)

type fakeLLM struct {
	calls    int
	req      llms.Request
	response string
	err      error
}

func (f *fakeLLM) Complete(_ context.Context, req llms.Request) (string, error) {
	f.calls++
	f.req = req
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) ModelName() string      { return "gpt-4o" }
func (f *fakeLLM) SmallModelName() string { return "gpt-4o-mini" }

func genRequest(format response.Format) Request {
	return Request{
		Context:             "[1] Revenue was $47.5B in Q2 2024.\n[2] Revenue was $39.1B in Q2 2023.",
		SectionName:         "Revenue Overview",
		SectionDescription:  "Quarterly revenue with YoY change.",
		TemplateDescription: "Earnings analysis",
		ProjectDescription:  "Acme Corp review",
		Format:              format,
	}
}

func TestGenerateTextPrompt(t *testing.T) {
	llm := &fakeLLM{response: "Revenue grew 21.5% YoY. [1][2]"}
	g := New(llm)

	raw, err := g.Generate(context.Background(), genRequest(response.FormatText))
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 21.5% YoY. [1][2]", raw)

	assert.False(t, llm.req.JSON)
	assert.Empty(t, llm.req.Model)
	assert.Equal(t, "Extract the Revenue Overview.", llm.req.User)
	assert.Contains(t, llm.req.System, "numbered context")
	assert.Contains(t, llm.req.System, "Name: Revenue Overview")
	assert.Contains(t, llm.req.System, "Quarterly revenue with YoY change.")
	assert.Contains(t, llm.req.System, "Acme Corp review")
	assert.Contains(t, llm.req.System, "4. FORMAT THE ANSWER")
	assert.Contains(t, llm.req.System, "[1] Revenue was $47.5B in Q2 2024.")
	assert.NotContains(t, llm.req.System, "PREVIOUS SECTIONS")
}

func TestGenerateStructuredRequestsJSON(t *testing.T) {
	llm := &fakeLLM{response: `{"rows": []}`}
	g := New(llm)

	_, err := g.Generate(context.Background(), genRequest(response.FormatTable))
	require.NoError(t, err)
	assert.True(t, llm.req.JSON)
	assert.Contains(t, llm.req.System, "STRUCTURED JSON TABLE")

	_, err = g.Generate(context.Background(), genRequest(response.FormatChart))
	require.NoError(t, err)
	assert.True(t, llm.req.JSON)
	assert.Contains(t, llm.req.System, "suggested_chart_type")
	assert.Contains(t, llm.req.System, "6. CHART TYPE (required)")
}

func TestGeneratePreviousSections(t *testing.T) {
	llm := &fakeLLM{response: "ok"}
	g := New(llm)

	req := genRequest(response.FormatText)
	req.PreviousSections = []Previous{
		{Name: "Company Snapshot", Format: response.FormatText, Response: "Acme makes widgets."},
		{Name: "Revenue Table", Format: response.FormatTable, Response: `{"rows":[{"cells":[{"text":"Revenue","tags":[]},{"text":"$47.5B","tags":["12"]}]}]}`},
		{Name: "Empty", Format: response.FormatText, Response: "   "},
	}

	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, llm.req.System, "**PREVIOUS SECTIONS**")
	assert.Contains(t, llm.req.System, "Company Snapshot:\nAcme makes widgets.")
	assert.Contains(t, llm.req.System, "Revenue Table:\nRevenue | $47.5B")
	assert.NotContains(t, llm.req.System, "Empty:")
	assert.Contains(t, llm.req.System, "NEVER cite previous sections")
}

func TestGenerateValidatesInput(t *testing.T) {
	llm := &fakeLLM{response: "ok"}
	g := New(llm)
	ctx := context.Background()

	req := genRequest(response.FormatText)
	req.Context = "  "
	_, err := g.Generate(ctx, req)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	req = genRequest(response.FormatText)
	req.SectionName = ""
	_, err = g.Generate(ctx, req)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	req = genRequest(response.FormatText)
	req.SectionDescription = ""
	_, err = g.Generate(ctx, req)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	assert.Zero(t, llm.calls)
}

func TestGenerateEmptyModelResponse(t *testing.T) {
	g := New(&fakeLLM{response: "  \n "})
	_, err := g.Generate(context.Background(), genRequest(response.FormatText))
	require.Error(t, err)
	assert.Equal(t, fault.KindAI, fault.KindOf(err))
}

func TestGeneratePropagatesLLMError(t *testing.T) {
	cause := errors.New("timeout")
	g := New(&fakeLLM{err: cause})
	_, err := g.Generate(context.Background(), genRequest(response.FormatText))
	require.ErrorIs(t, err, cause)
}

func analysisRequest() AnalysisRequest {
	return AnalysisRequest{
		Context:             "[1] Revenue was $47.5B.",
		SectionName:         "Revenue Overview",
		SectionDescription:  "Quarterly revenue.",
		TemplateDescription: "Earnings analysis",
		ProjectDescription:  "Acme Corp review",
		Response:            "Revenue grew 21.5% YoY. [1]",
	}
}

func TestAnalyzeParsesVerdict(t *testing.T) {
	llm := &fakeLLM{response: `{
		"sufficiency_score": 85,
		"search_queries": [{"query": "Acme operating costs Q2 2024", "reason": "missing costs", "priority": "high"}],
		"summary": "Revenue is covered; costs are missing."
	}`}
	g := New(llm)

	verdict := g.Analyze(context.Background(), analysisRequest())
	assert.Equal(t, 85, verdict.Score)
	assert.Equal(t, "Revenue is covered; costs are missing.", verdict.Summary)
	assert.Equal(t, []string{"Acme operating costs Q2 2024"}, verdict.Queries)

	assert.Equal(t, "gpt-4o-mini", llm.req.Model)
	assert.True(t, llm.req.JSON)
	assert.Equal(t, "You are an evidence auditor. Return only valid JSON.", llm.req.System)
	assert.Contains(t, llm.req.User, "[1] Revenue was $47.5B.")
	assert.Contains(t, llm.req.User, "5. DRAFT RESPONSE")
	assert.Contains(t, llm.req.User, "Revenue grew 21.5% YoY. [1]")
}

func TestAnalyzeAcceptsBareStringQueries(t *testing.T) {
	g := New(&fakeLLM{response: `{"sufficiency_score": 40, "search_queries": ["acme capex 2023"], "summary": "partial"}`})
	verdict := g.Analyze(context.Background(), analysisRequest())
	assert.Equal(t, []string{"acme capex 2023"}, verdict.Queries)
}

func TestAnalyzeDegradesOnLLMError(t *testing.T) {
	g := New(&fakeLLM{err: errors.New("boom")})
	verdict := g.Analyze(context.Background(), analysisRequest())
	assert.Zero(t, verdict.Score)
	assert.True(t, strings.HasPrefix(verdict.Summary, "Analysis failed:"), verdict.Summary)
	assert.Empty(t, verdict.Queries)
}

func TestAnalyzeDegradesOnBadJSON(t *testing.T) {
	g := New(&fakeLLM{response: "not json"})
	verdict := g.Analyze(context.Background(), analysisRequest())
	assert.Zero(t, verdict.Score)
	assert.True(t, strings.HasPrefix(verdict.Summary, "Analysis failed:"), verdict.Summary)
}

func TestAnalyzeSkipsModelOnEmptyInput(t *testing.T) {
	llm := &fakeLLM{response: `{"sufficiency_score": 90}`}
	g := New(llm)

	req := analysisRequest()
	req.Context = ""
	verdict := g.Analyze(context.Background(), req)
	assert.Equal(t, "No context provided", verdict.Summary)

	req = analysisRequest()
	req.SectionName = "  "
	verdict = g.Analyze(context.Background(), req)
	assert.Equal(t, "No section name provided", verdict.Summary)

	assert.Zero(t, llm.calls)
}

func TestIntakeParsesMeta(t *testing.T) {
	llm := &fakeLLM{response: `{
		"company": "Acme Corp",
		"ticker": "ACME",
		"doc_type": "10-K",
		"period_label": "FY 2024",
		"blurb": "Annual report. Revenue $180B, up 12%."
	}`}
	g := New(llm)

	meta := g.Intake(context.Background(), "Acme Corp annual report for fiscal 2024...", "acme-10k.pdf")
	assert.Equal(t, "Acme Corp", meta.Company)
	assert.Equal(t, "ACME", meta.Ticker)
	assert.Equal(t, "10-K", meta.DocType)
	assert.Equal(t, "FY 2024", meta.PeriodLabel)
	assert.Equal(t, "Annual report. Revenue $180B, up 12%.", meta.Blurb)

	assert.Equal(t, "gpt-4o-mini", llm.req.Model)
	assert.True(t, llm.req.JSON)
	assert.Equal(t, "Analyze this document.", llm.req.User)
	assert.Contains(t, llm.req.System, "Acme Corp annual report for fiscal 2024...")
}

func TestIntakeTruncatesSample(t *testing.T) {
	llm := &fakeLLM{response: `{}`}
	g := New(llm)

	content := "HEAD" + strings.Repeat("x", 2000) + "TAIL"
	g.Intake(context.Background(), content, "big.pdf")

	assert.Contains(t, llm.req.System, "HEAD")
	assert.NotContains(t, llm.req.System, "TAIL")
	assert.Contains(t, llm.req.System, "x...")
}

func TestIntakeFallsBack(t *testing.T) {
	g := New(&fakeLLM{err: errors.New("boom")})
	meta := g.Intake(context.Background(), "content", "report.pdf")
	assert.Equal(t, "other", meta.DocType)
	assert.Equal(t, "Document: report.pdf", meta.Blurb)

	g = New(&fakeLLM{response: "not json"})
	meta = g.Intake(context.Background(), "content", "report.pdf")
	assert.Equal(t, "other", meta.DocType)
	assert.Equal(t, "Document: report.pdf", meta.Blurb)
}
