package generator

import (
	"context"
	"encoding/json"

	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/llms"
)

// intakeMaxChars caps the document sample sent to the intake model.
const intakeMaxChars = 2000

// Intake extracts document-level metadata from the opening of the
// parsed content. It runs on the small model and degrades to a stub on
// any failure so ingestion never blocks on the model.
func (g *Generator) Intake(ctx context.Context, content, fileName string) document.Meta {
	sample := content
	if runes := []rune(content); len(runes) > intakeMaxChars {
		sample = string(runes[:intakeMaxChars]) + "..."
	}

	raw, err := g.llm.Complete(ctx, llms.Request{
		Model:  g.llm.SmallModelName(),
		System: expand(intakePrompt, map[string]string{"document_text": sample}),
		User:   "Analyze this document.",
		JSON:   true,
	})
	if err != nil {
		g.logger.Error("intake metadata extraction failed", "file", fileName, "error", err)
		return fallbackMeta(fileName)
	}

	var meta document.Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		g.logger.Error("intake metadata is not valid JSON", "file", fileName, "error", err)
		return fallbackMeta(fileName)
	}

	g.logger.Info("intake metadata extracted",
		"file", fileName,
		"company", meta.Company,
		"doc_type", meta.DocType)
	return meta
}

func fallbackMeta(fileName string) document.Meta {
	return document.Meta{
		DocType: "other",
		Blurb:   "Document: " + fileName,
	}
}
