// Package magpie is a retrieval-augmented document-analysis engine.
//
// Magpie ingests heterogeneous documents (PDF, Excel, CSV, Word,
// PowerPoint, Markdown, HTML), parses them into citable atomic units,
// embeds and indexes those units in a vector store, and answers
// analyst-authored "sections" (named questions with a description and a
// desired output shape) with grounded, citation-scored responses.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/magpielabs/magpie/cmd/magpie@latest
//
// Ingest a document and run a section against it with the zero-config
// embedded vector store:
//
//	magpie ingest ./reports/q4-2024.pdf
//	magpie section "Revenue" -d "Quarterly revenue trend" --file <file-id>
//
// Start the HTTP service:
//
//	magpie serve --config magpie.yaml
//
// # Using as a Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/magpielabs/magpie/pkg/parser"
//	    "github.com/magpielabs/magpie/pkg/section"
//	    "github.com/magpielabs/magpie/pkg/runtime"
//	)
//
// The pipeline stages are independently usable: pkg/parser and
// pkg/chunker turn files into budget-bounded chunks, pkg/index embeds
// and stores them, pkg/section runs the plan, search, ground, generate
// and cite pipeline end to end.
package magpie
