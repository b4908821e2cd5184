// Package chunker packs parsed documents into token-budgeted chunks
// ready for embedding, and produces the persisted unit and sheet maps
// that citation resolution relies on later.
package chunker

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/parser"
	"github.com/magpielabs/magpie/pkg/tokenizer"
)

// Chunker converts parser output into vector-store chunks. Text pages
// pack into overlapping chunks; spreadsheets become one chunk per
// sheet, truncated to a row-major unit prefix when the rendered sheet
// is too large.
type Chunker struct {
	codec          tokenizer.Slicer
	maxTokens      int
	overlapTokens  int
	tableMaxTokens int
	logger         *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithLimits overrides the token budgets.
func WithLimits(maxTokens, overlapTokens, tableMaxTokens int) Option {
	return func(c *Chunker) {
		c.maxTokens = maxTokens
		c.overlapTokens = overlapTokens
		c.tableMaxTokens = tableMaxTokens
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chunker) { c.logger = l }
}

// New creates a Chunker around the given token codec.
func New(codec tokenizer.Slicer, opts ...Option) *Chunker {
	c := &Chunker{
		codec:          codec,
		maxTokens:      config.DefaultParseMaxTokens,
		overlapTokens:  config.DefaultParseOverlapTokens,
		tableMaxTokens: config.DefaultTableMaxTokensPerChunk,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk builds the ParseResult for one parsed document.
func (c *Chunker) Chunk(doc *parser.Document, file document.File) (*document.ParseResult, error) {
	if doc.Tabular() {
		return c.chunkTables(doc, file)
	}
	return c.chunkText(doc, file)
}

func (c *Chunker) chunkText(doc *parser.Document, file document.File) (*document.ParseResult, error) {
	units := c.textUnits(doc)
	if len(units) == 0 {
		return nil, fault.Newf(fault.KindEmptyDocument, "file %q produced no units", file.Name)
	}

	content := make(map[string]document.Unit, len(units))
	tokens := make([]int, len(units))
	for i, u := range units {
		content[u.ID] = u
		tokens[i] = c.codec.Count(u.Text)
	}

	var chunks []document.Chunk
	idx := 0
	for idx < len(units) {
		start := idx
		running := 0
		var packed []document.Unit

		for idx < len(units) {
			cost := tokens[idx]
			if len(packed) > 0 {
				cost++ // joining newline
			}
			if running+cost > c.maxTokens && len(packed) > 0 {
				break
			}
			packed = append(packed, units[idx])
			running += cost
			idx++
		}

		chunks = append(chunks, document.Chunk{File: file, Units: packed, Tokens: running})

		// Backtrack over whole units so consecutive chunks share at
		// least overlapTokens, without ever re-starting a chunk on its
		// predecessor's first unit.
		if idx < len(units) {
			overlap := 0
			back := idx
			for back > start+1 {
				back--
				overlap += tokens[back]
				if overlap >= c.overlapTokens {
					break
				}
			}
			idx = back
		}
	}

	c.logger.Info("chunked text document",
		"file", file.Name, "units", len(units), "chunks", len(chunks))
	return &document.ParseResult{Chunks: chunks, Content: content}, nil
}

func (c *Chunker) textUnits(doc *parser.Document) []document.Unit {
	var units []document.Unit
	next := 1
	for _, page := range doc.Pages {
		for _, line := range page.Lines {
			if strings.TrimSpace(line.Text) == "" {
				continue
			}
			// A single line above the budget is token-sliced into
			// synthetic units that keep the line's location.
			for _, piece := range c.codec.Slice(line.Text, c.maxTokens) {
				units = append(units, document.Unit{
					ID:   strconv.Itoa(next),
					Type: document.UnitText,
					Text: piece,
					Location: document.Location{
						Page:   page.Number,
						Bounds: line.Bounds,
					},
				})
				next++
			}
		}
	}
	return units
}

func (c *Chunker) chunkTables(doc *parser.Document, file document.File) (*document.ParseResult, error) {
	content := make(map[string]document.Unit)
	sheets := make(map[string]document.Sheet, len(doc.Tables))
	var chunks []document.Chunk

	for _, table := range doc.Tables {
		sheetTokens := c.codec.Count(table.Text)
		sheet := document.Sheet{
			Cells:  table.Cells,
			MaxRow: table.MaxRow,
			MaxCol: table.MaxCol,
			Tokens: sheetTokens,
		}
		sheets[table.Name] = sheet

		units := sheet.Units(table.Name)
		for _, u := range units {
			content[u.ID] = u
		}
		if len(units) == 0 {
			continue
		}

		chunk := document.Chunk{
			File:  file,
			Slice: &document.Slice{Sheet: table.Name},
		}
		if sheetTokens <= c.tableMaxTokens {
			chunk.Units = units
			chunk.Tokens = sheetTokens
		} else {
			chunk.Units, chunk.Tokens = c.sheetPrefix(units)
			chunk.Slice.Truncated = true
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) == 0 {
		return nil, fault.Newf(fault.KindEmptyDocument, "file %q has no populated sheets", file.Name)
	}

	c.logger.Info("chunked table document",
		"file", file.Name, "sheets", len(sheets), "chunks", len(chunks))
	return &document.ParseResult{Chunks: chunks, Content: content, Sheets: sheets}, nil
}

// sheetPrefix takes the longest row-major unit prefix whose joined
// text stays within the table budget.
func (c *Chunker) sheetPrefix(units []document.Unit) ([]document.Unit, int) {
	var packed []document.Unit
	running := 0
	for _, u := range units {
		cost := c.codec.Count(u.Text)
		if len(packed) > 0 {
			cost++
		}
		if running+cost > c.tableMaxTokens {
			break
		}
		packed = append(packed, u)
		running += cost
	}
	return packed, running
}
