// Package parser turns uploaded files into ordered pages of typed
// lines (text documents) or per-sheet cell tables (spreadsheets).
// The chunker downstream owns token budgets; the parser owns format
// dispatch, layout recovery and cell addressing.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/ledongthuc/pdf"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Line is one parsed row of a text document. Bounds is set only when
// an OCR layout service produced the line.
type Line struct {
	Text   string           `json:"text"`
	Bounds *document.Bounds `json:"bounds,omitempty"`
}

// Page is an ordered group of lines: a PDF page or a slide.
type Page struct {
	Number int    `json:"number"`
	Lines  []Line `json:"lines"`
}

// Table is one parsed spreadsheet sheet: the pipe-rendered text plus
// every non-empty cell keyed by its <letter><row> coordinate.
type Table struct {
	Name   string                   `json:"name"`
	Index  int                      `json:"index"`
	Text   string                   `json:"text"`
	Cells  map[string]document.Cell `json:"cells"`
	MaxRow int                      `json:"max_row"`
	MaxCol int                      `json:"max_col"`
}

// Document is the parse output for one file. Exactly one of Pages or
// Tables is populated. Intake holds the raw converted text handed to
// metadata analysis.
type Document struct {
	Pages  []Page  `json:"pages,omitempty"`
	Tables []Table `json:"tables,omitempty"`
	Intake string  `json:"-"`
}

// Tabular reports whether the document parsed as a spreadsheet.
func (d *Document) Tabular() bool {
	return len(d.Tables) > 0
}

// OCR produces per-page lines with normalized bounds for a PDF.
// Implemented by pkg/ocr; when nil the native reader is used instead.
type OCR interface {
	Analyze(ctx context.Context, path string) ([]Page, error)
}

// Parser dispatches files to format-specific readers.
type Parser struct {
	ocr    OCR
	logger *slog.Logger

	maxRowsToScan     int
	emptyRowThreshold int
}

// Option configures a Parser.
type Option func(*Parser)

// WithOCR enables the OCR path for PDFs.
func WithOCR(o OCR) Option {
	return func(p *Parser) { p.ocr = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// WithTableLimits overrides the sheet scan caps.
func WithTableLimits(maxRowsToScan, emptyRowThreshold int) Option {
	return func(p *Parser) {
		if maxRowsToScan > 0 {
			p.maxRowsToScan = maxRowsToScan
		}
		if emptyRowThreshold > 0 {
			p.emptyRowThreshold = emptyRowThreshold
		}
	}
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		logger:            slog.Default(),
		maxRowsToScan:     config.DefaultTableMaxRowsToScan,
		emptyRowThreshold: config.DefaultTableEmptyRowThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads the file at path and produces its Document. The file
// name is used for error reporting only; dispatch keys on the path's
// lowercased extension.
func (p *Parser) Parse(ctx context.Context, path, name string) (*Document, error) {
	if path == "" {
		return nil, fault.New(fault.KindValidation, "file path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fault.Wrapf(fault.KindValidation, "parser", err, "file %q not readable", name)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return p.parsePDF(ctx, path, name)
	case ".xlsx", ".xlsm", ".xls":
		return p.parseExcel(ctx, path, name)
	case ".csv":
		return p.parseCSV(path, name)
	case ".md", ".markdown":
		return p.parseMarkdown(path, name)
	case ".txt":
		return p.parsePlainText(path, name)
	case ".docx":
		return p.parseWord(path, name)
	case ".pptx":
		return p.parseSlides(path, name)
	case ".html", ".htm":
		return p.parseHTML(path, name)
	default:
		return nil, fault.Newf(fault.KindUnsupported, "unsupported file extension %q", ext)
	}
}

func (p *Parser) parsePDF(ctx context.Context, path, name string) (*Document, error) {
	if p.ocr != nil {
		pages, err := p.ocr.Analyze(ctx, path)
		if err != nil {
			return nil, fault.Wrapf(fault.KindParse, "parser", err, "layout analysis failed for %q", name)
		}
		p.logger.Info("parsed pdf via layout service", "file", name, "pages", len(pages))
		return p.textDocument(pages, name)
	}
	return p.parsePDFNative(ctx, path, name)
}

// parsePDFNative extracts per-page plain text without layout bounds.
func (p *Parser) parsePDFNative(ctx context.Context, path, name string) (*Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindParse, "parser", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fault.Wrap(fault.KindParse, "parser", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fault.Wrapf(fault.KindParse, "parser", err, "failed to open pdf %q", name)
	}

	var pages []Page
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			p.logger.Warn("pdf page extraction failed", "file", name, "page", pageNum, "error", err)
			continue
		}

		var lines []Line
		for _, sentence := range SplitSentences(text) {
			lines = append(lines, Line{Text: sentence})
		}
		pages = append(pages, Page{Number: pageNum, Lines: lines})
	}

	p.logger.Info("parsed pdf natively", "file", name, "pages", len(pages))
	return p.textDocument(pages, name)
}

func (p *Parser) parseMarkdown(path, name string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindParse, "parser", err)
	}

	var lines []Line
	for _, raw := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		lines = append(lines, Line{Text: strings.TrimRight(raw, "\r")})
	}

	doc, err := p.textDocument([]Page{{Number: 1, Lines: lines}}, name)
	if err != nil {
		return nil, err
	}
	doc.Intake = string(content)
	return doc, nil
}

func (p *Parser) parsePlainText(path, name string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindParse, "parser", err)
	}
	return p.sentencePage(string(content), name)
}

func (p *Parser) parseWord(path, name string) (*Document, error) {
	text, err := extractWordText(path)
	if err != nil {
		return nil, fault.Wrapf(fault.KindParse, "parser", err, "failed to read %q", name)
	}
	return p.sentencePage(text, name)
}

func (p *Parser) parseHTML(path, name string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindParse, "parser", err)
	}

	markdown, err := htmltomarkdown.ConvertString(string(content))
	if err != nil {
		return nil, fault.Wrapf(fault.KindParse, "parser", err, "html conversion failed for %q", name)
	}
	return p.sentencePage(markdown, name)
}

func (p *Parser) parseSlides(path, name string) (*Document, error) {
	slides, err := extractSlides(path)
	if err != nil {
		return nil, fault.Wrapf(fault.KindParse, "parser", err, "failed to read %q", name)
	}

	var pages []Page
	var intake strings.Builder
	for i, slide := range slides {
		fmt.Fprintf(&intake, "<!-- Slide number: %d -->\n%s\n\n", i+1, slide)

		var lines []Line
		for _, sentence := range SplitSentences(slide) {
			lines = append(lines, Line{Text: sentence})
		}
		pages = append(pages, Page{Number: i + 1, Lines: lines})
	}

	doc, err := p.textDocument(pages, name)
	if err != nil {
		return nil, err
	}
	doc.Intake = intake.String()
	return doc, nil
}

// sentencePage builds a single-page document from sentence-split prose.
func (p *Parser) sentencePage(text, name string) (*Document, error) {
	var lines []Line
	for _, sentence := range SplitSentences(text) {
		lines = append(lines, Line{Text: sentence})
	}

	doc, err := p.textDocument([]Page{{Number: 1, Lines: lines}}, name)
	if err != nil {
		return nil, err
	}
	doc.Intake = text
	return doc, nil
}

// textDocument assembles a text document, defaulting Intake to the
// first non-empty page and rejecting documents with no content at all.
func (p *Parser) textDocument(pages []Page, name string) (*Document, error) {
	total := 0
	for _, page := range pages {
		total += len(page.Lines)
	}
	if total == 0 {
		return nil, fault.Newf(fault.KindEmptyDocument, "document %q has no parseable content", name)
	}

	doc := &Document{Pages: pages}
	for _, page := range pages {
		if len(page.Lines) == 0 {
			continue
		}
		texts := make([]string, len(page.Lines))
		for i, line := range page.Lines {
			texts[i] = line.Text
		}
		doc.Intake = strings.Join(texts, "\n")
		break
	}
	return doc, nil
}
