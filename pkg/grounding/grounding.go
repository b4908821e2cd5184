// Package grounding builds the numbered context that generation cites
// against.
//
// Matches are selected under a hard token budget in descending score
// order, grouped by file for presentation, and rendered one unit per
// line with a global bracket id. The returned sources map resolves
// those ids back to their units so cited brackets can be scored and
// displayed downstream.
package grounding

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/search"
)

// Source resolves one global id. Text ids carry a single unit; table
// ids carry every cell of the numbered row, so a citation of any cell
// recovers the whole row.
type Source struct {
	Units []document.Unit
	File  document.File
	Meta  document.Meta
}

// SheetSet resolves file id and sheet name to the full parsed sheet.
// The orchestrator loads it for the truncated matches in play.
type SheetSet map[string]map[string]document.Sheet

// Sheet looks up one sheet.
func (s SheetSet) Sheet(fileID, name string) (document.Sheet, bool) {
	sheet, ok := s[fileID][name]
	return sheet, ok
}

// Builder renders match sets into numbered context.
type Builder struct {
	maxTokens int
	logger    *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxTokens overrides the context token budget.
func WithMaxTokens(n int) Option {
	return func(b *Builder) { b.maxTokens = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New returns a Builder with the default budget.
func New(opts ...Option) *Builder {
	b := &Builder{
		maxTokens: config.DefaultContextMaxTokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build selects matches under the token budget, orders them for
// presentation and renders the numbered context. Output is
// deterministic for a given match set and sheet set.
func (b *Builder) Build(matches []search.Match, sheets SheetSet) (string, map[int]Source) {
	if len(matches) == 0 {
		return "", map[int]Source{}
	}

	selected, total := b.selectByBudget(matches, sheets)
	b.logger.Info("selected context matches",
		"selected", len(selected),
		"candidates", len(matches),
		"tokens", total)

	r := newRenderer(sheets)
	for _, m := range orderForPresentation(selected) {
		r.match(m)
	}
	return strings.Join(r.lines, "\n"), r.sources
}

// selectByBudget accumulates matches by descending score until the
// first one that does not fit. Truncated table matches are costed at
// the full sheet they expand to.
func (b *Builder) selectByBudget(matches []search.Match, sheets SheetSet) ([]search.Match, int) {
	sorted := make([]search.Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var selected []search.Match
	total := 0
	for _, m := range sorted {
		cost := m.Tokens
		if m.Truncated {
			if sheet, ok := sheets.Sheet(m.File.ID, m.Sheet); ok {
				cost = sheet.Tokens
			}
		}
		if total+cost > b.maxTokens {
			break
		}
		selected = append(selected, m)
		total += cost
	}
	return selected, total
}

// orderForPresentation groups matches by file, orders files by their
// best score, and orders matches within a file by first-unit position:
// page for text, row then sheet for table cells.
func orderForPresentation(matches []search.Match) []search.Match {
	type group struct {
		best    float32
		matches []search.Match
	}
	byFile := make(map[string]*group)
	var groups []*group
	for _, m := range matches {
		g, ok := byFile[m.File.ID]
		if !ok {
			g = &group{}
			byFile[m.File.ID] = g
			groups = append(groups, g)
		}
		if m.Score > g.best {
			g.best = m.Score
		}
		g.matches = append(g.matches, m)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].best > groups[j].best })

	ordered := make([]search.Match, 0, len(matches))
	for _, g := range groups {
		sort.SliceStable(g.matches, func(i, j int) bool {
			a, b := firstLocation(g.matches[i]), firstLocation(g.matches[j])
			if a.Page != b.Page {
				return a.Page < b.Page
			}
			if a.Row != b.Row {
				return a.Row < b.Row
			}
			return a.Sheet < b.Sheet
		})
		ordered = append(ordered, g.matches...)
	}
	return ordered
}

func firstLocation(m search.Match) document.Location {
	if len(m.Units) == 0 {
		return document.Location{}
	}
	return m.Units[0].Location
}

// unitKey identifies a unit across overlapping matches. Table unit ids
// are coordinates unique only within a sheet, so the sheet is part of
// the key.
type unitKey struct {
	fileID string
	sheet  string
	unitID string
}

type renderer struct {
	sheets  SheetSet
	lines   []string
	sources map[int]Source
	seen    map[unitKey]bool

	next   int
	fileID string
	sheet  string

	rowOpen  bool
	rowSheet string
	rowNum   int
}

func newRenderer(sheets SheetSet) *renderer {
	return &renderer{
		sheets:  sheets,
		sources: make(map[int]Source),
		seen:    make(map[unitKey]bool),
		next:    1,
	}
}

func (r *renderer) match(m search.Match) {
	if m.File.ID != r.fileID {
		r.header(m)
		r.fileID = m.File.ID
		r.sheet = ""
	}

	if m.Sheet != "" && m.Sheet != r.sheet {
		r.closeRow()
		r.lines = append(r.lines, "", "--- Sheet: "+m.Sheet+" ---")
	}
	r.sheet = m.Sheet

	units := m.Units
	if m.Truncated {
		if sheet, ok := r.sheets.Sheet(m.File.ID, m.Sheet); ok {
			units = sheet.Units(m.Sheet)
		}
	}
	for _, u := range units {
		r.unit(m, u)
	}
}

func (r *renderer) header(m search.Match) {
	r.closeRow()
	r.lines = append(r.lines, "", "### "+m.File.Name)

	var parts []string
	if m.Meta.Company != "" || m.Meta.Ticker != "" {
		company := m.Meta.Company
		if m.Meta.Ticker != "" {
			company = fmt.Sprintf("%s (%s)", company, m.Meta.Ticker)
		}
		parts = append(parts, "**"+company+"**")
	}
	if m.Meta.DocType != "" {
		parts = append(parts, m.Meta.DocType)
	}
	if m.Meta.PeriodLabel != "" {
		parts = append(parts, m.Meta.PeriodLabel)
	}
	if len(parts) > 0 {
		r.lines = append(r.lines, strings.Join(parts, " | "))
	}

	if strings.HasPrefix(m.File.Name, "http") {
		r.lines = append(r.lines, "URL: "+m.File.Name)
	}
	if m.Meta.Blurb != "" {
		r.lines = append(r.lines, "", "Summary: "+m.Meta.Blurb)
	}
	r.lines = append(r.lines, "")
}

func (r *renderer) unit(m search.Match, u document.Unit) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return
	}
	key := unitKey{m.File.ID, u.Location.Sheet, u.ID}
	if r.seen[key] {
		return
	}
	r.seen[key] = true

	if u.Type == document.UnitTable {
		if !r.rowOpen || u.Location.Sheet != r.rowSheet || u.Location.Row != r.rowNum {
			r.closeRow()
			r.rowOpen = true
			r.rowSheet = u.Location.Sheet
			r.rowNum = u.Location.Row
		}
		r.lines = append(r.lines, fmt.Sprintf("[%d%s]: %s", r.next, u.Location.Col, text))
		src := r.sources[r.next]
		src.File = m.File
		src.Meta = m.Meta
		src.Units = append(src.Units, u)
		r.sources[r.next] = src
		return
	}

	r.closeRow()
	r.lines = append(r.lines, fmt.Sprintf("[%d] %s", r.next, text))
	r.sources[r.next] = Source{Units: []document.Unit{u}, File: m.File, Meta: m.Meta}
	r.next++
}

// closeRow advances the id counter past an open table row so the next
// unit gets a fresh id.
func (r *renderer) closeRow() {
	if r.rowOpen {
		r.next++
		r.rowOpen = false
	}
}
