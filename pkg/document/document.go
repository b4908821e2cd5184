// Package document defines the core data model shared by the parsing,
// indexing, retrieval and citation layers: files, units, sheets and
// chunks. Units are created at parse time and never mutated afterwards.
package document

import (
	"sort"
	"strings"
)

// File identifies an ingested document. Name may be a filename or, for
// web-ingested files, the source URL.
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Meta is the bag of AI-inferred descriptors attached to a file at
// ingest. All fields are optional.
type Meta struct {
	Company     string `json:"company,omitempty"`
	Ticker      string `json:"ticker,omitempty"`
	DocType     string `json:"doc_type,omitempty"`
	PeriodLabel string `json:"period_label,omitempty"`
	Blurb       string `json:"blurb,omitempty"`
}

// IsZero reports whether no descriptor field is set.
func (m Meta) IsZero() bool {
	return m == Meta{}
}

// UnitType discriminates the two unit families.
type UnitType string

const (
	UnitText  UnitType = "text"
	UnitTable UnitType = "table"
)

// Bounds is a normalized rectangle in page-percentage coordinates,
// each field in [0,100].
type Bounds struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Location is the position of a unit in its source document. Text units
// use Page (1-based) and optionally Bounds; table units use Sheet, Row
// (1-based) and Col (spreadsheet letter).
type Location struct {
	Page   int     `json:"page,omitempty"`
	Bounds *Bounds `json:"bounds,omitempty"`
	Sheet  string  `json:"sheet,omitempty"`
	Row    int     `json:"row,omitempty"`
	Col    string  `json:"col,omitempty"`
}

// Unit is the atomic citable piece of a document. IDs are stable per
// file: positive integers rendered as strings for text units ("1",
// "2", ...) and spreadsheet coordinates for table units ("B7").
type Unit struct {
	ID       string   `json:"id"`
	Type     UnitType `json:"type"`
	Text     string   `json:"text"`
	Location Location `json:"location"`
}

// Cell is a single non-empty spreadsheet cell.
type Cell struct {
	Value string `json:"value"`
	Row   int    `json:"row"`
	Col   string `json:"col"`
}

// Sheet is a full spreadsheet kept alongside table units so truncated
// table chunks can be recovered at context-building time.
type Sheet struct {
	Cells  map[string]Cell `json:"cells"`
	MaxRow int             `json:"max_row"`
	MaxCol int             `json:"max_col"`
	Tokens int             `json:"tokens"`
}

// Units returns the sheet's cells as table units in row-major order
// (by row, then by column). Unit ids are the cell coordinates.
func (s Sheet) Units(sheetName string) []Unit {
	units := make([]Unit, 0, len(s.Cells))
	for coord, cell := range s.Cells {
		units = append(units, Unit{
			ID:   coord,
			Type: UnitTable,
			Text: cell.Value,
			Location: Location{
				Sheet: sheetName,
				Row:   cell.Row,
				Col:   cell.Col,
			},
		})
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].Location.Row != units[j].Location.Row {
			return units[i].Location.Row < units[j].Location.Row
		}
		return ColumnNumber(units[i].Location.Col) < ColumnNumber(units[j].Location.Col)
	})
	return units
}

// Slice marks a table chunk whose unit list is a prefix of the full
// sheet.
type Slice struct {
	Sheet     string `json:"sheet"`
	Truncated bool   `json:"truncated"`
}

// Chunk is the vector-store payload: an ordered set of units indexed
// together under a single embedding. Slice is set only on table chunks.
type Chunk struct {
	File   File   `json:"file"`
	Units  []Unit `json:"units"`
	Tokens int    `json:"tokens"`
	Slice  *Slice `json:"slice,omitempty"`
}

// Text returns the chunk's unit texts joined by newline. This is the
// string that gets embedded and whose token count the chunk carries.
func (c Chunk) Text() string {
	texts := make([]string, len(c.Units))
	for i, u := range c.Units {
		texts[i] = u.Text
	}
	return strings.Join(texts, "\n")
}

// ParseResult is everything the parser and chunker produce for one
// file: the chunks to index, the per-unit content map persisted for
// citation resolution, and the full sheets for truncated-table
// recovery.
type ParseResult struct {
	Chunks  []Chunk          `json:"chunks"`
	Content map[string]Unit  `json:"content"`
	Sheets  map[string]Sheet `json:"sheets,omitempty"`
}

// ColumnLetter converts a 1-based column number to its spreadsheet
// letter (1 → "A", 26 → "Z", 27 → "AA").
func ColumnLetter(n int) string {
	if n <= 0 {
		return ""
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// ColumnNumber converts a spreadsheet column letter back to its
// 1-based number ("A" → 1, "AA" → 27). Unknown characters yield 0.
func ColumnNumber(col string) int {
	n := 0
	for i := 0; i < len(col); i++ {
		c := col[i]
		if c < 'A' || c > 'Z' {
			return 0
		}
		n = n*26 + int(c-'A'+1)
	}
	return n
}
