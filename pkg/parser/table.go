package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/fault"
)

const csvSampleSize = 64 * 1024

// parseExcel reads a workbook sheet by sheet through excelize's
// streaming row iterator. Sheets that fail to read are skipped; a
// workbook yielding no sheets at all is an empty document.
func (p *Parser) parseExcel(ctx context.Context, path, name string) (*Document, error) {
	start := time.Now()

	workbook, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fault.Wrapf(fault.KindParse, "parser", err, "failed to open workbook %q", name)
	}
	defer workbook.Close()

	var tables []Table
	for _, sheetName := range workbook.GetSheetList() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rows, err := p.readSheetRows(workbook, sheetName)
		if err != nil {
			p.logger.Error("failed to read sheet", "file", name, "sheet", sheetName, "error", err)
			continue
		}
		tables = append(tables, p.buildTable(rows, sheetName, len(tables)+1))
	}

	if len(tables) == 0 {
		return nil, fault.Newf(fault.KindEmptyDocument, "no sheets readable in %q", name)
	}

	p.logger.Info("parsed workbook", "file", name, "sheets", len(tables), "duration", time.Since(start))
	return &Document{Tables: tables, Intake: tables[0].Text}, nil
}

func (p *Parser) readSheetRows(workbook *excelize.File, sheetName string) ([][]string, error) {
	iter, err := workbook.Rows(sheetName)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rows [][]string
	for iter.Next() {
		if len(rows) >= p.maxRowsToScan {
			break
		}
		row, err := iter.Columns()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, iter.Error()
}

// parseCSV reads a delimited file as a single "Data" sheet. Encoding
// and delimiter are detected from a prefix sample.
func (p *Parser) parseCSV(path, name string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindParse, "parser", err)
	}

	sample := raw
	if len(sample) > csvSampleSize {
		sample = sample[:csvSampleSize]
	}
	text := decodeText(raw, detectEncoding(sample))
	delimiter := sniffDelimiter(text)

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for len(rows) < p.maxRowsToScan {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fault.Wrapf(fault.KindParse, "parser", err, "failed to read csv %q", name)
		}
		rows = append(rows, record)
	}

	table := p.buildTable(rows, "Data", 1)
	if table.MaxRow == 0 {
		return nil, fault.Newf(fault.KindEmptyDocument, "csv %q has no content", name)
	}

	p.logger.Info("parsed csv", "file", name, "rows", table.MaxRow, "delimiter", string(delimiter))
	return &Document{Tables: []Table{table}, Intake: table.Text}, nil
}

// buildTable finds the content boundaries, renders the pipe text and
// collects the coordinate-keyed cell map for one sheet.
func (p *Parser) buildTable(rows [][]string, sheetName string, index int) Table {
	maxRow, maxCol := p.tableBoundaries(rows)

	var lines []string
	cells := make(map[string]document.Cell)

	if maxRow == 0 || maxCol == 0 {
		lines = append(lines, "(Empty sheet)")
	} else {
		for rowIdx := 1; rowIdx <= maxRow; rowIdx++ {
			row := rows[rowIdx-1]
			values := make([]string, maxCol)
			for colIdx := 1; colIdx <= maxCol; colIdx++ {
				if colIdx > len(row) {
					continue
				}
				clean := cleanCellValue(row[colIdx-1])
				values[colIdx-1] = clean
				if clean != "" {
					col := document.ColumnLetter(colIdx)
					coord := col + strconv.Itoa(rowIdx)
					cells[coord] = document.Cell{Value: clean, Row: rowIdx, Col: col}
				}
			}
			lines = append(lines, strings.Join(values, " | "))
		}
	}

	return Table{
		Name:   sheetName,
		Index:  index,
		Text:   strings.Join(lines, "\n"),
		Cells:  cells,
		MaxRow: maxRow,
		MaxCol: maxCol,
	}
}

// tableBoundaries returns the last row and column holding content,
// giving up after emptyRowThreshold consecutive empty rows.
func (p *Parser) tableBoundaries(rows [][]string) (int, int) {
	maxRow, maxCol := 0, 0
	consecutiveEmpty := 0

	for rowIdx, row := range rows {
		rowHasContent := false
		for colIdx, value := range row {
			if strings.TrimSpace(value) != "" {
				rowHasContent = true
				if colIdx+1 > maxCol {
					maxCol = colIdx + 1
				}
			}
		}

		if rowHasContent {
			maxRow = rowIdx + 1
			consecutiveEmpty = 0
		} else {
			consecutiveEmpty++
			if consecutiveEmpty >= p.emptyRowThreshold {
				break
			}
		}
	}

	return maxRow, maxCol
}

func cleanCellValue(value string) string {
	replacer := strings.NewReplacer("\n", " ", "\r", " ")
	return strings.TrimSpace(replacer.Replace(value))
}

type textEncoding int

const (
	encodingUTF8 textEncoding = iota
	encodingUTF16LE
	encodingUTF16BE
	encodingLatin1
)

// detectEncoding applies a BOM check first, then falls back to UTF-8
// validity, then Latin-1.
func detectEncoding(sample []byte) textEncoding {
	switch {
	case bytes.HasPrefix(sample, []byte{0xFF, 0xFE}):
		return encodingUTF16LE
	case bytes.HasPrefix(sample, []byte{0xFE, 0xFF}):
		return encodingUTF16BE
	case utf8.Valid(sample):
		return encodingUTF8
	default:
		return encodingLatin1
	}
}

func decodeText(raw []byte, enc textEncoding) string {
	switch enc {
	case encodingUTF16LE, encodingUTF16BE:
		return decodeUTF16(raw, enc == encodingUTF16BE)
	case encodingLatin1:
		runes := make([]rune, len(raw))
		for i, b := range raw {
			runes[i] = rune(b)
		}
		return string(runes)
	default:
		return strings.TrimPrefix(string(raw), "\ufeff")
	}
}

func decodeUTF16(raw []byte, bigEndian bool) string {
	if len(raw) >= 2 {
		raw = raw[2:] // BOM
	}
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		if bigEndian {
			units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
		} else {
			units = append(units, uint16(raw[i])|uint16(raw[i+1])<<8)
		}
	}
	return string(utf16.Decode(units))
}

// sniffDelimiter picks the candidate whose per-line field count is
// most consistent across the first 4 KiB.
func sniffDelimiter(text string) rune {
	sample := text
	if len(sample) > 4096 {
		sample = sample[:4096]
	}

	lines := strings.Split(sample, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}

	best := ','
	bestScore := -1
	for _, candidate := range []rune{',', ';', '\t', '|'} {
		score := delimiterScore(lines, candidate)
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best
}

// delimiterScore rewards delimiters that appear on every line with a
// stable count. A candidate absent from any line scores zero.
func delimiterScore(lines []string, delimiter rune) int {
	counts := make(map[int]int)
	total := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := strings.Count(line, string(delimiter))
		counts[n]++
		total++
	}
	if total == 0 {
		return 0
	}

	// Most common per-line occurrence and how dominant it is.
	mode, modeCount := 0, 0
	for n, c := range counts {
		if c > modeCount {
			mode, modeCount = n, c
		}
	}
	if mode == 0 {
		return 0
	}
	return mode * modeCount
}
