// Package response defines the typed answer shapes produced by the
// generator (text, table, chart), the parser that turns raw model
// output into them, and the renderer used for analysis calls and
// dependent-section prompts.
package response

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/magpielabs/magpie/pkg/fault"
)

// Format identifies the requested output shape for a section.
type Format string

const (
	FormatText  Format = "text"
	FormatTable Format = "table"
	FormatChart Format = "chart"
)

// ParseFormat normalizes a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatTable, FormatChart:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fault.Newf(fault.KindValidation, "unsupported output format %q", s)
	}
}

// ChartType is the rendering hint carried by chart responses.
type ChartType string

const (
	ChartBar  ChartType = "bar"
	ChartLine ChartType = "line"
	ChartPie  ChartType = "pie"
	ChartArea ChartType = "area"
)

// TagPattern matches bracketed citation tags: [12], [45-47], [45B].
// A trailing uppercase letter addresses a table column.
var TagPattern = regexp.MustCompile(`\[(\d+(?:-\d+)?[A-Z]?)\]`)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Item is one sentence of a text response. Tags hold raw bracket
// contents until citation scoring rewrites them to citation ids.
type Item struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

// Cell is one table or chart cell.
type Cell struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

// Row is one table or chart row. The first row carries headers.
type Row struct {
	Cells []Cell `json:"cells"`
}

// Response is the parsed generator output. Exactly one of Items or
// Rows is populated, keyed by Format; Chart is set for chart responses.
type Response struct {
	Format Format    `json:"format"`
	Items  []Item    `json:"items,omitempty"`
	Rows   []Row     `json:"rows,omitempty"`
	Chart  ChartType `json:"suggested_chart_type,omitempty"`
}

// Parse turns raw model output into a Response for the requested
// format. It never fails: structured output that is not valid JSON
// (or lacks a rows array) is preserved as a single text item so the
// raw output stays inspectable.
func Parse(raw string, format Format) *Response {
	switch format {
	case FormatTable, FormatChart:
		return parseStructured(raw, format)
	default:
		return parseText(raw)
	}
}

func parseText(raw string) *Response {
	resp := &Response{Format: FormatText}
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var tags []string
		for _, m := range TagPattern.FindAllStringSubmatch(line, -1) {
			tags = append(tags, m[1])
		}

		clean := TagPattern.ReplaceAllString(line, "")
		clean = strings.TrimSpace(whitespaceRe.ReplaceAllString(clean, " "))
		if clean != "" {
			resp.Items = append(resp.Items, Item{Text: clean, Tags: tags})
		}
	}
	return resp
}

func parseStructured(raw string, format Format) *Response {
	var wire struct {
		Rows  []Row  `json:"rows"`
		Chart string `json:"suggested_chart_type"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil || wire.Rows == nil {
		return &Response{Format: FormatText, Items: []Item{{Text: raw}}}
	}

	resp := &Response{Format: format, Rows: wire.Rows}
	if format == FormatChart {
		resp.Chart = normalizeChartType(wire.Chart)
	}
	return resp
}

func normalizeChartType(s string) ChartType {
	switch c := ChartType(strings.ToLower(strings.TrimSpace(s))); c {
	case ChartBar, ChartLine, ChartPie, ChartArea:
		return c
	default:
		return ChartBar
	}
}

// Empty reports whether parsing produced no content at all.
func (r *Response) Empty() bool {
	return r == nil || (len(r.Items) == 0 && len(r.Rows) == 0)
}

// Render flattens the response to plain text: text items joined by
// newlines with their tags re-bracketed, table and chart rows joined
// as pipe-separated cell texts.
func (r *Response) Render() string {
	if r == nil {
		return ""
	}

	switch r.Format {
	case FormatTable, FormatChart:
		lines := make([]string, 0, len(r.Rows))
		for _, row := range r.Rows {
			texts := make([]string, len(row.Cells))
			for i, cell := range row.Cells {
				texts[i] = cell.Text
			}
			lines = append(lines, strings.Join(texts, " | "))
		}
		return strings.Join(lines, "\n")
	default:
		lines := make([]string, 0, len(r.Items))
		for _, item := range r.Items {
			line := item.Text
			if len(item.Tags) > 0 {
				var b strings.Builder
				b.WriteString(line)
				b.WriteByte(' ')
				for _, tag := range item.Tags {
					b.WriteByte('[')
					b.WriteString(tag)
					b.WriteByte(']')
				}
				line = b.String()
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}
}
