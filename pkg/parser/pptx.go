package parser

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slideEntryPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractSlides returns the text of each slide in deck order. A .pptx
// is a zip archive with one XML part per slide; text lives in <a:t>
// runs grouped into <a:p> paragraphs.
func extractSlides(path string) ([]string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	type slideEntry struct {
		number int
		file   *zip.File
	}
	var entries []slideEntry
	for _, f := range archive.File {
		match := slideEntryPattern.FindStringSubmatch(f.Name)
		if match == nil {
			continue
		}
		number, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		entries = append(entries, slideEntry{number: number, file: f})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].number < entries[j].number })

	slides := make([]string, 0, len(entries))
	for _, entry := range entries {
		text, err := readSlideText(entry.file)
		if err != nil {
			return nil, err
		}
		slides = append(slides, text)
	}
	return slides, nil
}

func readSlideText(file *zip.File) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return slideXMLToText(raw), nil
}

func slideXMLToText(raw []byte) string {
	decoder := xml.NewDecoder(strings.NewReader(string(raw)))
	decoder.Strict = false

	var (
		out       strings.Builder
		paragraph strings.Builder
		inText    bool
	)

	flush := func() {
		line := strings.TrimSpace(paragraph.String())
		paragraph.Reset()
		if line == "" {
			return
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(line)
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				paragraph.Write(t)
			}
		}
	}
	flush()

	return out.String()
}
