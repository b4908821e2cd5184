package parser

import (
	"encoding/xml"
	"strings"

	"github.com/nguyenthenguyen/docx"

	"github.com/magpielabs/magpie/pkg/fault"
)

// extractWordText pulls the plain text out of a .docx body. The
// library hands back raw document XML, so text runs (<w:t>) are
// collected and paragraph ends (</w:p>) become line breaks.
func extractWordText(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fault.Wrap(fault.KindParse, "parser", err)
	}
	defer doc.Close()

	return wordXMLToText(doc.Editable().GetContent())
}

func wordXMLToText(content string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))
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
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				paragraph.WriteByte(' ')
			case "br", "cr":
				paragraph.WriteByte(' ')
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

	return out.String(), nil
}
