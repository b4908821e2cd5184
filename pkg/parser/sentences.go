package parser

import (
	"strings"
	"unicode"
)

// abbreviations end with a period without ending a sentence. Keys are
// lowercase with the final period stripped; multi-dot forms keep their
// interior dots ("e.g", "u.s").
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "rev": {},
	"jr": {}, "sr": {}, "st": {}, "no": {}, "fig": {}, "vol": {}, "pp": {},
	"inc": {}, "corp": {}, "ltd": {}, "llc": {}, "co": {}, "dept": {},
	"vs": {}, "etc": {}, "approx": {}, "est": {}, "min": {}, "max": {}, "avg": {},
	"e.g": {}, "i.e": {}, "u.s": {}, "u.k": {}, "a.m": {}, "p.m": {},
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "jun": {}, "jul": {},
	"aug": {}, "sep": {}, "sept": {}, "oct": {}, "nov": {}, "dec": {},
}

// SplitSentences breaks prose into sentences. Newlines are hard boundaries.
// A terminator only ends a sentence when what follows looks like the start
// of a new one, so decimals, abbreviations, initials, and list markers stay
// intact.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// Closing quotes and brackets stay with the sentence they end.
		j := i + 1
		for j < len(runes) && isTrailer(runes[j]) {
			current.WriteRune(runes[j])
			j++
		}

		boundary := boundaryAt(runes, i, j, current.String())
		i = j - 1
		if boundary {
			flush()
		}
	}
	flush()
	return sentences
}

func isTrailer(r rune) bool {
	switch r {
	case '.', '!', '?', '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

func isOpener(r rune) bool {
	if unicode.IsUpper(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '"', '\'', '(', '[', '“', '‘', '•', '-', '#', '$', '€', '£', '¥':
		return true
	}
	return false
}

// boundaryAt reports whether the terminator at position at ends a sentence.
// next is the first position after the terminator and its trailers.
func boundaryAt(runes []rune, at, next int, sentence string) bool {
	if next >= len(runes) {
		return true
	}
	// "1.5" and "file.txt" never reach whitespace right after the period.
	if !unicode.IsSpace(runes[next]) {
		return false
	}

	if runes[at] == '.' {
		token := tokenBefore(runes, at)
		if _, ok := abbreviations[token]; ok {
			return false
		}
		// A single letter before the period is an initial ("A. Smith").
		if len(token) == 1 && unicode.IsLetter(rune(token[0])) {
			return false
		}
		// A bare number opening the sentence is a list marker ("3. Outlook").
		if token != "" && allDigits(token) && strings.TrimSpace(sentence) == token+"." {
			return false
		}
	}

	k := next
	for k < len(runes) && unicode.IsSpace(runes[k]) {
		k++
	}
	if k >= len(runes) {
		return true
	}
	return isOpener(runes[k])
}

// tokenBefore returns the lowercased run of letters, digits, and interior
// dots immediately preceding position at.
func tokenBefore(runes []rune, at int) string {
	end := at
	start := end
	for start > 0 {
		r := runes[start-1]
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' {
			start--
			continue
		}
		break
	}
	token := strings.Trim(string(runes[start:end]), ".")
	return strings.ToLower(token)
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
