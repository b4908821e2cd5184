// Package numeric extracts currencies, percentages and plain numbers
// from text and matches them across formats ("$47.5B" against
// "47,500,000,000 USD"). The citation scorer uses it for the
// numeric-match boost.
package numeric

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies an extracted number.
type Kind string

const (
	KindNumber     Kind = "number"
	KindCurrency   Kind = "currency"
	KindPercentage Kind = "percentage"
)

// Number is a normalized numeric value extracted from text. Unit is an
// ISO currency code for currencies, "%" for percentages, "" otherwise.
type Number struct {
	Text  string
	Value float64
	Kind  Kind
	Unit  string
}

// DefaultTolerance is the relative tolerance for value matching.
const DefaultTolerance = 0.01

// Matches reports whether two numbers agree in kind, unit and value
// within the relative tolerance. Zero values compare by absolute
// difference.
func (n Number) Matches(other Number, tolerance float64) bool {
	if n.Kind != other.Kind || n.Unit != other.Unit {
		return false
	}
	if n.Value == 0 || other.Value == 0 {
		return math.Abs(n.Value-other.Value) < tolerance
	}
	relDiff := math.Abs(n.Value-other.Value) / math.Max(math.Abs(n.Value), math.Abs(other.Value))
	return relDiff <= tolerance
}

const (
	// Magnitude suffixes, longest alternatives first so the regex
	// engine prefers "billion" over "b".
	suffixes = `(?i:thousand|trillion|billion|million|bn|mn|tn|[kmbt])`
	// Digits with optional comma grouping and decimals.
	digits = `\d[\d,]*(?:\.\d+)?`
)

var (
	symbolCurrencyRe = regexp.MustCompile(`(\()?([$€£¥])\s?(` + digits + `)\s?(` + suffixes + `)?\b(\))?`)
	codeCurrencyRe   = regexp.MustCompile(`(\()?(` + digits + `)\s?(` + suffixes + `)?\s?(USD|EUR|GBP|JPY|CAD|AUD|CHF|CNY|dollars|euros|pounds)\b(\))?`)
	percentageRe     = regexp.MustCompile(`(-?` + digits + `)\s?(%|percent\b)`)
	plainNumberRe    = regexp.MustCompile(`(\()?(-?` + digits + `)\s?(` + suffixes + `)?\b(\))?`)
)

var symbolISO = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

var wordISO = map[string]string{
	"dollars": "USD",
	"euros":   "EUR",
	"pounds":  "GBP",
}

func multiplier(suffix string) float64 {
	switch strings.ToLower(suffix) {
	case "k", "thousand":
		return 1e3
	case "m", "mn", "million":
		return 1e6
	case "b", "bn", "billion":
		return 1e9
	case "t", "tn", "trillion":
		return 1e12
	default:
		return 1
	}
}

func parseDigits(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

type span struct{ start, end int }

func overlapsAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

// group returns the text of capture group i, or "" if it did not match.
func group(text string, m []int, i int) string {
	if m[2*i] < 0 {
		return ""
	}
	return text[m[2*i]:m[2*i+1]]
}

// Extract returns all numbers found in text. Currencies take priority
// over percentages, which take priority over plain numbers; lower
// priority matches overlapping an already-claimed region are dropped.
func Extract(text string) []Number {
	var numbers []Number
	var taken []span

	add := func(start, end int, n Number) {
		if overlapsAny(taken, start, end) {
			return
		}
		taken = append(taken, span{start, end})
		n.Text = text[start:end]
		numbers = append(numbers, n)
	}

	for _, m := range symbolCurrencyRe.FindAllStringSubmatchIndex(text, -1) {
		value := parseDigits(group(text, m, 3)) * multiplier(group(text, m, 4))
		if group(text, m, 1) != "" && group(text, m, 5) != "" {
			value = -value
		}
		add(m[0], m[1], Number{
			Value: value,
			Kind:  KindCurrency,
			Unit:  symbolISO[group(text, m, 2)],
		})
	}

	for _, m := range codeCurrencyRe.FindAllStringSubmatchIndex(text, -1) {
		value := parseDigits(group(text, m, 2)) * multiplier(group(text, m, 3))
		if group(text, m, 1) != "" && group(text, m, 5) != "" {
			value = -value
		}
		unit := group(text, m, 4)
		if iso, ok := wordISO[strings.ToLower(unit)]; ok {
			unit = iso
		}
		add(m[0], m[1], Number{Value: value, Kind: KindCurrency, Unit: unit})
	}

	for _, m := range percentageRe.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], m[1], Number{
			Value: parseDigits(group(text, m, 1)),
			Kind:  KindPercentage,
			Unit:  "%",
		})
	}

	for _, m := range plainNumberRe.FindAllStringSubmatchIndex(text, -1) {
		value := parseDigits(group(text, m, 2)) * multiplier(group(text, m, 3))
		if group(text, m, 1) != "" && group(text, m, 4) != "" {
			value = -value
		}
		add(m[0], m[1], Number{Value: value, Kind: KindNumber})
	}

	return numbers
}

// CountMatches counts matching number pairs between two texts. Matching
// is greedy: each number in a claims the first unclaimed match in b.
func CountMatches(a, b string, tolerance float64) int {
	numsA := Extract(a)
	numsB := Extract(b)

	count := 0
	used := make(map[int]bool, len(numsB))

	for _, na := range numsA {
		for i, nb := range numsB {
			if used[i] {
				continue
			}
			if na.Matches(nb, tolerance) {
				count++
				used[i] = true
				break
			}
		}
	}

	return count
}
