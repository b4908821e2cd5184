package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentencesBasic(t *testing.T) {
	sentences := SplitSentences("Revenue grew strongly. Margins expanded too. What comes next?")
	assert.Equal(t, []string{
		"Revenue grew strongly.",
		"Margins expanded too.",
		"What comes next?",
	}, sentences)
}

func TestSplitSentencesKeepsDecimals(t *testing.T) {
	sentences := SplitSentences("Revenue was $47.5 billion. Margin reached 12.3% of sales.")
	assert.Equal(t, []string{
		"Revenue was $47.5 billion.",
		"Margin reached 12.3% of sales.",
	}, sentences)
}

func TestSplitSentencesKeepsAbbreviations(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "corporate suffix",
			text: "Acme Inc. Reported strong results.",
			want: []string{"Acme Inc. Reported strong results."},
		},
		{
			name: "latin abbreviation",
			text: "Several segments grew, e.g. Cloud and Devices. Others shrank.",
			want: []string{"Several segments grew, e.g. Cloud and Devices.", "Others shrank."},
		},
		{
			name: "country abbreviation",
			text: "Sales in the U.S. Remained flat.",
			want: []string{"Sales in the U.S. Remained flat."},
		},
		{
			name: "personal initial",
			text: "The report was signed by J. Smith. It was filed Monday.",
			want: []string{"The report was signed by J. Smith.", "It was filed Monday."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.text))
		})
	}
}

func TestSplitSentencesListMarkers(t *testing.T) {
	sentences := SplitSentences("3. Outlook for the year.")
	assert.Equal(t, []string{"3. Outlook for the year."}, sentences)
}

func TestSplitSentencesNewlinesAreBoundaries(t *testing.T) {
	sentences := SplitSentences("First line\nSecond line without terminator\n\nThird")
	assert.Equal(t, []string{"First line", "Second line without terminator", "Third"}, sentences)
}

func TestSplitSentencesTrailingQuote(t *testing.T) {
	sentences := SplitSentences(`He said "growth is back." The market agreed.`)
	assert.Equal(t, []string{`He said "growth is back."`, "The market agreed."}, sentences)
}

func TestSplitSentencesLowercaseContinuation(t *testing.T) {
	// A lowercase continuation after a period keeps the sentence whole.
	sentences := SplitSentences("See appendix A.1 for details. the figures are unaudited")
	assert.Len(t, sentences, 1)
}

func TestSplitSentencesEmpty(t *testing.T) {
	assert.Empty(t, SplitSentences(""))
	assert.Empty(t, SplitSentences("   \n  \n"))
}
