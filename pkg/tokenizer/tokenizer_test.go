package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := New()
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	return codec
}

func TestForEncodingCachesCodecs(t *testing.T) {
	first := newTestCodec(t)
	second, err := ForEncoding(DefaultEncoding)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, DefaultEncoding, first.Name())
}

func TestCount(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name string
		text string
		min  int
		max  int
	}{
		{name: "empty", text: "", min: 0, max: 0},
		{name: "short sentence", text: "Hello, world!", min: 3, max: 5},
		{
			name: "longer prose",
			text: "Revenue grew 12% year over year, driven by subscription renewals.",
			min:  10,
			max:  20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := codec.Count(tt.text)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestSliceShortTextUnsplit(t *testing.T) {
	codec := newTestCodec(t)

	pieces := codec.Slice("a short line", 100)
	require.Len(t, pieces, 1)
	assert.Equal(t, "a short line", pieces[0])
}

func TestSliceSplitsOnTokenBoundaries(t *testing.T) {
	codec := newTestCodec(t)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
	const budget = 64

	pieces := codec.Slice(text, budget)
	require.Greater(t, len(pieces), 1)

	var rebuilt strings.Builder
	for _, piece := range pieces {
		assert.LessOrEqual(t, codec.Count(piece), budget)
		rebuilt.WriteString(piece)
	}
	// Decoding the exact token slices must reproduce the input.
	assert.Equal(t, text, rebuilt.String())
}

func TestSliceNonPositiveBudget(t *testing.T) {
	codec := newTestCodec(t)

	pieces := codec.Slice("anything", 0)
	require.Len(t, pieces, 1)
	assert.Equal(t, "anything", pieces[0])
}
