// Package tokenizer provides the shared BPE token counter every budget
// in the pipeline is measured against.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the encoding used for all budget arithmetic.
// Chunk sizes, context budgets and table truncation limits are defined
// in terms of this encoding, so changing it re-scales every constant.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// Slicer is a Counter that can also split text on token boundaries.
type Slicer interface {
	Counter
	Slice(text string, maxTokens int) []string
}

// Codec wraps a tiktoken encoding. Safe for concurrent use.
type Codec struct {
	encoding *tiktoken.Tiktoken
	name     string
}

var (
	// Encodings are expensive to initialize, cache them per name.
	codecCache = make(map[string]*Codec)
	cacheMu    sync.RWMutex
)

// New returns the codec for DefaultEncoding.
func New() (*Codec, error) {
	return ForEncoding(DefaultEncoding)
}

// ForEncoding returns a cached codec for the named tiktoken encoding.
func ForEncoding(name string) (*Codec, error) {
	cacheMu.RLock()
	cached, ok := codecCache[name]
	cacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	encoding, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding %q: %w", name, err)
	}

	codec := &Codec{encoding: encoding, name: name}

	cacheMu.Lock()
	codecCache[name] = codec
	cacheMu.Unlock()

	return codec, nil
}

// Name returns the encoding name this codec was built for.
func (c *Codec) Name() string {
	return c.name
}

// Count returns the exact token count for text.
func (c *Codec) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Slice splits text into pieces of at most maxTokens tokens each,
// cutting on token boundaries. Text that already fits is returned
// as a single piece. maxTokens <= 0 returns the text unsplit.
func (c *Codec) Slice(text string, maxTokens int) []string {
	if maxTokens <= 0 {
		return []string{text}
	}

	ids := c.encoding.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return []string{text}
	}

	pieces := make([]string, 0, (len(ids)+maxTokens-1)/maxTokens)
	for start := 0; start < len(ids); start += maxTokens {
		end := start + maxTokens
		if end > len(ids) {
			end = len(ids)
		}
		pieces = append(pieces, c.encoding.Decode(ids[start:end]))
	}
	return pieces
}
