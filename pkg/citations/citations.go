// Package citations resolves the bracketed tags in a generated
// response back to the context units they cite and scores each
// citation by semantic similarity between the claiming text and the
// cited evidence. Scores get a fixed boost per matched numeric value
// so that figures copied from the context rank above paraphrases.
package citations

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/embedders"
	"github.com/magpielabs/magpie/pkg/grounding"
	"github.com/magpielabs/magpie/pkg/numeric"
	"github.com/magpielabs/magpie/pkg/response"
)

// Citation is one scored piece of evidence behind a response item. For
// table sources Units holds the full row the cited cell belongs to.
type Citation struct {
	Units []document.Unit `json:"units"`
	File  document.File   `json:"file"`
	Score float64         `json:"score"`
}

// Scorer scores response citations against the grounding sources the
// response was generated from.
type Scorer struct {
	embedder embedders.Embedder
	boost    float64
	logger   *slog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithBoost overrides the per-matched-number score boost.
func WithBoost(boost float64) Option {
	return func(s *Scorer) { s.boost = boost }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) { s.logger = logger }
}

// New returns a Scorer backed by the given embedder.
func New(embedder embedders.Embedder, opts ...Option) *Scorer {
	s := &Scorer{
		embedder: embedder,
		boost:    config.DefaultNumberMatchBoost,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score resolves and scores every tagged item in resp against sources,
// the numbered context entries the response was generated from. It
// rewrites each item's tags in place to citation ids and returns the
// citations keyed by id. Scoring is best effort: an embedding failure
// leaves the affected citations at score zero rather than failing the
// response.
func (s *Scorer) Score(ctx context.Context, resp *response.Response, sources map[int]grounding.Source) map[string]Citation {
	out := make(map[string]Citation)
	if resp == nil {
		return out
	}

	switch resp.Format {
	case response.FormatTable, response.FormatChart:
		for ri := range resp.Rows {
			cells := resp.Rows[ri].Cells
			for ci := range cells {
				itemID := strconv.Itoa(ri) + "_" + strconv.Itoa(ci)
				cells[ci].Tags = s.scoreItem(ctx, itemID, cells[ci].Text, cells[ci].Tags, sources, out)
			}
		}
	default:
		for i := range resp.Items {
			item := &resp.Items[i]
			item.Tags = s.scoreItem(ctx, strconv.Itoa(i), item.Text, item.Tags, sources, out)
		}
	}
	return out
}

// evidence is one resolved tag group pending a similarity score.
type evidence struct {
	units []document.Unit
	file  document.File
	text  string
}

// scoreItem scores one response item's tags and returns the citation
// ids that replace them.
func (s *Scorer) scoreItem(ctx context.Context, itemID, text string, tags []string, sources map[int]grounding.Source, out map[string]Citation) []string {
	if len(tags) == 0 {
		return nil
	}

	groups := partition(expand(tags, maxSourceID(sources)))

	var resolved []evidence
	for _, group := range groups {
		ev, ok := gather(group, sources)
		if !ok {
			continue
		}
		resolved = append(resolved, ev)
	}
	if len(resolved) == 0 {
		return nil
	}

	scores := s.similarities(ctx, itemID, text, resolved)

	cids := make([]string, len(resolved))
	for i, ev := range resolved {
		cid := "c" + itemID + "_" + strconv.Itoa(i)
		cids[i] = cid
		out[cid] = Citation{Units: ev.units, File: ev.file, Score: scores[i]}
	}
	return cids
}

// similarities embeds the item text and every evidence text in one
// batch and returns the boosted cosine score per evidence group. Any
// failure returns all zeros.
func (s *Scorer) similarities(ctx context.Context, itemID, text string, resolved []evidence) []float64 {
	scores := make([]float64, len(resolved))

	texts := make([]string, 0, len(resolved)+1)
	texts = append(texts, text)
	for _, ev := range resolved {
		texts = append(texts, ev.text)
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		s.logger.Warn("citation scoring degraded to zero scores",
			"item", itemID, "citations", len(resolved), "error", err)
		return scores
	}

	for i, ev := range resolved {
		score := cosine(vectors[0], vectors[i+1])
		if matches := numeric.CountMatches(text, ev.text, numeric.DefaultTolerance); matches > 0 {
			score = math.Min(1.0, score+float64(matches)*s.boost)
		}
		scores[i] = score
	}
	return scores
}

// expand flattens raw tags into single citable tags: ranges with
// purely numeric endpoints expand to every integer they span, inverted
// or letter-bearing ranges are dropped, and duplicates are removed
// preserving first appearance. Ranges cannot address entries beyond
// the last rendered source.
func expand(tags []string, maxID int) []string {
	var flat []string
	for _, tag := range tags {
		head, tail, isRange := strings.Cut(tag, "-")
		if !isRange {
			flat = append(flat, tag)
			continue
		}
		from, errFrom := strconv.Atoi(head)
		to, errTo := strconv.Atoi(tail)
		if errFrom != nil || errTo != nil || from > to {
			continue
		}
		if to > maxID {
			to = maxID
		}
		for n := from; n <= to; n++ {
			flat = append(flat, strconv.Itoa(n))
		}
	}

	seen := make(map[string]bool, len(flat))
	deduped := flat[:0]
	for _, tag := range flat {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		deduped = append(deduped, tag)
	}
	return deduped
}

// partition splits tags into citation groups: consecutive integers
// merge into one group so that a cited span of adjacent lines scores
// as a single block of evidence, while letter-bearing tags stay
// singletons. Integer groups come first in ascending order, then the
// remaining tags in their original order.
func partition(tags []string) [][]string {
	var nums []int
	seen := make(map[int]bool)
	var singles []string
	for _, tag := range tags {
		n, err := strconv.Atoi(tag)
		if err != nil {
			singles = append(singles, tag)
			continue
		}
		if !seen[n] {
			seen[n] = true
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	var groups [][]string
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		group := make([]string, 0, j-i+1)
		for k := i; k <= j; k++ {
			group = append(group, strconv.Itoa(nums[k]))
		}
		groups = append(groups, group)
		i = j + 1
	}
	for _, tag := range singles {
		groups = append(groups, []string{tag})
	}
	return groups
}

// gather resolves a tag group against the numbered sources and joins
// the cited unit texts. Tags that resolve to nothing are skipped; a
// group where no tag resolves yields no evidence.
func gather(group []string, sources map[int]grounding.Source) (evidence, bool) {
	var ev evidence
	var texts []string
	for _, tag := range group {
		src, ok := resolve(tag, sources)
		if !ok {
			continue
		}
		if len(ev.units) == 0 {
			ev.file = src.File
		}
		ev.units = append(ev.units, src.Units...)
		for _, unit := range src.Units {
			if t := strings.TrimSpace(unit.Text); t != "" {
				texts = append(texts, t)
			}
		}
	}
	if len(ev.units) == 0 {
		return evidence{}, false
	}
	ev.text = strings.Join(texts, "\n")
	return ev, true
}

// resolve maps a tag to its source entry. A trailing column letter
// addresses one cell but resolves to the row's entry, so the integer
// part alone selects the source.
func resolve(tag string, sources map[int]grounding.Source) (grounding.Source, bool) {
	end := len(tag)
	for end > 0 && tag[end-1] >= 'A' && tag[end-1] <= 'Z' {
		end--
	}
	n, err := strconv.Atoi(tag[:end])
	if err != nil {
		return grounding.Source{}, false
	}
	src, ok := sources[n]
	return src, ok
}

func maxSourceID(sources map[int]grounding.Source) int {
	max := 0
	for id := range sources {
		if id > max {
			max = id
		}
	}
	return max
}

// cosine returns the cosine similarity of two vectors clipped to
// [0, 1]. A zero-norm vector scores zero.
func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		normA += float64(v) * float64(v)
	}
	for _, v := range b {
		normB += float64(v) * float64(v)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Min(1.0, math.Max(0.0, sim))
}
