package score

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jean-Baptiste-Camps/boudams/internal/vocab"
)

func TestPerplexity(t *testing.T) {
	assert.InDelta(t, math.E, Perplexity(1), 1e-12)
	assert.InDelta(t, 1.0, Perplexity(0), 1e-12)

	assert.True(t, math.IsInf(Perplexity(1000), 1))
	assert.True(t, math.IsInf(Perplexity(math.NaN()), 1))
	assert.True(t, math.IsInf(Perplexity(math.Inf(1)), 1))
}

func TestScorerSingleSubstitution(t *testing.T) {
	le := vocab.New(false)
	le.Fit("abcd")

	truth := le.Encode("abc")[1:4] // drop sos, keep "abc" ids
	pred := le.Encode("abd")[1:4]

	s := NewScorer(le)
	s.RegisterBatch([][]int{pred}, [][]int{truth}, [][]int{truth})

	assert.InDelta(t, 2.0/3.0, s.Accuracy(), 1e-12)
	assert.InDelta(t, 1.0, s.AvgLevenshtein(), 1e-12)
	assert.InDelta(t, 1.0/3.0, s.AvgLevenshteinPerChar(), 1e-12)
}

func TestScorerExcludesPadPositions(t *testing.T) {
	le := vocab.New(false)
	le.Fit("ab")

	truth := append(le.Encode("ab"), le.PadIndex(), le.PadIndex())
	pred := append(le.Encode("ab"), le.UnkIndex(), le.UnkIndex())

	s := NewScorer(le)
	s.RegisterBatch([][]int{pred}, [][]int{truth}, [][]int{truth})

	// Mismatches only on pad positions of the truth: perfect accuracy.
	assert.Equal(t, 1.0, s.Accuracy())
}

func TestScorerAveragesAcrossExamples(t *testing.T) {
	le := vocab.New(false)
	le.Fit("abcd")

	perfectTrue := le.Encode("ab")
	wrong := le.Encode("cd")

	s := NewScorer(le)
	s.RegisterBatch(
		[][]int{perfectTrue, perfectTrue},
		[][]int{perfectTrue, wrong},
		[][]int{perfectTrue, wrong},
	)

	// Example 1 is exact, example 2 decodes "ab" against truth "cd":
	// distance 2 over 2 chars.
	assert.InDelta(t, 1.0, s.AvgLevenshtein(), 1e-12)
	assert.InDelta(t, 0.5, s.AvgLevenshteinPerChar(), 1e-12)
}

func TestScorerMaskedDecoding(t *testing.T) {
	le := vocab.New(true)
	le.Fit("lad")

	src := le.Encode("lad")
	keep := le.Index(vocab.MaskToken)
	wb := le.Index(vocab.WBToken)

	truth := []int{le.SOSIndex(), keep, wb, keep, le.EOSIndex()} // "la d"
	pred := []int{le.SOSIndex(), keep, keep, keep, le.EOSIndex()} // "lad"

	s := NewScorer(le)
	s.RegisterBatch([][]int{pred}, [][]int{truth}, [][]int{src})

	// "la d" vs "lad": one deletion.
	assert.InDelta(t, 1.0, s.AvgLevenshtein(), 1e-12)
	require.Equal(t, 1, s.Len())
}

func TestScoreSnapshot(t *testing.T) {
	le := vocab.New(false)
	le.Fit("ab")
	s := NewScorer(le)
	ids := le.Encode("ab")
	s.RegisterBatch([][]int{ids}, [][]int{ids}, [][]int{ids})

	sc := NewScore(0.5, s)
	assert.Equal(t, 0.5, sc.Loss)
	assert.InDelta(t, math.Exp(0.5), sc.Perplexity, 1e-12)
	assert.Equal(t, 1.0, sc.Accuracy)
	assert.Same(t, s, sc.Scorer)
}
