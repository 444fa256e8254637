// Package score accumulates per-batch predictions across an epoch and
// computes the evaluation metrics: token accuracy, mean edit distance
// and mean edit distance per character.
package score

import (
	"math"

	"github.com/agnivade/levenshtein"
	"gonum.org/v1/gonum/stat"
)

// Decoder converts id sequences back into text. Satisfied by
// *vocab.LabelEncoder.
type Decoder interface {
	DecodeWithSource(ids, src []int) string
	PadIndex() int
}

// Score is an immutable snapshot of one train or eval pass.
type Score struct {
	Loss         float64
	Perplexity   float64
	Accuracy     float64
	Leven        float64
	LevenPerChar float64
	Scorer       *Scorer
}

// NewScore builds a Score from the epoch's mean loss and its Scorer.
func NewScore(loss float64, scorer *Scorer) Score {
	return Score{
		Loss:         loss,
		Perplexity:   Perplexity(loss),
		Accuracy:     scorer.Accuracy(),
		Leven:        scorer.AvgLevenshtein(),
		LevenPerChar: scorer.AvgLevenshteinPerChar(),
		Scorer:       scorer,
	}
}

// Perplexity returns e^loss, or +Inf when the loss does not
// exponentiate cleanly. math.Exp overflows float64 past ~709.
func Perplexity(loss float64) float64 {
	if math.IsNaN(loss) || math.IsInf(loss, 0) || loss > 709 {
		return math.Inf(1)
	}
	return math.Exp(loss)
}

// Scorer accumulates predictions over batches and computes evaluation
// scores. Metrics are computed lazily on first access and cached; a
// new Scorer must be constructed for each epoch.
type Scorer struct {
	decoder Decoder

	preds [][]int
	trues [][]int
	srcs  [][]int

	computed     bool
	accuracy     float64
	leven        float64
	levenPerChar float64
}

// NewScorer creates an empty Scorer decoding through the given
// vocabulary.
func NewScorer(decoder Decoder) *Scorer {
	return &Scorer{decoder: decoder}
}

// RegisterBatch appends one entry per example. Rows are copied, so the
// caller may reuse its buffers.
func (s *Scorer) RegisterBatch(preds, trues, srcs [][]int) {
	for i := range preds {
		s.preds = append(s.preds, append([]int(nil), preds[i]...))
		s.trues = append(s.trues, append([]int(nil), trues[i]...))
		s.srcs = append(s.srcs, append([]int(nil), srcs[i]...))
	}
}

// Len returns the number of registered examples.
func (s *Scorer) Len() int { return len(s.trues) }

// Accuracy returns the mean per-token accuracy, excluding padding
// positions of the true sequence.
func (s *Scorer) Accuracy() float64 {
	s.compute()
	return s.accuracy
}

// AvgLevenshtein returns the mean edit distance between decoded true
// and predicted text.
func (s *Scorer) AvgLevenshtein() float64 {
	s.compute()
	return s.leven
}

// AvgLevenshteinPerChar returns the mean edit distance divided by the
// true text length.
func (s *Scorer) AvgLevenshteinPerChar() float64 {
	s.compute()
	return s.levenPerChar
}

func (s *Scorer) compute() {
	if s.computed {
		return
	}
	s.computed = true

	pad := s.decoder.PadIndex()
	accuracies := make([]float64, 0, len(s.trues))
	levens := make([]float64, 0, len(s.trues))
	perChar := make([]float64, 0, len(s.trues))

	for i := range s.trues {
		truth, pred := s.trues[i], s.preds[i]

		counted, matched := 0, 0
		for j, want := range truth {
			if want == pad {
				continue
			}
			counted++
			if j < len(pred) && pred[j] == want {
				matched++
			}
		}
		if counted > 0 {
			accuracies = append(accuracies, float64(matched)/float64(counted))
		}

		trueText := s.decoder.DecodeWithSource(truth, s.srcs[i])
		predText := s.decoder.DecodeWithSource(pred, s.srcs[i])
		dist := float64(levenshtein.ComputeDistance(trueText, predText))
		levens = append(levens, dist)
		if n := len([]rune(trueText)); n > 0 {
			perChar = append(perChar, dist/float64(n))
		} else {
			perChar = append(perChar, dist)
		}
	}

	s.accuracy = stat.Mean(accuracies, nil)
	s.leven = stat.Mean(levens, nil)
	s.levenPerChar = stat.Mean(perChar, nil)
}
