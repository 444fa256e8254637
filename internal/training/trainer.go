// Package training implements the epoch loop: teacher-forced training
// with gradient clipping, dev evaluation, best-loss checkpointing,
// plateau learning-rate scheduling, early stopping and the final
// archive save.
package training

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Jean-Baptiste-Camps/boudams/internal/archive"
	"github.com/Jean-Baptiste-Camps/boudams/internal/batch"
	"github.com/Jean-Baptiste-Camps/boudams/internal/optim"
	"github.com/Jean-Baptiste-Camps/boudams/internal/score"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tagger"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// ErrEmptyEpoch is returned when an epoch would run over zero batches.
var ErrEmptyEpoch = errors.New("training: epoch has no batches")

// Config holds the training hyperparameters.
type Config struct {
	LR          float64 `yaml:"lr"`
	MinLR       float64 `yaml:"min_lr"`
	LRFactor    float64 `yaml:"lr_factor"`
	LRPatience  int     `yaml:"lr_patience"`
	GracePeriod int     `yaml:"lr_grace_period"`
	Epochs      int     `yaml:"epochs"`
	BatchSize   int     `yaml:"batch_size"`
	Clip        float64 `yaml:"clip"`

	// Seed is recorded here so one config file pins a whole run, but
	// it is consumed at construction time, not by Run: the caller
	// seeds the batch iterators and the Tagger's random source with
	// it before handing them over.
	Seed int64 `yaml:"seed"`

	Metric  string `yaml:"metric"`
	OutPath string `yaml:"output"`
}

// DefaultConfig returns the standard training hyperparameters.
func DefaultConfig() Config {
	return Config{
		LR:          1e-3,
		MinLR:       1e-6,
		LRFactor:    0.75,
		LRPatience:  10,
		GracePeriod: 10,
		Epochs:      10,
		BatchSize:   256,
		Clip:        1.0,
		Seed:        1234,
		Metric:      string(MetricLoss),
		OutPath:     "model.tar",
	}
}

// Trainer drives the epoch loop for one Tagger.
type Trainer struct {
	tagger *tagger.Tagger
	logger *log.Logger
}

// NewTrainer creates a Trainer logging through logger (the standard
// logger when nil).
func NewTrainer(t *tagger.Tagger, logger *log.Logger) *Trainer {
	if logger == nil {
		logger = log.Default()
	}
	return &Trainer{tagger: t, logger: logger}
}

// Run executes the full training loop and finishes with the archive
// save, whether the loop completed, stopped early on a plateau, or
// was cancelled through ctx.
//
// Cancellation is honored at epoch boundaries only; a mid-epoch
// cancel takes effect once the current epoch finishes. The per-epoch
// debug callback, when non-nil, receives the Tagger after each epoch.
//
// Run does not seed anything itself: shuffle order comes from the
// iterators and weight initialization draws from the random source
// the Tagger was constructed with (see Config.Seed).
func (tr *Trainer) Run(ctx context.Context, trainIt, devIt *batch.Iterator, cfg Config, debug func(*tagger.Tagger)) error {
	if trainIt.BatchCount() == 0 || devIt.BatchCount() == 0 {
		return ErrEmptyEpoch
	}
	metric, err := ParseMetric(cfg.Metric)
	if err != nil {
		return err
	}

	m := tr.tagger.Model()
	m.InitWeights()

	opt := optim.NewAdam(m.Parameters(), optim.AdamConfig{LR: cfg.LR})
	// The scheduler starts with the grace period as its patience and
	// is tightened to the configured patience once the grace epochs
	// have elapsed.
	sched := NewLRScheduler(opt, metric, cfg.LRFactor, cfg.GracePeriod, cfg.MinLR)

	tempPath := filepath.Join(os.TempDir(), uuid.New().String())
	defer os.Remove(tempPath)
	bestLoss := math.Inf(1)

	csv := csvHeader()
	var devScore score.Score
	evaluated := false

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if ctx.Err() != nil {
			tr.logger.Println("Interrupting training...")
			break
		}

		trainScore, err := tr.trainEpoch(trainIt, opt, cfg.Clip)
		if err != nil {
			return err
		}
		devScore, err = tr.evaluate(devIt)
		if err != nil {
			return err
		}
		evaluated = true

		csv = append(csv, csvRow(epoch, trainScore, devScore))
		bestLoss = tr.checkpoint(tempPath, bestLoss, devScore)
		sched.Step(devScore)

		tr.logger.Printf("[Epoch %d/%d] Train Loss: %.3f | Perplexity: %7.3f | Acc.: %.3f | Lev.: %.3f | Lev./char: %.3f",
			epoch, cfg.Epochs, trainScore.Loss, trainScore.Perplexity, trainScore.Accuracy, trainScore.Leven, trainScore.LevenPerChar)
		tr.logger.Printf("[Epoch %d/%d]  Val. Loss: %.3f | Perplexity: %7.3f | Acc.: %.3f | Lev.: %.3f | Lev./char: %.3f",
			epoch, cfg.Epochs, devScore.Loss, devScore.Perplexity, devScore.Accuracy, devScore.Leven, devScore.LevenPerChar)
		tr.logger.Println(sched)

		if sched.Steps() >= cfg.LRPatience && sched.LR() <= cfg.MinLR {
			tr.logger.Println("Reached plateau for too long, stopping.")
			break
		}
		if epoch == cfg.GracePeriod {
			sched.SetPatience(cfg.LRPatience)
		}
		if debug != nil {
			debug(tr.tagger)
		}
	}

	if evaluated {
		tr.checkpoint(tempPath, bestLoss, devScore)
	}

	if f, err := os.Open(tempPath); err == nil {
		loadErr := archive.LoadStateDict(m.Parameters(), f, m.Device())
		f.Close()
		if loadErr != nil {
			return fmt.Errorf("training: reload best checkpoint: %w", loadErr)
		}
	} else {
		tr.logger.Println("No model was saved during training")
	}

	saved, err := tr.tagger.Save(cfg.OutPath)
	if err != nil {
		return err
	}
	if err := writeCSV(csvPath(saved), csv); err != nil {
		return err
	}
	tr.logger.Printf("Saved model to %s", saved)
	return nil
}

// Test runs one evaluation pass over a held-out split.
func (tr *Trainer) Test(testIt *batch.Iterator) (score.Score, error) {
	if testIt.BatchCount() == 0 {
		return score.Score{}, ErrEmptyEpoch
	}
	s, err := tr.evaluate(testIt)
	if err != nil {
		return score.Score{}, err
	}
	tr.logger.Printf("| Test Loss: %.3f | Test PPL: %7.3f | Test Accuracy %.3f | Test Levenshtein %.3f | Test Levenshtein/Char %.3f",
		s.Loss, s.Perplexity, s.Accuracy, s.Leven, s.LevenPerChar)
	return s, nil
}

// checkpoint persists the weights when the dev loss is finite and
// strictly better than the best seen, and returns the updated best.
// Loss is the only checkpoint trigger regardless of the monitored
// scheduler metric.
func (tr *Trainer) checkpoint(path string, best float64, dev score.Score) float64 {
	if !shouldCheckpoint(dev.Loss, best) {
		return best
	}
	f, err := os.Create(path)
	if err != nil {
		tr.logger.Printf("Could not write checkpoint: %v", err)
		return best
	}
	defer f.Close()
	if err := archive.WriteStateDict(f, tr.tagger.Model().Parameters()); err != nil {
		tr.logger.Printf("Could not write checkpoint: %v", err)
		return best
	}
	return dev.Loss
}

func shouldCheckpoint(loss, best float64) bool {
	return !math.IsNaN(loss) && !math.IsInf(loss, 0) && loss < best
}

func (tr *Trainer) trainEpoch(it *batch.Iterator, opt optim.Optimizer, clip float64) (score.Score, error) {
	m := tr.tagger.Model()
	m.Train()

	count := it.BatchCount()
	if count == 0 {
		return score.Score{}, ErrEmptyEpoch
	}
	scorer := score.NewScorer(tr.tagger.Vocab())
	total := 0.0

	next := it.Batches()
	for b, ok := next(); ok; b, ok = next() {
		lossVal, _, err := m.Gradient(b.Src, b.SrcLen, b.Trg, scorer, false)
		if err != nil {
			return score.Score{}, err
		}
		grads := m.Tape().Backward(tensor.Scalar(1, m.Device()))
		optim.ClipGradNorm(m.Parameters(), grads, clip)
		opt.Step(grads)
		total += lossVal
	}
	return score.NewScore(total/float64(count), scorer), nil
}

func (tr *Trainer) evaluate(it *batch.Iterator) (score.Score, error) {
	m := tr.tagger.Model()
	m.Eval()

	count := it.BatchCount()
	if count == 0 {
		return score.Score{}, ErrEmptyEpoch
	}
	scorer := score.NewScorer(tr.tagger.Vocab())
	total := 0.0

	next := it.Batches()
	for b, ok := next(); ok; b, ok = next() {
		lossVal, _, err := m.Gradient(b.Src, b.SrcLen, b.Trg, scorer, true)
		if err != nil {
			return score.Score{}, err
		}
		total += lossVal
	}
	return score.NewScore(total/float64(count), scorer), nil
}

// Metrics log: a semicolon-delimited table, one row per epoch, with
// two placeholder test columns left unfilled during training.

func csvHeader() [][]string {
	return [][]string{{
		"Epoch",
		"Train Loss", "Train Perplexity", "Train Accuracy", "Train Avg Leven", "Train Avg Leven Per Char",
		"Dev Loss", "Dev Perplexity", "Dev Accuracy", "Dev Avg Leven", "Dev Avg Leven Per Char",
		"Test Loss", "Test Perplexity",
	}}
}

func csvRow(epoch int, train, dev score.Score) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		strconv.Itoa(epoch),
		f(train.Loss), f(train.Perplexity), f(train.Accuracy), f(train.Leven), f(train.LevenPerChar),
		f(dev.Loss), f(dev.Perplexity), f(dev.Accuracy), f(dev.Leven), f(dev.LevenPerChar),
		"UNK", "UNK",
	}
}

func csvPath(archivePath string) string {
	return strings.TrimSuffix(archivePath, filepath.Ext(archivePath)) + ".csv"
}

func writeCSV(path string, rows [][]string) error {
	var sb strings.Builder
	for _, row := range rows {
		sb.WriteString(strings.Join(row, ";"))
		sb.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("training: write metrics log: %w", err)
	}
	return nil
}
