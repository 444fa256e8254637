package training

import (
	"context"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jean-Baptiste-Camps/boudams/internal/batch"
	"github.com/Jean-Baptiste-Camps/boudams/internal/model"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tagger"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
	"github.com/Jean-Baptiste-Camps/boudams/internal/vocab"
)

func TestShouldCheckpointMonotone(t *testing.T) {
	// Only strictly better finite losses trigger a write.
	best := math.Inf(1)
	var written []float64
	for _, loss := range []float64{2.0, 1.5, 1.8, 1.2} {
		if shouldCheckpoint(loss, best) {
			written = append(written, loss)
			best = loss
		}
	}
	assert.Equal(t, []float64{2.0, 1.5, 1.2}, written)
}

func TestShouldCheckpointRejectsNonFinite(t *testing.T) {
	assert.False(t, shouldCheckpoint(math.NaN(), math.Inf(1)))
	assert.False(t, shouldCheckpoint(math.Inf(1), math.Inf(1)))
	assert.False(t, shouldCheckpoint(math.Inf(-1), 1.0))
	assert.False(t, shouldCheckpoint(1.0, 1.0), "equal loss is not an improvement")
}

func TestCSVPath(t *testing.T) {
	assert.Equal(t, "model.csv", csvPath("model.tar"))
	assert.Equal(t, filepath.Join("out", "run.csv"), csvPath(filepath.Join("out", "run.tar")))
}

func quietLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func tinyTagger(t *testing.T) *tagger.Tagger {
	t.Helper()
	le := vocab.New(true)
	le.Fit("la dame", "le roi", "un chat")
	cfg := model.DefaultConfig(model.SystemGRU)
	cfg.HiddenSize = 8
	cfg.EncHidDim = 8
	cfg.DecHidDim = 8
	cfg.EmbEncDim = 6
	cfg.EmbDecDim = 6
	cfg.EncLayers = 1
	cfg.DecLayers = 1
	cfg.EncDropout = 0
	cfg.DecDropout = 0
	cfg.OutMaxLength = 16
	tg, err := tagger.New(le, cfg, tensor.CPU, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	return tg
}

func tinyIterator(t *testing.T, le *vocab.LabelEncoder) *batch.Iterator {
	t.Helper()
	ds := batch.NewDataset(le, [][2]string{
		{"ladame", "la dame"},
		{"leroi", "le roi"},
		{"unchat", "un chat"},
	})
	it, err := batch.NewIterator(ds, 2, 0)
	require.NoError(t, err)
	return it
}

func TestRunProducesArchiveAndMetricsLog(t *testing.T) {
	tg := tinyTagger(t)
	tr := NewTrainer(tg, quietLogger())

	cfg := DefaultConfig()
	cfg.Epochs = 2
	cfg.OutPath = filepath.Join(t.TempDir(), "model.tar")

	trainIt := tinyIterator(t, tg.Vocab())
	devIt := tinyIterator(t, tg.Vocab())
	require.NoError(t, tr.Run(context.Background(), trainIt, devIt, cfg, nil))

	_, err := os.Stat(cfg.OutPath)
	require.NoError(t, err, "archive written")

	raw, err := os.ReadFile(csvPath(cfg.OutPath))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 3, "header plus one row per epoch")
	assert.True(t, strings.HasPrefix(lines[0], "Epoch;Train Loss;"))
	for _, line := range lines[1:] {
		cols := strings.Split(line, ";")
		require.Len(t, cols, 13)
		assert.Equal(t, "UNK", cols[11])
		assert.Equal(t, "UNK", cols[12])
	}

	loaded, err := tagger.Load(cfg.OutPath, tensor.CPU, rand.New(rand.NewSource(0)))
	require.NoError(t, err)
	assert.Equal(t, tg.Settings(), loaded.Settings())
}

func TestRunHonorsCancellation(t *testing.T) {
	tg := tinyTagger(t)
	tr := NewTrainer(tg, quietLogger())

	cfg := DefaultConfig()
	cfg.Epochs = 50
	cfg.OutPath = filepath.Join(t.TempDir(), "model.tar")

	ctx, cancel := context.WithCancel(context.Background())
	epochs := 0
	debug := func(*tagger.Tagger) {
		epochs++
		if epochs == 2 {
			cancel()
		}
	}

	trainIt := tinyIterator(t, tg.Vocab())
	devIt := tinyIterator(t, tg.Vocab())
	require.NoError(t, tr.Run(ctx, trainIt, devIt, cfg, debug))

	assert.Equal(t, 2, epochs, "loop exits at the next epoch boundary")
	_, err := os.Stat(cfg.OutPath)
	assert.NoError(t, err, "archive still written after a cancel")
}

func TestRunEarlyStopStillSavesArchive(t *testing.T) {
	tg := tinyTagger(t)
	tr := NewTrainer(tg, quietLogger())

	cfg := DefaultConfig()
	cfg.Epochs = 50
	// With the rate already at the floor and no patience, the plateau
	// check fires after the first epoch.
	cfg.MinLR = cfg.LR
	cfg.LRPatience = 0
	cfg.OutPath = filepath.Join(t.TempDir(), "model.tar")

	epochs := 0
	debug := func(*tagger.Tagger) { epochs++ }

	trainIt := tinyIterator(t, tg.Vocab())
	devIt := tinyIterator(t, tg.Vocab())
	require.NoError(t, tr.Run(context.Background(), trainIt, devIt, cfg, debug))

	assert.Equal(t, 0, epochs, "loop stops before the debug hook of the stopping epoch")

	loaded, err := tagger.Load(cfg.OutPath, tensor.CPU, rand.New(rand.NewSource(0)))
	require.NoError(t, err)
	assert.Equal(t, tg.Settings(), loaded.Settings())
}

func TestRunRejectsEmptySplits(t *testing.T) {
	tg := tinyTagger(t)
	tr := NewTrainer(tg, quietLogger())

	empty := batch.NewDataset(tg.Vocab(), nil)
	emptyIt, err := batch.NewIterator(empty, 2, 0)
	require.NoError(t, err)
	fullIt := tinyIterator(t, tg.Vocab())

	cfg := DefaultConfig()
	cfg.OutPath = filepath.Join(t.TempDir(), "model.tar")

	assert.ErrorIs(t, tr.Run(context.Background(), emptyIt, fullIt, cfg, nil), ErrEmptyEpoch)
	assert.ErrorIs(t, tr.Run(context.Background(), fullIt, emptyIt, cfg, nil), ErrEmptyEpoch)
}

func TestRunRejectsUnknownMetric(t *testing.T) {
	tg := tinyTagger(t)
	tr := NewTrainer(tg, quietLogger())

	cfg := DefaultConfig()
	cfg.Metric = "f1"
	cfg.OutPath = filepath.Join(t.TempDir(), "model.tar")

	it := tinyIterator(t, tg.Vocab())
	err := tr.Run(context.Background(), it, it, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "f1")
}

func TestTestReportsHeldOutScore(t *testing.T) {
	tg := tinyTagger(t)
	tr := NewTrainer(tg, quietLogger())

	it := tinyIterator(t, tg.Vocab())
	s, err := tr.Test(it)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(s.Loss))
	assert.GreaterOrEqual(t, s.Accuracy, 0.0)
	assert.LessOrEqual(t, s.Accuracy, 1.0)
}
