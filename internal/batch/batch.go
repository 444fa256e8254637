// Package batch groups variable-length id sequences into padded,
// size-bounded batches for one training or evaluation epoch.
package batch

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/Jean-Baptiste-Camps/boudams/internal/vocab"
)

// Example is one (source, target) pair of encoded character ids,
// already framed with start and end markers.
type Example struct {
	Src []int
	Trg []int
}

// DatasetError reports an example that cannot be batched.
type DatasetError struct {
	Index  int
	Reason string
}

func (e *DatasetError) Error() string {
	return fmt.Sprintf("dataset: example %d: %s", e.Index, e.Reason)
}

// Dataset is an in-memory list of examples sharing one vocabulary.
type Dataset struct {
	Examples []Example
	Encoder  *vocab.LabelEncoder
}

// NewDataset encodes aligned (source, target) text pairs. With a
// masked encoder the segmented target text is first converted to its
// mask string, so both columns of a corpus file stay human-readable.
func NewDataset(le *vocab.LabelEncoder, pairs [][2]string) *Dataset {
	ds := &Dataset{Encoder: le}
	for _, p := range pairs {
		ds.Examples = append(ds.Examples, Example{
			Src: le.Encode(p[0]),
			Trg: le.Encode(targetFor(le, p[1])),
		})
	}
	return ds
}

func targetFor(le *vocab.LabelEncoder, segmented string) string {
	if le.Masked() {
		return vocab.MaskTarget(segmented)
	}
	return segmented
}

// LoadTSV reads a tab-separated file with one "source\ttarget" pair
// per line. Blank lines are skipped. Lines longer than maxLength
// characters on either side are dropped; a non-positive maxLength
// disables the bound.
func LoadTSV(le *vocab.LabelEncoder, path string, maxLength int) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	ds := &Dataset{Encoder: le}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		src, trg, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("dataset: %s:%d: expected two tab-separated columns", path, lineNo)
		}
		if maxLength > 0 {
			if len([]rune(src)) > maxLength || len([]rune(trg)) > maxLength {
				continue
			}
		}
		ds.Examples = append(ds.Examples, Example{Src: le.Encode(src), Trg: le.Encode(targetFor(le, trg))})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return ds, nil
}

// Len returns the number of examples.
func (ds *Dataset) Len() int { return len(ds.Examples) }

// Batch is a rectangular block of examples padded to per-side max
// lengths. Src and Trg are row-major [len(SrcLen)][width] id grids;
// SrcLen and TrgLen hold the true (unpadded) lengths.
type Batch struct {
	Src    [][]int
	SrcLen []int
	Trg    [][]int
	TrgLen []int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int { return len(b.SrcLen) }

// Iterator produces the padded batches of one epoch.
//
// The epoch order is a seeded shuffle, stable across Batches calls on
// the same iterator, so an epoch can be replayed identically.
type Iterator struct {
	ds        *Dataset
	batchSize int
	padIndex  int
	order     []int
}

// NewIterator validates the dataset and fixes the epoch order.
//
// Every example must have a source and a target longer than the
// start/end frame alone; a zero-length side is a *DatasetError. A
// shuffle seed of 0 keeps corpus order.
func NewIterator(ds *Dataset, batchSize int, seed int64) (*Iterator, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch: batch size must be positive, got %d", batchSize)
	}
	for i, ex := range ds.Examples {
		// Encoded sequences carry sos and eos, so anything at or
		// below 2 has an empty payload.
		if len(ex.Src) <= 2 {
			return nil, &DatasetError{Index: i, Reason: "zero-length source"}
		}
		if len(ex.Trg) <= 2 {
			return nil, &DatasetError{Index: i, Reason: "zero-length target"}
		}
	}

	order := make([]int, ds.Len())
	for i := range order {
		order[i] = i
	}
	if seed != 0 {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return &Iterator{
		ds:        ds,
		batchSize: batchSize,
		padIndex:  ds.Encoder.PadIndex(),
		order:     order,
	}, nil
}

// BatchCount returns the number of batches one epoch yields.
func (it *Iterator) BatchCount() int {
	return (it.ds.Len() + it.batchSize - 1) / it.batchSize
}

// Batches returns a function yielding the epoch's batches in order.
// The second return value is false once the epoch is exhausted. Each
// call to Batches restarts from the first batch.
func (it *Iterator) Batches() func() (*Batch, bool) {
	next := 0
	return func() (*Batch, bool) {
		if next >= len(it.order) {
			return nil, false
		}
		end := next + it.batchSize
		if end > len(it.order) {
			end = len(it.order)
		}
		indices := it.order[next:end]
		next = end
		return it.build(indices), true
	}
}

// build pads the selected examples to the batch's max source and max
// target widths independently.
func (it *Iterator) build(indices []int) *Batch {
	maxSrc, maxTrg := 0, 0
	for _, idx := range indices {
		if n := len(it.ds.Examples[idx].Src); n > maxSrc {
			maxSrc = n
		}
		if n := len(it.ds.Examples[idx].Trg); n > maxTrg {
			maxTrg = n
		}
	}

	b := &Batch{
		Src:    make([][]int, len(indices)),
		SrcLen: make([]int, len(indices)),
		Trg:    make([][]int, len(indices)),
		TrgLen: make([]int, len(indices)),
	}
	for row, idx := range indices {
		ex := it.ds.Examples[idx]
		b.Src[row] = padTo(ex.Src, maxSrc, it.padIndex)
		b.SrcLen[row] = len(ex.Src)
		b.Trg[row] = padTo(ex.Trg, maxTrg, it.padIndex)
		b.TrgLen[row] = len(ex.Trg)
	}
	return b
}

func padTo(ids []int, width, pad int) []int {
	out := make([]int, width)
	copy(out, ids)
	for i := len(ids); i < width; i++ {
		out[i] = pad
	}
	return out
}
