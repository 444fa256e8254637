// Package tagger wraps a segmentation model and its vocabulary behind
// the inference operations (tag, annotate) and owns the save/load of
// the self-describing model archive.
package tagger

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"os"

	"github.com/pkg/errors"

	"github.com/Jean-Baptiste-Camps/boudams/internal/archive"
	"github.com/Jean-Baptiste-Camps/boudams/internal/batch"
	"github.com/Jean-Baptiste-Camps/boudams/internal/model"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
	"github.com/Jean-Baptiste-Camps/boudams/internal/vocab"
)

// Archive member names.
const (
	settingsEntry   = "settings.json.gz"
	vocabularyEntry = "vocabulary.json.gz"
	stateDictEntry  = "state_dict.bin"

	// DefaultExt is the archive file extension.
	DefaultExt = "tar"
)

// Settings is the architecture description stored in an archive. An
// archive is self-describing: these settings plus the vocabulary are
// all that is needed to rebuild the network.
type Settings struct {
	System               string  `json:"system"`
	HiddenSize           int     `json:"hidden_size"`
	EncHidDim            int     `json:"enc_hid_dim"`
	DecHidDim            int     `json:"dec_hid_dim"`
	EmbEncDim            int     `json:"emb_enc_dim"`
	EmbDecDim            int     `json:"emb_dec_dim"`
	EncLayers            int     `json:"enc_n_layers"`
	DecLayers            int     `json:"dec_n_layers"`
	EncDropout           float64 `json:"enc_dropout"`
	DecDropout           float64 `json:"dec_dropout"`
	EncKernelSize        int     `json:"enc_kernel_size"`
	DecKernelSize        int     `json:"dec_kernel_size"`
	OutMaxSentenceLength int     `json:"out_max_sentence_length"`
}

func settingsFrom(cfg model.Config) Settings {
	return Settings{
		System:               cfg.System,
		HiddenSize:           cfg.HiddenSize,
		EncHidDim:            cfg.EncHidDim,
		DecHidDim:            cfg.DecHidDim,
		EmbEncDim:            cfg.EmbEncDim,
		EmbDecDim:            cfg.EmbDecDim,
		EncLayers:            cfg.EncLayers,
		DecLayers:            cfg.DecLayers,
		EncDropout:           cfg.EncDropout,
		DecDropout:           cfg.DecDropout,
		EncKernelSize:        cfg.EncKernelSize,
		DecKernelSize:        cfg.DecKernelSize,
		OutMaxSentenceLength: cfg.OutMaxLength,
	}
}

func (s Settings) config() model.Config {
	cfg := model.DefaultConfig(s.System)
	cfg.HiddenSize = s.HiddenSize
	cfg.EncHidDim = s.EncHidDim
	cfg.DecHidDim = s.DecHidDim
	cfg.EmbEncDim = s.EmbEncDim
	cfg.EmbDecDim = s.EmbDecDim
	cfg.EncLayers = s.EncLayers
	cfg.DecLayers = s.DecLayers
	cfg.EncDropout = s.EncDropout
	cfg.DecDropout = s.DecDropout
	cfg.EncKernelSize = s.EncKernelSize
	cfg.DecKernelSize = s.DecKernelSize
	cfg.OutMaxLength = s.OutMaxSentenceLength
	return cfg
}

// Tagger pairs a network with the vocabulary it was trained on.
type Tagger struct {
	vocab  *vocab.LabelEncoder
	model  *model.Model
	device tensor.Device
}

// New builds a Tagger for the architecture named in cfg.System. An
// unrecognized selector is an error.
func New(le *vocab.LabelEncoder, cfg model.Config, device tensor.Device, rng *rand.Rand) (*Tagger, error) {
	tok := model.Tokens{
		Pad:       le.PadIndex(),
		SOS:       le.SOSIndex(),
		EOS:       le.EOSIndex(),
		VocabSize: le.Len(),
	}
	m, err := model.New(cfg, tok, device, rng)
	if err != nil {
		return nil, err
	}
	return &Tagger{vocab: le, model: m, device: device}, nil
}

// Vocab returns the label encoder.
func (t *Tagger) Vocab() *vocab.LabelEncoder { return t.vocab }

// Model returns the wrapped network.
func (t *Tagger) Model() *model.Model { return t.model }

// Settings returns the archived architecture description.
func (t *Tagger) Settings() Settings { return settingsFrom(t.model.Config()) }

// Tag decodes one batch of predicted id rows at a time, teacher
// forcing off. The returned function yields until the iterator's
// epoch is exhausted.
func (t *Tagger) Tag(it *batch.Iterator) func() ([][]int, bool) {
	t.model.Eval()
	next := it.Batches()
	return func() ([][]int, bool) {
		b, ok := next()
		if !ok {
			return nil, false
		}
		return t.model.Predict(b.Src, b.SrcLen), true
	}
}

// Annotate segments each input text and yields one output string per
// input, in order. Each call returns a fresh sequence over the full
// input slice; no state is carried across calls.
func (t *Tagger) Annotate(texts []string) func() (string, bool) {
	t.model.Eval()
	i := 0
	return func() (string, bool) {
		if i >= len(texts) {
			return "", false
		}
		src := t.vocab.Encode(texts[i])
		i++
		pred := t.model.Predict([][]int{src}, []int{len(src)})
		return t.vocab.DecodeWithSource(pred[0], src), true
	}
}

// Save writes the model archive and returns the normalized path it
// was written to.
func (t *Tagger) Save(path string) (string, error) {
	out := EnsureExt(path, DefaultExt, "")

	settings, err := json.Marshal(t.Settings())
	if err != nil {
		return "", errors.Wrap(err, "serialize settings")
	}
	vocabJSON, err := t.vocab.Dump()
	if err != nil {
		return "", errors.Wrap(err, "serialize vocabulary")
	}
	var weights bytes.Buffer
	if err := archive.WriteStateDict(&weights, t.model.Parameters()); err != nil {
		return "", errors.Wrap(err, "serialize weights")
	}

	f, err := os.Create(out)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", out)
	}
	defer f.Close()

	w := archive.NewWriter(f)
	if err := w.AddGzip(settingsEntry, settings); err != nil {
		return "", err
	}
	if err := w.AddGzip(vocabularyEntry, vocabJSON); err != nil {
		return "", err
	}
	if err := w.AddRaw(stateDictEntry, weights.Bytes()); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrapf(err, "finalize %s", out)
	}
	return out, nil
}

// Load restores a Tagger from a model archive in evaluation mode.
//
// The load order matters: settings first, then vocabulary, then
// network construction, then weights, because parameter shapes depend
// on the settings and the vocabulary size. Any missing member or
// shape mismatch is a fatal error.
func Load(path string, device tensor.Device, rng *rand.Rand) (*Tagger, error) {
	full := EnsureExt(path, DefaultExt, "")
	f, err := os.Open(full)
	if err != nil {
		return nil, errors.Wrapf(err, "open archive %s", full)
	}
	defer f.Close()

	entries, err := archive.ReadAll(f)
	if err != nil {
		return nil, err
	}

	settingsJSON, err := archive.ReadGzip(entries, settingsEntry)
	if err != nil {
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(settingsJSON, &settings); err != nil {
		return nil, errors.Wrap(err, "parse settings")
	}

	vocabJSON, err := archive.ReadGzip(entries, vocabularyEntry)
	if err != nil {
		return nil, err
	}
	le, err := vocab.Load(vocabJSON)
	if err != nil {
		return nil, errors.Wrap(err, "parse vocabulary")
	}

	t, err := New(le, settings.config(), device, rng)
	if err != nil {
		return nil, err
	}

	weights, err := archive.ReadRaw(entries, stateDictEntry)
	if err != nil {
		return nil, err
	}
	if err := archive.LoadStateDict(t.model.Parameters(), bytes.NewReader(weights), device); err != nil {
		return nil, errors.Wrapf(err, "load weights from %s", full)
	}

	t.model.Eval()
	return t, nil
}
