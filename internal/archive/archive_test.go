package archive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jean-Baptiste-Camps/boudams/internal/nn"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

func param(t *testing.T, name string, shape tensor.Shape, fill float64) *nn.Parameter {
	t.Helper()
	x := tensor.Full(shape, fill, tensor.CPU)
	return nn.NewParameter(name, x)
}

func TestTarRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.AddGzip("settings.json.gz", []byte(`{"system":"gru"}`)))
	require.NoError(t, w.AddRaw("state_dict.bin", []byte{1, 2, 3}))
	require.NoError(t, w.Close())

	entries, err := ReadAll(&buf)
	require.NoError(t, err)

	settings, err := ReadGzip(entries, "settings.json.gz")
	require.NoError(t, err)
	assert.Equal(t, `{"system":"gru"}`, string(settings))

	raw, err := ReadRaw(entries, "state_dict.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)
}

func TestTarMissingEntry(t *testing.T) {
	entries := map[string][]byte{}
	_, err := ReadRaw(entries, "settings.json.gz")
	assert.ErrorIs(t, err, ErrMissingEntry)

	_, err = ReadGzip(entries, "settings.json.gz")
	assert.ErrorIs(t, err, ErrMissingEntry)
}

func TestStateDictRoundTrip(t *testing.T) {
	params := []*nn.Parameter{
		param(t, "encoder.weight", tensor.Shape{3, 4}, 0.5),
		param(t, "decoder.bias", tensor.Shape{1, 4}, -1.5),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteStateDict(&buf, params))

	targets := []*nn.Parameter{
		param(t, "encoder.weight", tensor.Shape{3, 4}, 0),
		param(t, "decoder.bias", tensor.Shape{1, 4}, 0),
	}
	require.NoError(t, LoadStateDict(targets, &buf, tensor.CPU))

	for i := range params {
		assert.Equal(t, params[i].Tensor().Data(), targets[i].Tensor().Data())
	}
}

func TestLoadStateDictKeepsPointers(t *testing.T) {
	src := []*nn.Parameter{param(t, "w", tensor.Shape{2, 2}, 7)}
	var buf bytes.Buffer
	require.NoError(t, WriteStateDict(&buf, src))

	target := param(t, "w", tensor.Shape{2, 2}, 0)
	before := target.Tensor()
	require.NoError(t, LoadStateDict([]*nn.Parameter{target}, &buf, tensor.CPU))
	assert.Same(t, before, target.Tensor())
	assert.Equal(t, 7.0, target.Tensor().Data()[0])
}

func TestLoadStateDictShapeMismatch(t *testing.T) {
	src := []*nn.Parameter{param(t, "w", tensor.Shape{2, 3}, 1)}
	var buf bytes.Buffer
	require.NoError(t, WriteStateDict(&buf, src))

	target := []*nn.Parameter{param(t, "w", tensor.Shape{3, 2}, 0)}
	err := LoadStateDict(target, &buf, tensor.CPU)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLoadStateDictNameMismatches(t *testing.T) {
	src := []*nn.Parameter{param(t, "w", tensor.Shape{1, 1}, 1)}
	var buf bytes.Buffer
	require.NoError(t, WriteStateDict(&buf, src))
	blob := buf.Bytes()

	// Entry the receiver does not know.
	err := LoadStateDict(nil, bytes.NewReader(blob), tensor.CPU)
	assert.ErrorIs(t, err, ErrUnknownTensor)

	// Receiver parameter the blob does not cover.
	targets := []*nn.Parameter{
		param(t, "w", tensor.Shape{1, 1}, 0),
		param(t, "extra", tensor.Shape{1, 1}, 0),
	}
	var buf2 bytes.Buffer
	require.NoError(t, WriteStateDict(&buf2, targets[:1]))
	err = LoadStateDict(targets, &buf2, tensor.CPU)
	assert.ErrorIs(t, err, ErrMissingEntry)
}

func TestReadStateDictRejectsCorruptHeaders(t *testing.T) {
	_, err := ReadStateDict(bytes.NewReader([]byte("XXXX")), tensor.CPU)
	assert.Error(t, err)

	_, err = ReadStateDict(bytes.NewReader([]byte("NOPE\x01\x00\x00\x00\x00\x00")), tensor.CPU)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	// Right magic, wrong version.
	_, err = ReadStateDict(bytes.NewReader([]byte("BDST\x09\x00\x00\x00\x00\x00")), tensor.CPU)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}
