package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	le := New(false)
	le.Fit("ladamehamon", "sire vos")

	ids := le.Encode("dame")
	require.Len(t, ids, 6)
	assert.Equal(t, le.SOSIndex(), ids[0])
	assert.Equal(t, le.EOSIndex(), ids[len(ids)-1])
	assert.Equal(t, "dame", le.Decode(ids))
}

func TestFitIsDeterministic(t *testing.T) {
	a := New(false)
	a.Fit("bca")
	b := New(false)
	b.Fit("cab")

	assert.Equal(t, a.Encode("abc"), b.Encode("abc"))
	assert.Equal(t, a.Len(), b.Len())
}

func TestUnknownCharacter(t *testing.T) {
	le := New(false)
	le.Fit("ab")

	ids := le.Encode("aZb")
	assert.Equal(t, le.UnkIndex(), ids[2])
	assert.Equal(t, "a"+UnkToken+"b", le.Decode(ids))
}

func TestDecodeSkipsPad(t *testing.T) {
	le := New(false)
	le.Fit("ab")

	ids := le.Encode("ab")
	padded := append(ids, le.PadIndex(), le.PadIndex())
	assert.Equal(t, "ab", le.Decode(padded))
}

func TestMaskTarget(t *testing.T) {
	cases := []struct {
		segmented string
		want      string
	}{
		{"la dame", "x|xxx|"},
		{"sire", "xxx|"},
		{"a b c", "|||"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MaskTarget(c.segmented), "MaskTarget(%q)", c.segmented)
	}
}

func TestMaskTargetRoundTripsThroughDecode(t *testing.T) {
	le := New(true)
	le.Fit("ladame")

	src := le.Encode("ladame")
	trg := le.Encode(MaskTarget("la dame"))
	assert.Equal(t, "la dame", le.DecodeWithSource(trg, src))
}

func TestMaskedDecodeWithSource(t *testing.T) {
	le := New(true)
	le.Fit("ladame")

	src := le.Encode("ladame")
	// "la dame": boundary after "a" at position 1, none after the rest.
	trg := []int{
		le.SOSIndex(),
		le.Index(MaskToken), le.Index(WBToken),
		le.Index(MaskToken), le.Index(MaskToken), le.Index(MaskToken), le.Index(MaskToken),
		le.EOSIndex(),
	}
	assert.Equal(t, "la dame", le.DecodeWithSource(trg, src))
}

func TestMaskedDecodeTrailingBoundary(t *testing.T) {
	le := New(true)
	le.Fit("ab")

	src := le.Encode("ab")
	trg := []int{le.SOSIndex(), le.Index(WBToken), le.Index(WBToken), le.EOSIndex()}
	// No trailing space even when the last class is a boundary.
	assert.Equal(t, "a b", le.DecodeWithSource(trg, src))
}

func TestUnmaskedDecodeWithSourceIgnoresSource(t *testing.T) {
	le := New(false)
	le.Fit("ab cd")

	trg := le.Encode("ab cd")
	assert.Equal(t, "ab cd", le.DecodeWithSource(trg, nil))
}

func TestDumpLoad(t *testing.T) {
	le := New(true)
	le.Fit("chevalier")

	data, err := le.Dump()
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, le.Len(), loaded.Len())
	assert.Equal(t, le.Masked(), loaded.Masked())
	assert.Equal(t, le.Encode("cheval"), loaded.Encode("cheval"))
}

func TestLoadRejectsBadSpecials(t *testing.T) {
	_, err := Load([]byte(`{"masked":false,"itos":["<pad>","<start>"]}`))
	assert.Error(t, err)

	_, err = Load([]byte(`{"masked":false,"itos":["a","b","c","d"]}`))
	assert.Error(t, err)

	_, err = Load([]byte(`not json`))
	assert.Error(t, err)
}
