package archive

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/Jean-Baptiste-Camps/boudams/internal/nn"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Weights blob layout (little-endian):
//
//	[4 bytes: magic "BDST"]
//	[2 bytes: format version]
//	[4 bytes: tensor count]
//	per tensor:
//	  [2 bytes: name length] [name bytes]
//	  [1 byte: rank] [8 bytes per dim]
//	  [8 bytes per element, float64]
var weightsMagic = [4]byte{'B', 'D', 'S', 'T'}

const weightsVersion uint16 = 1

// WriteStateDict serializes the parameters in order.
func WriteStateDict(w io.Writer, params []*nn.Parameter) error {
	if _, err := w.Write(weightsMagic[:]); err != nil {
		return fmt.Errorf("state dict: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, weightsVersion); err != nil {
		return fmt.Errorf("state dict: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(params))); err != nil {
		return fmt.Errorf("state dict: %w", err)
	}

	for _, p := range params {
		name := []byte(p.Name())
		if len(name) > math.MaxUint16 {
			return fmt.Errorf("state dict: parameter name too long: %d bytes", len(name))
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(name))); err != nil {
			return fmt.Errorf("state dict: %s: %w", p.Name(), err)
		}
		if _, err := w.Write(name); err != nil {
			return fmt.Errorf("state dict: %s: %w", p.Name(), err)
		}

		shape := p.Tensor().Shape()
		if err := binary.Write(w, binary.LittleEndian, uint8(len(shape))); err != nil {
			return fmt.Errorf("state dict: %s: %w", p.Name(), err)
		}
		for _, dim := range shape {
			if err := binary.Write(w, binary.LittleEndian, int64(dim)); err != nil {
				return fmt.Errorf("state dict: %s: %w", p.Name(), err)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, p.Tensor().Data()); err != nil {
			return fmt.Errorf("state dict: %s: %w", p.Name(), err)
		}
	}
	return nil
}

// ReadStateDict parses a weights blob into name -> tensor.
func ReadStateDict(r io.Reader, device tensor.Device) (map[string]*tensor.Tensor, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("state dict: %w", err)
	}
	if magic != weightsMagic {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMagic, magic[:])
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("state dict: %w", err)
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("state dict: %w", err)
	}

	dict := make(map[string]*tensor.Tensor, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("state dict: tensor %d: %w", i, err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("state dict: tensor %d: %w", i, err)
		}

		var rank uint8
		if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
			return nil, fmt.Errorf("state dict: %s: %w", name, err)
		}
		shape := make(tensor.Shape, rank)
		for d := range shape {
			var dim int64
			if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
				return nil, fmt.Errorf("state dict: %s: %w", name, err)
			}
			if dim <= 0 {
				return nil, fmt.Errorf("state dict: %s: invalid dimension %d", name, dim)
			}
			shape[d] = int(dim)
		}

		data := make([]float64, shape.NumElements())
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return nil, fmt.Errorf("state dict: %s: %w", name, err)
		}
		t, err := tensor.FromSlice(data, shape, device)
		if err != nil {
			return nil, fmt.Errorf("state dict: %s: %w", name, err)
		}
		dict[string(name)] = t
	}
	return dict, nil
}

// LoadStateDict reads a weights blob and copies each tensor into the
// matching parameter, in place, so existing tensor pointers stay
// valid.
//
// Every parameter must have an entry of the exact same shape, and
// every entry must match a parameter; anything else is a fatal load
// error.
func LoadStateDict(params []*nn.Parameter, r io.Reader, device tensor.Device) error {
	dict, err := ReadStateDict(r, device)
	if err != nil {
		return err
	}

	byName := make(map[string]*nn.Parameter, len(params))
	for _, p := range params {
		byName[p.Name()] = p
	}
	for name := range dict {
		if _, ok := byName[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTensor, name)
		}
	}
	for _, p := range params {
		t, ok := dict[p.Name()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingEntry, p.Name())
		}
		if !t.Shape().Equal(p.Tensor().Shape()) {
			return fmt.Errorf("%w: %s: archived %v, parameter %v",
				ErrShapeMismatch, p.Name(), t.Shape(), p.Tensor().Shape())
		}
		if err := p.Tensor().CopyFrom(t); err != nil {
			return fmt.Errorf("state dict: %s: %w", p.Name(), err)
		}
	}
	return nil
}
