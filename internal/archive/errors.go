package archive

import "errors"

// Sentinel errors for archive validation.
var (
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrMissingEntry       = errors.New("missing archive entry")
	ErrShapeMismatch      = errors.New("tensor shape mismatch")
	ErrUnknownTensor      = errors.New("unknown tensor name")
)
