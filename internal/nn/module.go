// Package nn implements the neural network building blocks used by the
// segmentation models:
//   - Parameter: named trainable tensor
//   - Linear: fully connected layer
//   - Embedding: index-to-vector lookup table
//   - Dropout: inverted dropout
//   - GRUCell, LSTMCell: single-timestep recurrent cells
//
// Modules compute their forward pass through an *autodiff.Ops so that
// every operation lands on the gradient tape when it is recording.
// Design inspired by PyTorch's nn.Module.
package nn

// Module is the base interface for all neural network components.
//
// Forward signatures vary per module (a Linear takes one input, a
// GRUCell takes input and hidden state), so the interface only exposes
// parameter enumeration. The slice order is stable, which the
// serialization layer relies on for deterministic state dicts.
type Module interface {
	// Parameters returns all trainable parameters of this module,
	// including nested module parameters, in a stable order.
	Parameters() []*Parameter
}
