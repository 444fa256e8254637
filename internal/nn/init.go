package nn

import (
	"math"
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Fills a new tensor with values drawn from the uniform distribution
// U(-sqrt(6/(fan_in+fan_out)), sqrt(6/(fan_in+fan_out))), which keeps
// the variance of activations roughly constant across layers.
//
// The caller provides the random source so that training runs are
// reproducible from a single seed.
func Xavier(rng *rand.Rand, fanIn, fanOut int, shape tensor.Shape, device tensor.Device) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return Uniform(rng, -bound, bound, shape, device)
}

// Uniform fills a new tensor with values drawn from U(lo, hi).
func Uniform(rng *rand.Rand, lo, hi float64, shape tensor.Shape, device tensor.Device) *tensor.Tensor {
	t := tensor.New(shape, device)
	data := t.Data()
	for i := range data {
		data[i] = lo + rng.Float64()*(hi-lo)
	}
	return t
}

// Normal fills a new tensor with values drawn from N(mean, std).
func Normal(rng *rand.Rand, mean, std float64, shape tensor.Shape, device tensor.Device) *tensor.Tensor {
	t := tensor.New(shape, device)
	data := t.Data()
	for i := range data {
		data[i] = mean + rng.NormFloat64()*std
	}
	return t
}

// Zeros creates a zero-filled tensor. Commonly used for biases.
func Zeros(shape tensor.Shape, device tensor.Device) *tensor.Tensor {
	return tensor.New(shape, device)
}
