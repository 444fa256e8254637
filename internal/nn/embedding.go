package nn

import (
	"fmt"
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/autodiff"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Embedding implements a lookup table mapping token indices to dense
// vectors.
//
// The table has shape [num_embeddings, embedding_dim]. Forward gathers
// one row per index, so the output for a batch of ids has shape
// [len(ids), embedding_dim]. Gradients scatter-add back into the rows
// that were looked up.
type Embedding struct {
	numEmbeddings int
	embeddingDim  int
	weight        *Parameter // [num_embeddings, embedding_dim]
}

// NewEmbedding creates a new Embedding with N(0, 1) initialized rows.
func NewEmbedding(rng *rand.Rand, numEmbeddings, embeddingDim int, device tensor.Device) *Embedding {
	return &Embedding{
		numEmbeddings: numEmbeddings,
		embeddingDim:  embeddingDim,
		weight:        NewParameter("weight", Normal(rng, 0, 1, tensor.Shape{numEmbeddings, embeddingDim}, device)),
	}
}

// Forward gathers the embedding rows for ids.
//
// Output shape: [len(ids), embedding_dim]
func (e *Embedding) Forward(o *autodiff.Ops, ids []int) *tensor.Tensor {
	for _, id := range ids {
		if id < 0 || id >= e.numEmbeddings {
			panic(fmt.Sprintf("Embedding.Forward: index %d out of range [0, %d)", id, e.numEmbeddings))
		}
	}
	return o.Rows(e.weight.Tensor(), ids)
}

// Parameters returns [weight].
func (e *Embedding) Parameters() []*Parameter {
	return []*Parameter{e.weight}
}

// Weight returns the embedding table parameter.
func (e *Embedding) Weight() *Parameter { return e.weight }

// EmbeddingDim returns the embedding vector size.
func (e *Embedding) EmbeddingDim() int { return e.embeddingDim }
