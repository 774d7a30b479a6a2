/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fake

import (
	"context"
	"hash/fnv"
	"sync/atomic"
)

// Embedder produces deterministic unit-free vectors from a text hash, so
// identical texts always embed identically and similarity between unrelated
// texts is stable across runs. It satisfies both the embeddings client seam
// and the chunker's embedder.
type Embedder struct {
	Dimension int
	Err       AtomicError

	calls atomic.Int32
}

func NewEmbedder(dimension int) *Embedder {
	return &Embedder{Dimension: dimension}
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (e *Embedder) Reset() {
	e.Err.Reset()
	e.calls.Store(0)
}

func (e *Embedder) Calls() int {
	return int(e.calls.Load())
}

func (e *Embedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if err := e.Err.Get(); err != nil {
		return nil, err
	}
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.CreateEmbedding(ctx, texts)
}

// vector hashes the text into a seed and unrolls a cheap PRNG from it.
func (e *Embedder) vector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float32, e.Dimension)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int32(seed>>33)) / float32(1<<31)
	}
	return v
}
