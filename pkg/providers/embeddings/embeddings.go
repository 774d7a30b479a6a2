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

package embeddings

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sony/gobreaker/v2"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

// batchSize is the maximum number of texts sent in one embedding call.
const batchSize = 2048

// Client is the minimal embedding backend. *openai.LLM satisfies it.
type Client interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// DefaultProvider batches texts, embeds batches in parallel, and shields the
// backend with a circuit breaker so a dead endpoint fails fast instead of
// stalling every in-flight message.
type DefaultProvider struct {
	client    Client
	breaker   *gobreaker.CircuitBreaker[[][]float32]
	dimension int
}

func NewDefaultProvider(client Client, dimension int) *DefaultProvider {
	return &DefaultProvider{
		client:    client,
		dimension: dimension,
		breaker: gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
			Name: "embeddings",
		}),
	}
}

// NewOpenAIClient builds the production backend.
func NewOpenAIClient(apiKey, model string) (Client, error) {
	llm, err := openai.New(openai.WithToken(apiKey), openai.WithEmbeddingModel(model))
	if err != nil {
		return nil, fmt.Errorf("creating openai client, %w", err)
	}
	return llm, nil
}

// EmbedDocuments returns one vector per input text, in input order.
func (p *DefaultProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	group, gctx := errgroup.WithContext(ctx)
	for i, batch := range lo.Chunk(texts, batchSize) {
		offset := i * batchSize
		group.Go(func() error {
			vectors, err := p.breaker.Execute(func() ([][]float32, error) {
				return p.client.CreateEmbedding(gctx, batch)
			})
			if err != nil {
				return nserrors.NewTransient(fmt.Errorf("embedding batch of %d texts, %w", len(batch), err))
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding batch returned %d vectors for %d texts", len(vectors), len(batch))
			}
			for j, vector := range vectors {
				if len(vector) != p.dimension {
					return fmt.Errorf("embedding dimension %d does not match expected %d", len(vector), p.dimension)
				}
				out[offset+j] = vector
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
