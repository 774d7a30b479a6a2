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

// Package chunker implements parent/child semantic splitting: coarse parent
// chunks carry retrieval context, fine child chunks carry the vectors that
// are actually searched.
package chunker

import (
	"context"
	"strings"
	"unicode"
)

// Parent is one coarse chunk and the finer children derived from its text.
type Parent struct {
	Text     string
	Children []string
}

// Embedder is the slice of the embeddings provider the chunker needs.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Chunker struct {
	embedder Embedder
	cfg      Config
}

func New(embedder Embedder, cfg Config) *Chunker {
	return &Chunker{embedder: embedder, cfg: cfg}
}

// Chunk splits each text unit into parents, then re-splits each parent into
// children with the finer tuning. Given the same sentences and embeddings,
// the same boundaries result.
func (c *Chunker) Chunk(ctx context.Context, units []string) ([]Parent, error) {
	var parents []Parent
	for _, unit := range units {
		parentTexts, err := c.split(ctx, unit, c.cfg.Parent)
		if err != nil {
			return nil, err
		}
		for _, text := range parentTexts {
			children, err := c.split(ctx, text, c.cfg.Child)
			if err != nil {
				return nil, err
			}
			parents = append(parents, Parent{Text: text, Children: children})
		}
	}
	return parents, nil
}

// split runs one semantic pass: sentence windows are embedded, adjacent
// distances computed, and the stream cut wherever the distance exceeds the
// policy threshold.
func (c *Chunker) split(ctx context.Context, text string, params Params) ([]string, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	// A single sentence is its own chunk; there is nothing to cut.
	if len(sentences) == 1 {
		return []string{sentences[0]}, nil
	}
	windows := rollingWindows(sentences, params.BufferSize)
	vectors, err := c.embedder.EmbedDocuments(ctx, windows)
	if err != nil {
		return nil, err
	}
	distances := make([]float64, len(vectors)-1)
	for i := 0; i < len(vectors)-1; i++ {
		distances[i] = cosineDistance(vectors[i], vectors[i+1])
	}
	return joinAtBreakpoints(sentences, breakpointIndices(distances, params)), nil
}

// rollingWindows surrounds each sentence with up to buffer neighbors on each
// side, so embeddings capture local context rather than lone sentences.
func rollingWindows(sentences []string, buffer int) []string {
	windows := make([]string, len(sentences))
	for i := range sentences {
		lo := i - buffer
		if lo < 0 {
			lo = 0
		}
		hi := i + buffer + 1
		if hi > len(sentences) {
			hi = len(sentences)
		}
		windows[i] = strings.Join(sentences[lo:hi], " ")
	}
	return windows
}

func joinAtBreakpoints(sentences []string, cuts []int) []string {
	var chunks []string
	start := 0
	for _, cut := range cuts {
		chunks = append(chunks, strings.Join(sentences[start:cut+1], " "))
		start = cut + 1
	}
	if start < len(sentences) {
		chunks = append(chunks, strings.Join(sentences[start:], " "))
	}
	return chunks
}

// SplitSentences breaks text after terminal punctuation followed by
// whitespace, and on blank lines. Empty fragments are dropped.
func SplitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	runes := []rune(text)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		} else if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			flush()
		}
	}
	flush()
	return sentences
}
