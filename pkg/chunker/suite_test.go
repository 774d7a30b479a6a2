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

package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/DEVunderdog/NeuroStash/pkg/fake"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestChunker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chunker")
}

var ctx context.Context
var embedder *fake.Embedder
var chunker *Chunker

var _ = BeforeEach(func() {
	ctx = context.Background()
	embedder = fake.NewEmbedder(64)
	chunker = New(embedder, DefaultConfig())
})

var _ = Describe("SplitSentences", func() {
	It("should break after terminal punctuation", func() {
		Expect(SplitSentences("First one. Second one! Third one?")).To(Equal([]string{
			"First one.", "Second one!", "Third one?",
		}))
	})
	It("should not break inside decimal numbers", func() {
		Expect(SplitSentences("Version 1.2 shipped today.")).To(HaveLen(1))
	})
	It("should break on blank lines", func() {
		Expect(SplitSentences("first paragraph\n\nsecond paragraph")).To(Equal([]string{
			"first paragraph", "second paragraph",
		}))
	})
	It("should return nothing for whitespace", func() {
		Expect(SplitSentences("  \n\t ")).To(BeEmpty())
	})
})

var _ = Describe("Chunk", func() {
	It("should make a single sentence its own parent and child without embedding", func() {
		parents, err := chunker.Chunk(ctx, []string{"Just one sentence."})
		Expect(err).ToNot(HaveOccurred())
		Expect(parents).To(HaveLen(1))
		Expect(parents[0].Text).To(Equal("Just one sentence."))
		Expect(parents[0].Children).To(Equal([]string{"Just one sentence."}))
		Expect(embedder.Calls()).To(Equal(0))
	})
	It("should produce identical boundaries for identical input", func() {
		units := []string{
			"Dogs are loyal companions. Cats prefer their independence. Birds sing at dawn. " +
				"The stock market closed higher today. Interest rates remain unchanged. Inflation cooled slightly.",
		}
		first, err := chunker.Chunk(ctx, units)
		Expect(err).ToNot(HaveOccurred())
		second, err := chunker.Chunk(ctx, units)
		Expect(err).ToNot(HaveOccurred())
		Expect(second).To(Equal(first))
	})
	It("should preserve every sentence across parents", func() {
		text := "Alpha moves first. Beta follows closely. Gamma watches both. Delta arrives late. Epsilon never shows."
		parents, err := chunker.Chunk(ctx, []string{text})
		Expect(err).ToNot(HaveOccurred())
		var joined []string
		for _, p := range parents {
			joined = append(joined, p.Text)
			Expect(p.Children).ToNot(BeEmpty())
		}
		for _, sentence := range SplitSentences(text) {
			Expect(strings.Join(joined, " ")).To(ContainSubstring(sentence))
		}
	})
	It("should surface embedder failures", func() {
		embedder.Err.Set(context.DeadlineExceeded)
		_, err := chunker.Chunk(ctx, []string{"One sentence here. Another sentence there."})
		Expect(err).To(HaveOccurred())
	})
	It("should produce nothing for empty units", func() {
		parents, err := chunker.Chunk(ctx, []string{"   "})
		Expect(err).ToNot(HaveOccurred())
		Expect(parents).To(BeEmpty())
	})
})

var _ = Describe("Breakpoints", func() {
	It("should cut standard deviation outliers", func() {
		cuts := breakpointIndices([]float64{0.1, 0.1, 0.8, 0.1}, Params{Policy: StandardDeviation, Threshold: 1})
		Expect(cuts).To(Equal([]int{2}))
	})
	It("should not cut a flat series", func() {
		cuts := breakpointIndices([]float64{0.5, 0.5, 0.5}, Params{Policy: StandardDeviation, Threshold: 1})
		Expect(cuts).To(BeEmpty())
	})
	It("should cut interquartile outliers", func() {
		cuts := breakpointIndices([]float64{0.1, 0.1, 0.1, 0.1, 0.9}, Params{Policy: Interquartile, Threshold: 1.5})
		Expect(cuts).To(Equal([]int{4}))
	})
	It("should cut above the percentile threshold", func() {
		distances := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}
		cuts := breakpointIndices(distances, Params{Policy: Percentile, Threshold: 85})
		Expect(cuts).To(Equal([]int{9}))
	})
	It("should cut where the gradient spikes", func() {
		cuts := breakpointIndices([]float64{0.1, 0.2, 0.9, 0.2}, Params{Policy: Gradient, Threshold: 75})
		Expect(cuts).To(Equal([]int{1}))
	})
	It("should compute central differences", func() {
		Expect(gradient([]float64{1, 2, 4})).To(Equal([]float64{1, 1.5, 2}))
	})
})

var _ = Describe("Config", func() {
	It("should reject an unknown policy", func() {
		cfg := DefaultConfig()
		cfg.Parent.Policy = "MEDIAN"
		Expect(cfg.Validate()).ToNot(Succeed())
	})
	It("should reject an out-of-range percentile", func() {
		cfg := DefaultConfig()
		cfg.Child.Threshold = 150
		Expect(cfg.Validate()).ToNot(Succeed())
	})
	It("should return defaults for an empty path", func() {
		cfg, err := LoadConfig("")
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg).To(Equal(DefaultConfig()))
	})
})
