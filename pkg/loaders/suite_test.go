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

package loaders

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLoaders(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Loaders")
}

var registry *Registry

var _ = BeforeEach(func() {
	registry = NewRegistry()
})

func writeTemp(name, content string) string {
	path := filepath.Join(GinkgoT().TempDir(), name)
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	return path
}

var _ = Describe("Registry", func() {
	It("should reject extensions without a loader", func() {
		_, err := registry.Load("/tmp/whatever", "report.pptx")
		Expect(errors.Is(err, nserrors.ErrDocumentNotLoaded)).To(BeTrue())
	})
	It("should key on the original file name, not the temp path", func() {
		path := writeTemp("download", "plain text content")
		units, err := registry.Load(path, "notes.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(units).To(Equal([]string{"plain text content"}))
	})
	It("should fail on files that produce no text", func() {
		path := writeTemp("empty.txt", "   \n  ")
		_, err := registry.Load(path, "empty.txt")
		Expect(errors.Is(err, nserrors.ErrDocumentNotLoaded)).To(BeTrue())
	})
})

var _ = Describe("CSV", func() {
	It("should emit one unit per row with header labels", func() {
		path := writeTemp("people.csv", "name,age\nalice,30\nbob,41\n")
		units, err := registry.Load(path, "people.csv")
		Expect(err).ToNot(HaveOccurred())
		Expect(units).To(Equal([]string{
			"name: alice\nage: 30",
			"name: bob\nage: 41",
		}))
	})
	It("should label surplus columns positionally", func() {
		path := writeTemp("ragged.csv", "name\nalice,30\n")
		units, err := registry.Load(path, "ragged.csv")
		Expect(err).ToNot(HaveOccurred())
		Expect(units).To(Equal([]string{"name: alice\ncolumn_1: 30"}))
	})
})

var _ = Describe("JSON", func() {
	It("should flatten nested objects with sorted key paths", func() {
		path := writeTemp("doc.json", `{"b": {"c": 2}, "a": 1}`)
		units, err := registry.Load(path, "doc.json")
		Expect(err).ToNot(HaveOccurred())
		Expect(units).To(Equal([]string{"a: 1\nb.c: 2"}))
	})
	It("should emit one unit per top-level array element", func() {
		path := writeTemp("list.json", `[{"id": 1}, {"id": 2}]`)
		units, err := registry.Load(path, "list.json")
		Expect(err).ToNot(HaveOccurred())
		Expect(units).To(Equal([]string{"id: 1", "id: 2"}))
	})
	It("should fail on malformed json", func() {
		path := writeTemp("bad.json", `{"a":`)
		_, err := registry.Load(path, "bad.json")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("HTML", func() {
	It("should extract block elements and drop scripts", func() {
		path := writeTemp("page.html", `<html><body>
			<script>var x = 1;</script>
			<h1>Title</h1>
			<p>First paragraph.</p>
			<ul><li>item one</li></ul>
		</body></html>`)
		units, err := registry.Load(path, "page.html")
		Expect(err).ToNot(HaveOccurred())
		Expect(units).To(Equal([]string{"Title", "First paragraph.", "item one"}))
	})
	It("should fall back to whole-document text without block elements", func() {
		path := writeTemp("bare.html", `<html><body><span>inline only</span></body></html>`)
		units, err := registry.Load(path, "bare.html")
		Expect(err).ToNot(HaveOccurred())
		Expect(units).To(Equal([]string{"inline only"}))
	})
})
