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

// Package loaders turns downloaded files into sequences of text units keyed
// by file extension. Formats without a registered loader fail ingestion for
// that file only.
package loaders

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

// Loader parses one file into text units the chunker consumes.
type Loader interface {
	Load(path string) ([]string, error)
}

type LoaderFunc func(path string) ([]string, error)

func (f LoaderFunc) Load(path string) ([]string, error) { return f(path) }

// Registry maps lower-case extensions (with dot) to loaders.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry returns a registry with the built-in text formats registered.
// Binary formats on the upload allow-list stay pluggable through Register.
func NewRegistry() *Registry {
	r := &Registry{loaders: map[string]Loader{}}
	r.Register(".txt", LoaderFunc(loadPlainText))
	r.Register(".md", LoaderFunc(loadPlainText))
	r.Register(".xml", LoaderFunc(loadPlainText))
	r.Register(".csv", LoaderFunc(loadCSV))
	r.Register(".json", LoaderFunc(loadJSON))
	r.Register(".html", LoaderFunc(loadHTML))
	r.Register(".htm", LoaderFunc(loadHTML))
	return r
}

func (r *Registry) Register(ext string, loader Loader) {
	r.loaders[strings.ToLower(ext)] = loader
}

// Load parses path using the loader registered for fileName's extension.
func (r *Registry) Load(path, fileName string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	loader, ok := r.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", nserrors.ErrDocumentNotLoaded, ext)
	}
	units, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading %q, %w", fileName, err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: %q produced no text", nserrors.ErrDocumentNotLoaded, fileName)
	}
	return units, nil
}

func loadPlainText(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file, %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, nil
	}
	return []string{text}, nil
}
