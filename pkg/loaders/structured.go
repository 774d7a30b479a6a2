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
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// loadCSV emits one unit per data row, rendered as "header: value" lines so
// column meaning survives chunking.
func loadCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file, %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv, %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}
	header := records[0]
	units := make([]string, 0, len(records)-1)
	for _, record := range records[1:] {
		var lines []string
		for i, value := range record {
			name := fmt.Sprintf("column_%d", i)
			if i < len(header) {
				name = header[i]
			}
			lines = append(lines, fmt.Sprintf("%s: %s", name, value))
		}
		units = append(units, strings.Join(lines, "\n"))
	}
	return units, nil
}

// loadJSON flattens the document into sorted "path: value" lines, one unit
// per top-level array element, or a single unit for objects and scalars.
func loadJSON(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file, %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing json, %w", err)
	}
	if items, ok := doc.([]any); ok {
		units := make([]string, 0, len(items))
		for _, item := range items {
			if text := flattenJSON("", item); text != "" {
				units = append(units, text)
			}
		}
		return units, nil
	}
	if text := flattenJSON("", doc); text != "" {
		return []string{text}, nil
	}
	return nil, nil
}

func flattenJSON(prefix string, value any) string {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			child := k
			if prefix != "" {
				child = prefix + "." + k
			}
			if line := flattenJSON(child, v[k]); line != "" {
				lines = append(lines, line)
			}
		}
		return strings.Join(lines, "\n")
	case []any:
		var lines []string
		for i, item := range v {
			child := fmt.Sprintf("%s[%d]", prefix, i)
			if line := flattenJSON(child, item); line != "" {
				lines = append(lines, line)
			}
		}
		return strings.Join(lines, "\n")
	case nil:
		return ""
	default:
		if prefix == "" {
			return fmt.Sprintf("%v", v)
		}
		return fmt.Sprintf("%s: %v", prefix, v)
	}
}

// loadHTML extracts visible text, dropping script and style subtrees. Block
// elements become separate units so page structure guides chunking.
func loadHTML(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file, %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parsing html, %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	var units []string
	doc.Find("p, h1, h2, h3, h4, h5, h6, li, td, pre, blockquote").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			units = append(units, text)
		}
	})
	if len(units) == 0 {
		if text := strings.TrimSpace(doc.Text()); text != "" {
			units = append(units, text)
		}
	}
	return units, nil
}
