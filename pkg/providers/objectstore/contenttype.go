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

package objectstore

import (
	"path/filepath"
	"strings"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

// contentTypes is the upload allow-list. Any extension outside it is
// rejected at admission time, before a presigned URL is issued.
var contentTypes = map[string]string{
	".txt":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".xml":  "application/xml",
	".csv":  "text/csv",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".md":   "text/markdown",
}

// ContentTypeFor maps a file name to its MIME type, failing validation for
// extensions outside the allow-list.
func ContentTypeFor(fileName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	contentType, ok := contentTypes[ext]
	if !ok {
		return "", nserrors.NewValidation("unsupported file extension %q", ext)
	}
	return contentType, nil
}

// AllowedExtension reports whether the extension is ingestable at all.
func AllowedExtension(fileName string) bool {
	_, ok := contentTypes[strings.ToLower(filepath.Ext(fileName))]
	return ok
}
