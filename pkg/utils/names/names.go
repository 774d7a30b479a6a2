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

package names

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Pallinder/go-randomdata"
)

// RandomCollectionName returns an opaque, human-scannable collection name
// safe for vector store identifiers: lower-case letters, digits and
// underscores, starting with a letter. The random suffix carries the
// uniqueness; the silly name just makes logs readable.
func RandomCollectionName() string {
	suffix := make([]byte, 6)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("kb_%s_%s", strings.ToLower(randomdata.SillyName()), hex.EncodeToString(suffix))
}

// RandomObjectKey namespaces uploads per user and keeps the extension so
// downloads can be routed to the right loader.
func RandomObjectKey(userID int64, ext string) string {
	suffix := make([]byte, 16)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("documents/%d/%s%s", userID, hex.EncodeToString(suffix), strings.ToLower(ext))
}
