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
	"sync"

	"github.com/DEVunderdog/NeuroStash/pkg/providers/vectorstore"
)

// VectorStore is an in-memory vectorstore.Provider. Each method carries an
// AtomicError so tests can fail a specific call a set number of times.
type VectorStore struct {
	CreateCollectionError AtomicError
	DropCollectionError   AtomicError
	UpsertError           AtomicError
	DeleteError           AtomicError

	mu          sync.Mutex
	collections map[string]map[string]vectorstore.Entity
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (v *VectorStore) Reset() {
	v.CreateCollectionError.Reset()
	v.DropCollectionError.Reset()
	v.UpsertError.Reset()
	v.DeleteError.Reset()
	v.mu.Lock()
	v.collections = nil
	v.mu.Unlock()
}

func (v *VectorStore) CreateCollection(_ context.Context, name string) error {
	if err := v.CreateCollectionError.Get(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.collections == nil {
		v.collections = map[string]map[string]vectorstore.Entity{}
	}
	if _, ok := v.collections[name]; !ok {
		v.collections[name] = map[string]vectorstore.Entity{}
	}
	return nil
}

func (v *VectorStore) DropCollection(_ context.Context, name string) error {
	if err := v.DropCollectionError.Get(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.collections, name)
	return nil
}

func (v *VectorStore) Upsert(_ context.Context, collection string, entities []vectorstore.Entity) error {
	if err := v.UpsertError.Get(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.collections == nil {
		v.collections = map[string]map[string]vectorstore.Entity{}
	}
	if _, ok := v.collections[collection]; !ok {
		v.collections[collection] = map[string]vectorstore.Entity{}
	}
	for _, e := range entities {
		v.collections[collection][e.ID] = e
	}
	return nil
}

func (v *VectorStore) DeleteByFileID(_ context.Context, collection string, fileID int64) error {
	if err := v.DeleteError.Get(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, e := range v.collections[collection] {
		if e.FileID == fileID {
			delete(v.collections[collection], id)
		}
	}
	return nil
}

func (v *VectorStore) HasCollection(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.collections[name]
	return ok
}

func (v *VectorStore) CollectionNames() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, 0, len(v.collections))
	for name := range v.collections {
		names = append(names, name)
	}
	return names
}

// Entities returns a snapshot of one collection's rows keyed by id.
func (v *VectorStore) Entities(collection string) map[string]vectorstore.Entity {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]vectorstore.Entity, len(v.collections[collection]))
	for id, e := range v.collections[collection] {
		out[id] = e
	}
	return out
}
