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

package vectorstore

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/samber/lo"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

// Entity is one child chunk ready for upsert. The sparse vector is absent on
// purpose: the collection's BM25 function derives it from text_content
// server-side.
type Entity struct {
	ID          string
	DenseVector []float32
	TextContent string
	ObjectKey   string
	Category    string
	FileName    string
	UserID      int64
	FileID      int64
	ParentID    int64
}

type Provider interface {
	CreateCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, entities []Entity) error
	DeleteByFileID(ctx context.Context, collection string, fileID int64) error
}

type DefaultProvider struct {
	client *milvusclient.Client

	dimension int
}

type Config struct {
	Address   string
	Username  string
	Password  string
	Database  string
	Dimension int
}

func NewDefaultProvider(ctx context.Context, cfg Config) (*DefaultProvider, error) {
	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to milvus, %w", err)
	}
	return &DefaultProvider{client: client, dimension: cfg.Dimension}, nil
}

func (p *DefaultProvider) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

// CreateCollection creates the collection with the fixed hybrid-search schema
// and all of its indexes in one call.
func (p *DefaultProvider) CreateCollection(ctx context.Context, name string) error {
	opt := milvusclient.NewCreateCollectionOption(name, collectionSchema(name, p.dimension)).
		WithIndexOptions(indexOptions(name)...)
	if err := p.client.CreateCollection(ctx, opt); err != nil {
		return nserrors.NewTransient(fmt.Errorf("creating collection %q, %w", name, err))
	}
	return nil
}

// DropCollection treats a missing collection as success so cleanup passes
// can retry safely.
func (p *DefaultProvider) DropCollection(ctx context.Context, name string) error {
	has, err := p.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return nserrors.NewTransient(fmt.Errorf("checking collection %q, %w", name, err))
	}
	if !has {
		return nil
	}
	if err := p.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(name)); err != nil {
		return nserrors.NewTransient(fmt.Errorf("dropping collection %q, %w", name, err))
	}
	return nil
}

// Upsert writes entities column-wise. Deterministic entity ids make this
// idempotent across message redeliveries.
func (p *DefaultProvider) Upsert(ctx context.Context, collection string, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	opt := milvusclient.NewColumnBasedInsertOption(collection, entityColumns(p.dimension, entities)...)
	if _, err := p.client.Upsert(ctx, opt); err != nil {
		return nserrors.NewTransient(fmt.Errorf("upserting %d entities into %q, %w", len(entities), collection, err))
	}
	return nil
}

// DeleteByFileID removes every chunk of one ingested file. Matching nothing
// is success; the rows were already absent.
func (p *DefaultProvider) DeleteByFileID(ctx context.Context, collection string, fileID int64) error {
	opt := milvusclient.NewDeleteOption(collection).WithExpr(fmt.Sprintf("file_id == %d", fileID))
	if _, err := p.client.Delete(ctx, opt); err != nil {
		return nserrors.NewTransient(fmt.Errorf("deleting file %d from %q, %w", fileID, collection, err))
	}
	return nil
}

func extract[T any](entities []Entity, fn func(Entity) T) []T {
	return lo.Map(entities, func(e Entity, _ int) T { return fn(e) })
}
