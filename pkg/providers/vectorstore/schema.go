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
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
)

// Field names of the fixed collection schema.
const (
	FieldID          = "id"
	FieldDenseVector = "text_dense_vector"
	FieldSparse      = "text_sparse_vector"
	FieldCategory    = "category"
	FieldObjectKey   = "object_key"
	FieldFileName    = "file_name"
	FieldTextContent = "text_content"
	FieldUserID      = "user_id"
	FieldFileID      = "file_id"
	FieldParentID    = "parent_id"
)

const bm25FunctionName = "text_bm25"

func collectionSchema(name string, dimension int) *entity.Schema {
	return entity.NewSchema().WithName(name).
		WithField(entity.NewField().WithName(FieldID).
			WithDataType(entity.FieldTypeVarChar).WithMaxLength(36).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(FieldDenseVector).
			WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dimension))).
		WithField(entity.NewField().WithName(FieldSparse).
			WithDataType(entity.FieldTypeSparseVector)).
		WithField(entity.NewField().WithName(FieldCategory).
			WithDataType(entity.FieldTypeVarChar).WithMaxLength(100)).
		WithField(entity.NewField().WithName(FieldObjectKey).
			WithDataType(entity.FieldTypeVarChar).WithMaxLength(2048)).
		WithField(entity.NewField().WithName(FieldFileName).
			WithDataType(entity.FieldTypeVarChar).WithMaxLength(255)).
		WithField(entity.NewField().WithName(FieldTextContent).
			WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535).WithEnableAnalyzer(true)).
		WithField(entity.NewField().WithName(FieldUserID).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldFileID).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldParentID).
			WithDataType(entity.FieldTypeInt64)).
		WithFunction(entity.NewFunction().WithName(bm25FunctionName).
			WithInputFields(FieldTextContent).
			WithOutputFields(FieldSparse).
			WithType(entity.FunctionTypeBM25))
}

func indexOptions(name string) []milvusclient.CreateIndexOption {
	sparseIndex := index.NewGenericIndex(FieldSparse, map[string]string{
		"index_type":          "SPARSE_INVERTED_INDEX",
		"metric_type":         "BM25",
		"inverted_index_algo": "DAAT_MAXSCORE",
		"bm25_k1":             "1.2",
		"bm25_b":              "0.75",
	})
	return []milvusclient.CreateIndexOption{
		milvusclient.NewCreateIndexOption(name, FieldDenseVector, index.NewHNSWIndex(entity.COSINE, 32, 400)),
		milvusclient.NewCreateIndexOption(name, FieldSparse, sparseIndex),
		milvusclient.NewCreateIndexOption(name, FieldUserID, index.NewInvertedIndex()),
		milvusclient.NewCreateIndexOption(name, FieldFileID, index.NewInvertedIndex()),
		milvusclient.NewCreateIndexOption(name, FieldCategory, index.NewBitmapIndex()),
	}
}

func entityColumns(dimension int, entities []Entity) []column.Column {
	return []column.Column{
		column.NewColumnVarChar(FieldID, extract(entities, func(e Entity) string { return e.ID })),
		column.NewColumnFloatVector(FieldDenseVector, dimension, extract(entities, func(e Entity) []float32 { return e.DenseVector })),
		column.NewColumnVarChar(FieldCategory, extract(entities, func(e Entity) string { return e.Category })),
		column.NewColumnVarChar(FieldObjectKey, extract(entities, func(e Entity) string { return e.ObjectKey })),
		column.NewColumnVarChar(FieldFileName, extract(entities, func(e Entity) string { return e.FileName })),
		column.NewColumnVarChar(FieldTextContent, extract(entities, func(e Entity) string { return e.TextContent })),
		column.NewColumnInt64(FieldUserID, extract(entities, func(e Entity) int64 { return e.UserID })),
		column.NewColumnInt64(FieldFileID, extract(entities, func(e Entity) int64 { return e.FileID })),
		column.NewColumnInt64(FieldParentID, extract(entities, func(e Entity) int64 { return e.ParentID })),
	}
}
