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

package ingestion

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/objectstore"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue/messages"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/vectorstore"
)

// VectorID derives the deterministic entity id for one child chunk. Stable
// parent row ids make redelivered messages upsert over the same entities.
func VectorID(fileName string, parentID int64, chunkIndex int) string {
	name := fmt.Sprintf("%s::parent:%d::chunk:%d", fileName, parentID, chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// indexOne carries a single file from object store to vector store:
// download, load, chunk, embed, then parent rows and entity upsert committed
// together.
func (p *DefaultProcessor) indexOne(ctx context.Context, envelope messages.Envelope, ref ledger.FileRef) error {
	if !objectstore.AllowedExtension(ref.FileName) {
		return nserrors.NewValidation("file %q has an unsupported extension", ref.FileName)
	}
	path, err := p.objectStore.Download(ctx, ref.ObjectKey)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	units, err := p.loaders.Load(path, ref.FileName)
	if err != nil {
		return err
	}
	parents, err := p.chunker.Chunk(ctx, units)
	if err != nil {
		return err
	}
	if len(parents) == 0 {
		return fmt.Errorf("%w: %q produced no chunks", nserrors.ErrDocumentNotLoaded, ref.FileName)
	}

	// One flat embedding call covers every child; offsets map the vectors
	// back to their parents.
	var childTexts []string
	offsets := make([]int, len(parents))
	for i, parent := range parents {
		offsets[i] = len(childTexts)
		childTexts = append(childTexts, parent.Children...)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, childTexts)
	if err != nil {
		return err
	}

	parentTexts := make([]string, len(parents))
	for i, parent := range parents {
		parentTexts[i] = parent.Text
	}
	return p.ledger.WithParentChunks(ctx, ref.KbDocID, ref.DocID, parentTexts, func(parentIDs []int64) error {
		var entities []vectorstore.Entity
		for i, parent := range parents {
			for j, child := range parent.Children {
				entities = append(entities, vectorstore.Entity{
					ID:          VectorID(ref.FileName, parentIDs[i], j),
					DenseVector: vectors[offsets[i]+j],
					TextContent: child,
					ObjectKey:   ref.ObjectKey,
					Category:    envelope.Category,
					FileName:    ref.FileName,
					UserID:      envelope.UserID,
					FileID:      ref.KbDocID,
					ParentID:    parentIDs[i],
				})
			}
		}
		return p.vectorStore.Upsert(ctx, envelope.CollectionName, entities)
	})
}

// deleteOne removes a file's entities by predicate, then its parent rows.
// Entities already absent count as success.
func (p *DefaultProcessor) deleteOne(ctx context.Context, envelope messages.Envelope, ref ledger.FileRef) error {
	if err := p.vectorStore.DeleteByFileID(ctx, envelope.CollectionName, ref.KbDocID); err != nil {
		return err
	}
	return p.ledger.DeleteDocumentChunks(ctx, ref.DocID)
}
