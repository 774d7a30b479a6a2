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

package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithParentChunks upserts one row per parent chunk and hands the stable row
// ids to fn before committing. The (kb_doc_id, chunk_index) key makes ids
// deterministic across redeliveries, which keeps the derived vector ids
// deterministic too. If fn fails, the rows roll back.
func (s *Store) WithParentChunks(ctx context.Context, kbDocID, documentID int64, contents []string, fn func(parentIDs []int64) error) error {
	return s.execTx(ctx, func(tx pgx.Tx) error {
		parentIDs := make([]int64, 0, len(contents))
		for i, content := range contents {
			var id int64
			if err := tx.QueryRow(ctx, `
				INSERT INTO document_chunks (kb_doc_id, document_id, chunk_index, content)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (kb_doc_id, chunk_index)
				DO UPDATE SET content = EXCLUDED.content
				RETURNING id`, kbDocID, documentID, i, content).Scan(&id); err != nil {
				return fmt.Errorf("upserting parent chunk %d, %w", i, err)
			}
			parentIDs = append(parentIDs, id)
		}
		// A shorter re-index leaves stale tail rows behind; drop them.
		if _, err := tx.Exec(ctx, `
			DELETE FROM document_chunks
			WHERE kb_doc_id = $1 AND chunk_index >= $2`, kbDocID, len(contents)); err != nil {
			return fmt.Errorf("trimming stale parent chunks, %w", err)
		}
		return fn(parentIDs)
	})
}

// DeleteDocumentChunks removes every parent-chunk row for a document, called
// after the vector store delete succeeded.
func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID int64) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("deleting document chunks, %w", err)
	}
	return nil
}
