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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

// RegisterDocument inserts the row backing a presigned upload. The document
// starts locked and PENDING until the client confirms the upload outcome.
func (s *Store) RegisterDocument(ctx context.Context, userID int64, fileName, objectKey string) (Document, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents_registry (user_id, file_name, object_key, lock_status, op_status)
		VALUES ($1, $2, $3, TRUE, 'PENDING')
		RETURNING id, user_id, file_name, object_key, lock_status, op_status, created_at, updated_at`,
		userID, fileName, objectKey)
	return scanDocument(row)
}

// FinalizeDocument is the upload confirmation callback: the lock is released
// and the row settles into SUCCESS or FAILED.
func (s *Store) FinalizeDocument(ctx context.Context, userID, docID int64, success bool) (Document, error) {
	status := StatusSuccess
	if !success {
		status = StatusFailed
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE documents_registry
		SET lock_status = FALSE, op_status = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND lock_status = TRUE
		RETURNING id, user_id, file_name, object_key, lock_status, op_status, created_at, updated_at`,
		docID, userID, status)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, nserrors.ErrDocumentNotFound
	}
	return doc, err
}

func (s *Store) ListDocuments(ctx context.Context, userID int64) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, file_name, object_key, lock_status, op_status, created_at, updated_at
		FROM documents_registry
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing documents, %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// LockDocumentsForDeletion is phase one of the two-phase delete: claim the
// rows so no concurrent ingestion or second delete can touch them, and return
// the object keys phase two must remove from the object store.
func (s *Store) LockDocumentsForDeletion(ctx context.Context, userID int64, docIDs []int64) ([]Document, error) {
	var docs []Document
	err := s.execTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, user_id, file_name, object_key, lock_status, op_status, created_at, updated_at
			FROM documents_registry
			WHERE id = ANY($1) AND user_id = $2 AND lock_status = FALSE
			FOR UPDATE`, docIDs, userID)
		if err != nil {
			return fmt.Errorf("selecting documents for deletion, %w", err)
		}
		docs, err = collectDocuments(rows)
		if err != nil {
			return err
		}
		if missing := missingIDs(docIDs, docs); len(missing) > 0 {
			return &nserrors.DocsNotFoundError{IDs: missing}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE documents_registry
			SET lock_status = TRUE, op_status = 'PENDING', updated_at = now()
			WHERE id = ANY($1)`, docIDs); err != nil {
			return fmt.Errorf("locking documents for deletion, %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// DeleteLockedDocuments is phase two, run only after the object store delete
// succeeded. Chunk rows and links cascade.
func (s *Store) DeleteLockedDocuments(ctx context.Context, userID int64, docIDs []int64) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM documents_registry
		WHERE id = ANY($1) AND user_id = $2 AND lock_status = TRUE`, docIDs, userID); err != nil {
		return fmt.Errorf("deleting locked documents, %w", err)
	}
	return nil
}

// UnlockDocuments releases rows after a failed phase two so a later delete
// can retry; the FAILED status makes them visible to the reaper as well.
func (s *Store) UnlockDocuments(ctx context.Context, docIDs []int64) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE documents_registry
		SET lock_status = FALSE, op_status = 'FAILED', updated_at = now()
		WHERE id = ANY($1)`, docIDs); err != nil {
		return fmt.Errorf("unlocking documents, %w", err)
	}
	return nil
}

// ListConflictedDocuments returns rows in non-stable lock/status combinations
// for the reaper to resolve against the object store.
func (s *Store) ListConflictedDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, file_name, object_key, lock_status, op_status, created_at, updated_at
		FROM documents_registry
		WHERE lock_status = TRUE
		   OR (lock_status = FALSE AND op_status IN ('PENDING', 'FAILED'))
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing conflicted documents, %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// ResolveConflictedDocument settles one reaper finding: objects present in
// the store settle to an unlocked SUCCESS row, absent ones lose their row.
func (s *Store) ResolveConflictedDocument(ctx context.Context, docID int64, objectPresent bool) error {
	if objectPresent {
		if _, err := s.pool.Exec(ctx, `
			UPDATE documents_registry
			SET lock_status = FALSE, op_status = 'SUCCESS', updated_at = now()
			WHERE id = $1`, docID); err != nil {
			return fmt.Errorf("settling document %d, %w", docID, err)
		}
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents_registry WHERE id = $1`, docID); err != nil {
		return fmt.Errorf("removing orphaned document %d, %w", docID, err)
	}
	return nil
}

func missingIDs(want []int64, got []Document) []int64 {
	found := lo.SliceToMap(got, func(d Document) (int64, struct{}) { return d.ID, struct{}{} })
	return lo.Filter(lo.Uniq(want), func(id int64, _ int) bool {
		_, ok := found[id]
		return !ok
	})
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.UserID, &d.FileName, &d.ObjectKey, &d.LockStatus, &d.OpStatus, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func collectDocuments(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document row, %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
