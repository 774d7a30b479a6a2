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

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

// KnowledgeBaseBinding is the denormalized view admission and search need:
// the knowledge base joined to its assigned collection.
type KnowledgeBaseBinding struct {
	KbID           int64
	CollectionName string
	Category       string
}

// BindKnowledgeBase creates a knowledge base by claiming one AVAILABLE pool
// row. The SKIP LOCKED select lets concurrent creations claim distinct rows
// without serializing on each other.
func (s *Store) BindKnowledgeBase(ctx context.Context, userID int64, name, category string) (KnowledgeBase, string, error) {
	var kb KnowledgeBase
	var collectionName string
	err := s.execTx(ctx, func(tx pgx.Tx) error {
		var collectionID int64
		err := tx.QueryRow(ctx, `
			SELECT id, collection_name FROM vector_collections
			WHERE status = 'AVAILABLE'
			ORDER BY random()
			FOR UPDATE SKIP LOCKED
			LIMIT 1`).Scan(&collectionID, &collectionName)
		if errors.Is(err, pgx.ErrNoRows) {
			return nserrors.ErrNoAvailableCollection
		}
		if err != nil {
			return fmt.Errorf("selecting available collection, %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE vector_collections SET status = 'ASSIGNED', updated_at = now()
			WHERE id = $1`, collectionID); err != nil {
			return fmt.Errorf("assigning collection %d, %w", collectionID, err)
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO knowledge_bases (user_id, name, category, collection_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id, user_id, name, category, collection_id, created_at`,
			userID, name, category, collectionID).Scan(
			&kb.ID, &kb.UserID, &kb.Name, &kb.Category, &kb.CollectionID, &kb.CreatedAt); err != nil {
			return fmt.Errorf("inserting knowledge base, %w", err)
		}
		return nil
	})
	if err != nil {
		return KnowledgeBase{}, "", err
	}
	return kb, collectionName, nil
}

// DeleteKnowledgeBase removes the knowledge base and its links and parks the
// bound collection in CLEANUP for the provisioner to drop.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, userID, kbID int64) error {
	return s.execTx(ctx, func(tx pgx.Tx) error {
		var collectionID int64
		err := tx.QueryRow(ctx, `
			SELECT collection_id FROM knowledge_bases
			WHERE id = $1 AND user_id = $2
			FOR UPDATE`, kbID, userID).Scan(&collectionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nserrors.ErrKnowledgeBaseNotFound
		}
		if err != nil {
			return fmt.Errorf("selecting knowledge base %d, %w", kbID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE vector_collections SET status = 'CLEANUP', updated_at = now()
			WHERE id = $1`, collectionID); err != nil {
			return fmt.Errorf("parking collection %d for cleanup, %w", collectionID, err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM knowledge_base_documents WHERE kb_id = $1`, kbID); err != nil {
			return fmt.Errorf("deleting knowledge base links, %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM knowledge_bases WHERE id = $1`, kbID); err != nil {
			return fmt.Errorf("deleting knowledge base %d, %w", kbID, err)
		}
		return nil
	})
}

func (s *Store) GetKnowledgeBaseBinding(ctx context.Context, userID, kbID int64) (KnowledgeBaseBinding, error) {
	return getKnowledgeBaseBinding(ctx, s.pool, userID, kbID)
}

func getKnowledgeBaseBinding(ctx context.Context, db DBTX, userID, kbID int64) (KnowledgeBaseBinding, error) {
	var binding KnowledgeBaseBinding
	err := db.QueryRow(ctx, `
		SELECT kb.id, vc.collection_name, kb.category
		FROM knowledge_bases kb
		JOIN vector_collections vc ON vc.id = kb.collection_id
		WHERE kb.id = $1 AND kb.user_id = $2`, kbID, userID).Scan(
		&binding.KbID, &binding.CollectionName, &binding.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return KnowledgeBaseBinding{}, nserrors.ErrKnowledgeBaseNotFound
	}
	if err != nil {
		return KnowledgeBaseBinding{}, fmt.Errorf("resolving knowledge base %d, %w", kbID, err)
	}
	return binding, nil
}

func (s *Store) ListKnowledgeBases(ctx context.Context, userID int64) ([]KnowledgeBase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, category, collection_id, created_at
		FROM knowledge_bases
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge bases, %w", err)
	}
	defer rows.Close()
	var out []KnowledgeBase
	for rows.Next() {
		var kb KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.UserID, &kb.Name, &kb.Category, &kb.CollectionID, &kb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning knowledge base row, %w", err)
		}
		out = append(out, kb)
	}
	return out, rows.Err()
}

func (s *Store) ListKnowledgeBaseDocuments(ctx context.Context, userID, kbID int64) ([]KnowledgeBaseDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.kb_id, l.document_id, l.status, l.created_at, l.updated_at
		FROM knowledge_base_documents l
		JOIN knowledge_bases kb ON kb.id = l.kb_id
		WHERE l.kb_id = $1 AND kb.user_id = $2
		ORDER BY l.id`, kbID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge base documents, %w", err)
	}
	defer rows.Close()
	var out []KnowledgeBaseDocument
	for rows.Next() {
		var link KnowledgeBaseDocument
		if err := rows.Scan(&link.ID, &link.KbID, &link.DocumentID, &link.Status, &link.CreatedAt, &link.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning link row, %w", err)
		}
		out = append(out, link)
	}
	return out, rows.Err()
}
