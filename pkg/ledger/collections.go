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
	"time"
)

// InsertProvisioningCollection records intent to create a collection before
// any vector store call is made, so a crash mid-create leaves a row the
// cleanup pass can reap.
func (s *Store) InsertProvisioningCollection(ctx context.Context, name string) (VectorCollection, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO vector_collections (collection_name, status)
		VALUES ($1, 'PROVISIONING')
		RETURNING id, collection_name, status, created_at, updated_at`, name)
	return scanCollection(row)
}

func (s *Store) MarkCollectionAvailable(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vector_collections SET status = 'AVAILABLE', updated_at = now()
		WHERE id = $1 AND status = 'PROVISIONING'`, id)
	if err != nil {
		return fmt.Errorf("marking collection %d available, %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collection %d is no longer provisioning", id)
	}
	return nil
}

func (s *Store) MarkCollectionFailed(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE vector_collections SET status = 'FAILED', updated_at = now()
		WHERE id = $1`, id); err != nil {
		return fmt.Errorf("marking collection %d failed, %w", id, err)
	}
	return nil
}

// DeleteCollectionRow is the compensating action for a failed create and the
// final step of cleanup after a successful drop.
func (s *Store) DeleteCollectionRow(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM vector_collections WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting collection row %d, %w", id, err)
	}
	return nil
}

func (s *Store) CountAvailableCollections(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM vector_collections WHERE status = 'AVAILABLE'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting available collections, %w", err)
	}
	return count, nil
}

// CountProvisioningSince counts in-flight creations young enough to still be
// trusted; older PROVISIONING rows are treated as stuck and excluded.
func (s *Store) CountProvisioningSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM vector_collections
		WHERE status = 'PROVISIONING' AND created_at >= $1`, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting provisioning collections, %w", err)
	}
	return count, nil
}

// ListCleanupCandidates returns collections eligible for physical drop:
// failed creations, creations stuck past the threshold, and CLEANUP rows no
// knowledge base references anymore.
func (s *Store) ListCleanupCandidates(ctx context.Context, stuckBefore time.Time) ([]VectorCollection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vc.id, vc.collection_name, vc.status, vc.created_at, vc.updated_at
		FROM vector_collections vc
		WHERE vc.status = 'FAILED'
		   OR (vc.status = 'PROVISIONING' AND vc.created_at < $1)
		   OR (vc.status = 'CLEANUP' AND NOT EXISTS (
		       SELECT 1 FROM knowledge_bases kb WHERE kb.collection_id = vc.id))`, stuckBefore)
	if err != nil {
		return nil, fmt.Errorf("listing cleanup candidates, %w", err)
	}
	defer rows.Close()
	var out []VectorCollection
	for rows.Next() {
		vc, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

func (s *Store) PoolStats(ctx context.Context) (PoolStats, error) {
	var stats PoolStats
	if err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'PROVISIONING'),
			count(*) FILTER (WHERE status = 'AVAILABLE'),
			count(*) FILTER (WHERE status = 'ASSIGNED'),
			count(*) FILTER (WHERE status = 'CLEANUP'),
			count(*) FILTER (WHERE status = 'FAILED')
		FROM vector_collections`).Scan(
		&stats.Provisioning, &stats.Available, &stats.Assigned, &stats.Cleanup, &stats.Failed); err != nil {
		return PoolStats{}, fmt.Errorf("reading pool stats, %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (VectorCollection, error) {
	var vc VectorCollection
	if err := row.Scan(&vc.ID, &vc.CollectionName, &vc.Status, &vc.CreatedAt, &vc.UpdatedAt); err != nil {
		return VectorCollection{}, fmt.Errorf("scanning collection row, %w", err)
	}
	return vc, nil
}
