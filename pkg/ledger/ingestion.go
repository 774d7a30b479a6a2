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
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

type AdmitParams struct {
	UserID  int64
	KbID    int64
	FileIDs []int64
}

// Admission is everything the queue message needs: the job row, the resolved
// collection binding, and the file manifest.
type Admission struct {
	Job     IngestionJob
	Binding KnowledgeBaseBinding
	Refs    []FileRef
}

// PublishFunc is invoked inside the admission transaction, before commit. A
// publish failure rolls the whole admission back so no orphan job row or
// half-enqueued work survives.
type PublishFunc func(ctx context.Context, adm Admission) error

// AdmitIngestion validates the request, creates the job row, upserts the
// document links to PENDING and publishes the job message, all or nothing.
func (s *Store) AdmitIngestion(ctx context.Context, params AdmitParams, publish PublishFunc) (Admission, error) {
	var adm Admission
	err := s.execTx(ctx, func(tx pgx.Tx) error {
		binding, err := getKnowledgeBaseBinding(ctx, tx, params.UserID, params.KbID)
		if err != nil {
			return err
		}
		docs, err := selectIngestableDocuments(ctx, tx, params.UserID, params.FileIDs)
		if err != nil {
			return err
		}
		job, err := insertJob(ctx, tx, params.KbID)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			INSERT INTO knowledge_base_documents (kb_id, document_id, status)
			SELECT $1, unnest($2::bigint[]), 'PENDING'
			ON CONFLICT (kb_id, document_id)
			DO UPDATE SET status = 'PENDING', updated_at = now()
			RETURNING id, document_id`, params.KbID, params.FileIDs)
		if err != nil {
			return fmt.Errorf("upserting knowledge base links, %w", err)
		}
		refs, err := collectRefs(rows, docs)
		if err != nil {
			return err
		}
		adm = Admission{Job: job, Binding: binding, Refs: refs}
		if err := publish(ctx, adm); err != nil {
			return fmt.Errorf("publishing ingestion message, %w", err)
		}
		return nil
	})
	if err != nil {
		return Admission{}, err
	}
	return adm, nil
}

// AdmitDeletion mirrors AdmitIngestion for the removal path: the manifest is
// built from existing links and the message carries it as the delete list.
func (s *Store) AdmitDeletion(ctx context.Context, params AdmitParams, publish PublishFunc) (Admission, error) {
	var adm Admission
	err := s.execTx(ctx, func(tx pgx.Tx) error {
		binding, err := getKnowledgeBaseBinding(ctx, tx, params.UserID, params.KbID)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT l.id, l.document_id, d.file_name, d.object_key
			FROM knowledge_base_documents l
			JOIN documents_registry d ON d.id = l.document_id
			WHERE l.kb_id = $1 AND l.document_id = ANY($2)
			FOR UPDATE OF l`, params.KbID, params.FileIDs)
		if err != nil {
			return fmt.Errorf("selecting knowledge base links, %w", err)
		}
		refs, err := scanRefs(rows)
		if err != nil {
			return err
		}
		linked := lo.Map(refs, func(r FileRef, _ int) int64 { return r.DocID })
		if missing, _ := lo.Difference(lo.Uniq(params.FileIDs), linked); len(missing) > 0 {
			return &nserrors.DocsNotFoundError{IDs: missing}
		}
		job, err := insertJob(ctx, tx, params.KbID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE knowledge_base_documents SET status = 'PENDING', updated_at = now()
			WHERE id = ANY($1)`, lo.Map(refs, func(r FileRef, _ int) int64 { return r.KbDocID })); err != nil {
			return fmt.Errorf("resetting links to pending, %w", err)
		}
		adm = Admission{Job: job, Binding: binding, Refs: refs}
		if err := publish(ctx, adm); err != nil {
			return fmt.Errorf("publishing deletion message, %w", err)
		}
		return nil
	})
	if err != nil {
		return Admission{}, err
	}
	return adm, nil
}

// FinalizeJob commits the outcome of one processed message atomically: index
// links move to their terminal status, successfully deleted links disappear,
// failed deletions stay marked FAILED, and the job settles.
func (s *Store) FinalizeJob(ctx context.Context, jobID int64, indexResults, deleteResults []LinkResult) error {
	return s.execTx(ctx, func(tx pgx.Tx) error {
		if len(indexResults) > 0 {
			ids := lo.Map(indexResults, func(r LinkResult, _ int) int64 { return r.KbDocID })
			statuses := lo.Map(indexResults, func(r LinkResult, _ int) string { return string(r.Status) })
			if _, err := tx.Exec(ctx, `
				UPDATE knowledge_base_documents AS l
				SET status = v.status::operation_status, updated_at = now()
				FROM (SELECT unnest($1::bigint[]) AS id, unnest($2::text[]) AS status) v
				WHERE l.id = v.id`, ids, statuses); err != nil {
				return fmt.Errorf("updating index link statuses, %w", err)
			}
		}
		deleted := lo.FilterMap(deleteResults, func(r LinkResult, _ int) (int64, bool) {
			return r.KbDocID, r.Status == StatusSuccess
		})
		if len(deleted) > 0 {
			if _, err := tx.Exec(ctx, `
				DELETE FROM knowledge_base_documents WHERE id = ANY($1)`, deleted); err != nil {
				return fmt.Errorf("deleting completed links, %w", err)
			}
		}
		failedDeletes := lo.FilterMap(deleteResults, func(r LinkResult, _ int) (int64, bool) {
			return r.KbDocID, r.Status == StatusFailed
		})
		if len(failedDeletes) > 0 {
			if _, err := tx.Exec(ctx, `
				UPDATE knowledge_base_documents SET status = 'FAILED', updated_at = now()
				WHERE id = ANY($1)`, failedDeletes); err != nil {
				return fmt.Errorf("marking failed deletions, %w", err)
			}
		}
		jobStatus := StatusSuccess
		if lo.SomeBy(append(indexResults, deleteResults...), func(r LinkResult) bool { return r.Status == StatusFailed }) {
			jobStatus = StatusFailed
		}
		tag, err := tx.Exec(ctx, `
			UPDATE ingestion_jobs SET op_status = $2, updated_at = now()
			WHERE id = $1`, jobID, jobStatus)
		if err != nil {
			return fmt.Errorf("settling job %d, %w", jobID, err)
		}
		if tag.RowsAffected() == 0 {
			return nserrors.ErrJobNotFound
		}
		return nil
	})
}

// MarkJobFailed is the best-effort fallback when FinalizeJob itself fails.
func (s *Store) MarkJobFailed(ctx context.Context, jobID int64) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE ingestion_jobs SET op_status = 'FAILED', updated_at = now()
		WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("marking job %d failed, %w", jobID, err)
	}
	return nil
}

// FailStuckJobs ages out PENDING jobs whose worker never reported back.
func (s *Store) FailStuckJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_jobs SET op_status = 'FAILED', updated_at = now()
		WHERE op_status = 'PENDING' AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failing stuck jobs, %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetIngestionJob(ctx context.Context, userID, jobID int64) (IngestionJob, error) {
	var job IngestionJob
	err := s.pool.QueryRow(ctx, `
		SELECT j.id, j.kb_id, j.resource_id, j.op_status, j.created_at, j.updated_at
		FROM ingestion_jobs j
		JOIN knowledge_bases kb ON kb.id = j.kb_id
		WHERE j.id = $1 AND kb.user_id = $2`, jobID, userID).Scan(
		&job.ID, &job.KbID, &job.ResourceID, &job.OpStatus, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return IngestionJob{}, nserrors.ErrJobNotFound
	}
	if err != nil {
		return IngestionJob{}, fmt.Errorf("reading job %d, %w", jobID, err)
	}
	return job, nil
}

func insertJob(ctx context.Context, tx pgx.Tx, kbID int64) (IngestionJob, error) {
	var job IngestionJob
	if err := tx.QueryRow(ctx, `
		INSERT INTO ingestion_jobs (kb_id, resource_id, op_status)
		VALUES ($1, $2, 'PENDING')
		RETURNING id, kb_id, resource_id, op_status, created_at, updated_at`,
		kbID, uuid.New()).Scan(
		&job.ID, &job.KbID, &job.ResourceID, &job.OpStatus, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return IngestionJob{}, fmt.Errorf("inserting ingestion job, %w", err)
	}
	return job, nil
}

// selectIngestableDocuments returns the requested documents that are owned by
// the user, unlocked and fully uploaded; anything else counts as missing.
func selectIngestableDocuments(ctx context.Context, tx pgx.Tx, userID int64, fileIDs []int64) (map[int64]Document, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, user_id, file_name, object_key, lock_status, op_status, created_at, updated_at
		FROM documents_registry
		WHERE id = ANY($1) AND user_id = $2 AND lock_status = FALSE AND op_status = 'SUCCESS'`,
		fileIDs, userID)
	if err != nil {
		return nil, fmt.Errorf("selecting documents, %w", err)
	}
	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, err
	}
	if missing := missingIDs(fileIDs, docs); len(missing) > 0 {
		return nil, &nserrors.DocsNotFoundError{IDs: missing}
	}
	return lo.SliceToMap(docs, func(d Document) (int64, Document) { return d.ID, d }), nil
}

func collectRefs(rows pgx.Rows, docs map[int64]Document) ([]FileRef, error) {
	defer rows.Close()
	var refs []FileRef
	for rows.Next() {
		var kbDocID, docID int64
		if err := rows.Scan(&kbDocID, &docID); err != nil {
			return nil, fmt.Errorf("scanning link row, %w", err)
		}
		doc := docs[docID]
		refs = append(refs, FileRef{KbDocID: kbDocID, DocID: docID, FileName: doc.FileName, ObjectKey: doc.ObjectKey})
	}
	return refs, rows.Err()
}

func scanRefs(rows pgx.Rows) ([]FileRef, error) {
	defer rows.Close()
	var refs []FileRef
	for rows.Next() {
		var ref FileRef
		if err := rows.Scan(&ref.KbDocID, &ref.DocID, &ref.FileName, &ref.ObjectKey); err != nil {
			return nil, fmt.Errorf("scanning link row, %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
