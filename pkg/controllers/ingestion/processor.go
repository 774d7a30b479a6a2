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
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/DEVunderdog/NeuroStash/pkg/chunker"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
	"github.com/DEVunderdog/NeuroStash/pkg/loaders"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/embeddings"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/objectstore"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue/messages"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/vectorstore"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/logging"
)

// ProcessorLedger is the slice of the store the worker writes through.
type ProcessorLedger interface {
	FinalizeJob(ctx context.Context, jobID int64, indexResults, deleteResults []ledger.LinkResult) error
	MarkJobFailed(ctx context.Context, jobID int64) error
	WithParentChunks(ctx context.Context, kbDocID, documentID int64, contents []string, fn func(parentIDs []int64) error) error
	DeleteDocumentChunks(ctx context.Context, documentID int64) error
}

// VectorStore is the write-side slice of the vector store provider.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, entities []vectorstore.Entity) error
	DeleteByFileID(ctx context.Context, collection string, fileID int64) error
}

// DefaultProcessor executes one message: index and delete lists run as two
// parallel sub-tasks, each file bounded by a shared semaphore, and every
// outcome lands in one final ledger transaction.
type DefaultProcessor struct {
	ledger      ProcessorLedger
	objectStore objectstore.Provider
	vectorStore VectorStore
	embedder    embeddings.Provider
	loaders     *loaders.Registry
	chunker     *chunker.Chunker

	maxConcurrent int64
}

func NewDefaultProcessor(
	ldg ProcessorLedger,
	objectStore objectstore.Provider,
	vectorStore VectorStore,
	embedder embeddings.Provider,
	registry *loaders.Registry,
	chk *chunker.Chunker,
	maxConcurrent int,
) *DefaultProcessor {
	return &DefaultProcessor{
		ledger:        ldg,
		objectStore:   objectStore,
		vectorStore:   vectorStore,
		embedder:      embedder,
		loaders:       registry,
		chunker:       chk,
		maxConcurrent: int64(maxConcurrent),
	}
}

// Process runs both lists, finalizes the job, and returns non-nil only when
// the final commit failed, so the consumer never acks a message whose
// outcome is unrecorded. Individual file failures become FAILED link rows,
// not processing errors.
func (p *DefaultProcessor) Process(ctx context.Context, envelope messages.Envelope) error {
	sem := semaphore.NewWeighted(p.maxConcurrent)
	var wg sync.WaitGroup
	var indexResults, deleteResults []ledger.LinkResult

	wg.Add(2)
	go func() {
		defer wg.Done()
		indexResults = p.runAll(ctx, sem, envelope.IndexKbDocID, func(ref ledger.FileRef) error {
			return p.indexOne(ctx, envelope, ref)
		})
	}()
	go func() {
		defer wg.Done()
		deleteResults = p.runAll(ctx, sem, envelope.DeleteKbDocID, func(ref ledger.FileRef) error {
			return p.deleteOne(ctx, envelope, ref)
		})
	}()
	wg.Wait()

	if err := p.ledger.FinalizeJob(ctx, envelope.IngestionJobID, indexResults, deleteResults); err != nil {
		logging.FromContext(ctx).With("job-id", envelope.IngestionJobID).
			Errorf("critical: finalizing job, %s", err)
		if failErr := p.ledger.MarkJobFailed(ctx, envelope.IngestionJobID); failErr != nil {
			logging.FromContext(ctx).With("job-id", envelope.IngestionJobID).
				Errorf("critical: marking job failed, %s", failErr)
		}
		return err
	}
	return nil
}

// runAll processes one list under the semaphore, converting per-file errors
// into FAILED results rather than aborting the batch.
func (p *DefaultProcessor) runAll(ctx context.Context, sem *semaphore.Weighted, refs []ledger.FileRef, one func(ledger.FileRef) error) []ledger.LinkResult {
	if len(refs) == 0 {
		return nil
	}
	results := make([]ledger.LinkResult, len(refs))
	var wg sync.WaitGroup
	for i, ref := range refs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Canceled mid-batch; unprocessed files fail and the job
			// settles FAILED for a later re-admission.
			for j := i; j < len(refs); j++ {
				results[j] = ledger.LinkResult{KbDocID: refs[j].KbDocID, Status: ledger.StatusFailed}
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			status := ledger.StatusSuccess
			if err := one(ref); err != nil {
				status = ledger.StatusFailed
				logging.FromContext(ctx).With("kb-doc-id", ref.KbDocID, "file", ref.FileName).
					Errorf("processing file, %s", err)
			}
			results[i] = ledger.LinkResult{KbDocID: ref.KbDocID, Status: status}
		}()
	}
	wg.Wait()
	return results
}
