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

package ingestion_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DEVunderdog/NeuroStash/pkg/chunker"
	"github.com/DEVunderdog/NeuroStash/pkg/controllers/ingestion"
	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
	"github.com/DEVunderdog/NeuroStash/pkg/fake"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
	"github.com/DEVunderdog/NeuroStash/pkg/loaders"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/objectstore"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue/messages"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestIngestion(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ingestion")
}

// procLedger is an in-memory stand-in for the worker's slice of the store.
// Parent chunk ids are keyed by (kbDocID, chunkIndex) so redeliveries see
// the same ids, matching the unique constraint the real store upserts on.
type procLedger struct {
	FinalizeError fake.AtomicError

	mu            sync.Mutex
	nextParentID  int64
	parentIDs     map[int64][]int64 // kbDocID -> parent id per chunk index
	chunksByDoc   map[int64][]string
	indexResults  []ledger.LinkResult
	deleteResults []ledger.LinkResult
	finalized     int
	markedFailed  int
}

func newProcLedger() *procLedger {
	return &procLedger{
		parentIDs:   map[int64][]int64{},
		chunksByDoc: map[int64][]string{},
	}
}

func (l *procLedger) FinalizeJob(_ context.Context, _ int64, indexResults, deleteResults []ledger.LinkResult) error {
	if err := l.FinalizeError.Get(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finalized++
	l.indexResults = indexResults
	l.deleteResults = deleteResults
	return nil
}

func (l *procLedger) MarkJobFailed(context.Context, int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markedFailed++
	return nil
}

func (l *procLedger) WithParentChunks(_ context.Context, kbDocID, documentID int64, contents []string, fn func(parentIDs []int64) error) error {
	l.mu.Lock()
	ids := l.parentIDs[kbDocID]
	for len(ids) < len(contents) {
		l.nextParentID++
		ids = append(ids, l.nextParentID)
	}
	ids = ids[:len(contents)]
	l.parentIDs[kbDocID] = ids
	l.chunksByDoc[documentID] = contents
	l.mu.Unlock()
	return fn(ids)
}

func (l *procLedger) DeleteDocumentChunks(_ context.Context, documentID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.chunksByDoc, documentID)
	return nil
}

func (l *procLedger) results() ([]ledger.LinkResult, []ledger.LinkResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.indexResults, l.deleteResults
}

var (
	ctx         context.Context
	store       *procLedger
	s3api       *fake.S3API
	objectStore objectstore.Provider
	vectorStore *fake.VectorStore
	embedder    *fake.Embedder
	processor   *ingestion.DefaultProcessor
)

var _ = BeforeEach(func() {
	ctx = context.Background()
	store = newProcLedger()
	s3api = &fake.S3API{}
	objectStore = objectstore.NewDefaultProvider(s3api, &fake.S3Presigner{}, "neurostash-docs", time.Minute)
	vectorStore = &fake.VectorStore{}
	embedder = fake.NewEmbedder(32)
	processor = ingestion.NewDefaultProcessor(
		store, objectStore, vectorStore, embedder,
		loaders.NewRegistry(), chunker.New(embedder, chunker.DefaultConfig()), 4,
	)
})

var _ = AfterEach(func() {
	s3api.Reset()
	vectorStore.Reset()
	embedder.Reset()
})

func indexEnvelope(refs ...ledger.FileRef) messages.Envelope {
	return messages.Envelope{
		IngestionJobID: 42,
		KbID:           7,
		CollectionName: "kb_clever_fox_a1b2c3",
		Category:       "contracts",
		UserID:         3,
		IndexKbDocID:   refs,
	}
}

var _ = Describe("Processor", func() {
	ref := ledger.FileRef{KbDocID: 11, DocID: 21, FileName: "contract.txt", ObjectKey: "documents/3/abc.txt"}
	body := "The first clause covers payment. The second clause covers delivery. " +
		"The third clause covers penalties. The final clause covers termination."

	It("should index a file end to end", func() {
		s3api.PutObject(ref.ObjectKey, []byte(body))
		Expect(processor.Process(ctx, indexEnvelope(ref))).To(Succeed())

		indexResults, _ := store.results()
		Expect(indexResults).To(Equal([]ledger.LinkResult{{KbDocID: 11, Status: ledger.StatusSuccess}}))

		entities := vectorStore.Entities("kb_clever_fox_a1b2c3")
		Expect(entities).ToNot(BeEmpty())
		for _, e := range entities {
			Expect(e.UserID).To(Equal(int64(3)))
			Expect(e.FileID).To(Equal(int64(11)))
			Expect(e.Category).To(Equal("contracts"))
			Expect(e.FileName).To(Equal("contract.txt"))
			Expect(e.DenseVector).To(HaveLen(32))
			Expect(e.ParentID).To(BeNumerically(">", 0))
		}
		Expect(store.chunksByDoc[ref.DocID]).ToNot(BeEmpty())
	})
	It("should upsert the same entity ids on redelivery", func() {
		s3api.PutObject(ref.ObjectKey, []byte(body))
		envelope := indexEnvelope(ref)

		Expect(processor.Process(ctx, envelope)).To(Succeed())
		first := vectorStore.Entities(envelope.CollectionName)

		Expect(processor.Process(ctx, envelope)).To(Succeed())
		second := vectorStore.Entities(envelope.CollectionName)

		Expect(second).To(HaveLen(len(first)))
		for id := range first {
			Expect(second).To(HaveKey(id))
		}
		Expect(store.finalized).To(Equal(2))
	})
	It("should fail the link for a missing object and still finalize", func() {
		Expect(processor.Process(ctx, indexEnvelope(ref))).To(Succeed())
		indexResults, _ := store.results()
		Expect(indexResults).To(Equal([]ledger.LinkResult{{KbDocID: 11, Status: ledger.StatusFailed}}))
	})
	It("should fail the link for an unsupported extension without downloading", func() {
		bad := ledger.FileRef{KbDocID: 12, DocID: 22, FileName: "tool.exe", ObjectKey: "documents/3/tool.exe"}
		Expect(processor.Process(ctx, indexEnvelope(bad))).To(Succeed())
		indexResults, _ := store.results()
		Expect(indexResults[0].Status).To(Equal(ledger.StatusFailed))
		Expect(s3api.GetObjectBehavior.Calls()).To(Equal(0))
	})
	It("should keep independent files independent", func() {
		other := ledger.FileRef{KbDocID: 13, DocID: 23, FileName: "terms.txt", ObjectKey: "documents/3/missing.txt"}
		s3api.PutObject(ref.ObjectKey, []byte(body))
		Expect(processor.Process(ctx, indexEnvelope(ref, other))).To(Succeed())
		indexResults, _ := store.results()
		Expect(indexResults).To(ConsistOf(
			ledger.LinkResult{KbDocID: 11, Status: ledger.StatusSuccess},
			ledger.LinkResult{KbDocID: 13, Status: ledger.StatusFailed},
		))
	})
	It("should return the error and mark the job failed when finalize fails", func() {
		s3api.PutObject(ref.ObjectKey, []byte(body))
		store.FinalizeError.Set(context.DeadlineExceeded)
		Expect(processor.Process(ctx, indexEnvelope(ref))).ToNot(Succeed())
		Expect(store.markedFailed).To(Equal(1))
	})
	It("should delete entities and parent rows for a delete job", func() {
		s3api.PutObject(ref.ObjectKey, []byte(body))
		envelope := indexEnvelope(ref)
		Expect(processor.Process(ctx, envelope)).To(Succeed())
		Expect(vectorStore.Entities(envelope.CollectionName)).ToNot(BeEmpty())

		deleteEnvelope := envelope
		deleteEnvelope.IndexKbDocID = nil
		deleteEnvelope.DeleteKbDocID = []ledger.FileRef{ref}
		Expect(processor.Process(ctx, deleteEnvelope)).To(Succeed())

		Expect(vectorStore.Entities(envelope.CollectionName)).To(BeEmpty())
		Expect(store.chunksByDoc).ToNot(HaveKey(ref.DocID))
		_, deleteResults := store.results()
		Expect(deleteResults).To(Equal([]ledger.LinkResult{{KbDocID: 11, Status: ledger.StatusSuccess}}))
	})
	It("should treat deleting absent entities as success", func() {
		deleteEnvelope := indexEnvelope()
		deleteEnvelope.DeleteKbDocID = []ledger.FileRef{ref}
		Expect(processor.Process(ctx, deleteEnvelope)).To(Succeed())
		_, deleteResults := store.results()
		Expect(deleteResults[0].Status).To(Equal(ledger.StatusSuccess))
	})
})

var _ = Describe("VectorID", func() {
	It("should be deterministic", func() {
		Expect(ingestion.VectorID("a.txt", 5, 0)).To(Equal(ingestion.VectorID("a.txt", 5, 0)))
	})
	It("should differ across parents and chunk indices", func() {
		ids := map[string]struct{}{
			ingestion.VectorID("a.txt", 5, 0): {},
			ingestion.VectorID("a.txt", 5, 1): {},
			ingestion.VectorID("a.txt", 6, 0): {},
			ingestion.VectorID("b.txt", 5, 0): {},
		}
		Expect(ids).To(HaveLen(4))
	})
})

// countingProcessor records processed envelopes for consumer tests.
type countingProcessor struct {
	Err   fake.AtomicError
	count atomic.Int32
}

func (p *countingProcessor) Process(context.Context, messages.Envelope) error {
	if err := p.Err.Get(); err != nil {
		return err
	}
	p.count.Add(1)
	return nil
}

var _ = Describe("Consumer", func() {
	var sqsapi *fake.SQSAPI
	var provider *queue.DefaultProvider
	var worker *countingProcessor
	var consumer *ingestion.Consumer

	BeforeEach(func() {
		sqsapi = &fake.SQSAPI{}
		provider = queue.NewDefaultProvider(sqsapi, "https://sqs.us-east-1.amazonaws.com/000000000000/neurostash-ingestion")
		worker = &countingProcessor{}
		consumer = ingestion.NewConsumer(provider, worker, 5, 0)
	})

	AfterEach(func() {
		sqsapi.Reset()
	})

	enqueue := func(e messages.Envelope) {
		raw, err := e.Marshal()
		Expect(err).ToNot(HaveOccurred())
		sqsapi.Enqueue(string(raw))
	}

	It("should process and ack delivered messages", func() {
		ref := ledger.FileRef{KbDocID: 1, DocID: 2, FileName: "a.txt", ObjectKey: "k"}
		enqueue(indexEnvelope(ref))
		sqsapi.Enqueue("garbage that is not an envelope")

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- consumer.Start(runCtx) }()

		Eventually(func() int { return int(worker.count.Load()) }).
			WithTimeout(3 * time.Second).Should(Equal(1))
		Eventually(func() int { return sqsapi.DeleteMessageBehavior.Calls() }).
			WithTimeout(3 * time.Second).Should(Equal(1))

		cancel()
		Eventually(done).WithTimeout(10 * time.Second).Should(Receive(BeNil()))
	})
	It("should not ack failed messages", func() {
		ref := ledger.FileRef{KbDocID: 1, DocID: 2, FileName: "a.txt", ObjectKey: "k"}
		enqueue(indexEnvelope(ref))
		worker.Err.Set(context.DeadlineExceeded)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- consumer.Start(runCtx) }()

		Eventually(func() int { return sqsapi.ReceiveMessageBehavior.Calls() }).
			WithTimeout(3 * time.Second).Should(BeNumerically(">", 0))
		Consistently(func() int { return sqsapi.DeleteMessageBehavior.Calls() }).
			WithTimeout(500 * time.Millisecond).Should(Equal(0))

		cancel()
		Eventually(done).WithTimeout(10 * time.Second).Should(Receive(BeNil()))
	})
	It("should short-circuit an immediate duplicate delivery", func() {
		ref := ledger.FileRef{KbDocID: 1, DocID: 2, FileName: "a.txt", ObjectKey: "k"}
		enqueue(indexEnvelope(ref))
		enqueue(indexEnvelope(ref))

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- consumer.Start(runCtx) }()

		Eventually(func() int { return sqsapi.DeleteMessageBehavior.Calls() }).
			WithTimeout(3 * time.Second).Should(Equal(2))
		Expect(int(worker.count.Load())).To(BeNumerically("<=", 2))

		cancel()
		Eventually(done).WithTimeout(10 * time.Second).Should(Receive(BeNil()))
	})
})

// admLedger fakes the admission transaction: publish runs before the
// admission is recorded, and a publish failure discards it.
type admLedger struct {
	admissions int
}

func (l *admLedger) admit(ctx context.Context, params ledger.AdmitParams, publish ledger.PublishFunc) (ledger.Admission, error) {
	adm := ledger.Admission{
		Job:     ledger.IngestionJob{ID: 42, KbID: params.KbID, OpStatus: ledger.StatusPending},
		Binding: ledger.KnowledgeBaseBinding{KbID: params.KbID, CollectionName: "kb_clever_fox_a1b2c3", Category: "contracts"},
	}
	for _, id := range params.FileIDs {
		adm.Refs = append(adm.Refs, ledger.FileRef{
			KbDocID: id + 100, DocID: id, FileName: "a.txt", ObjectKey: "k",
		})
	}
	if err := publish(ctx, adm); err != nil {
		return ledger.Admission{}, err
	}
	l.admissions++
	return adm, nil
}

func (l *admLedger) AdmitIngestion(ctx context.Context, params ledger.AdmitParams, publish ledger.PublishFunc) (ledger.Admission, error) {
	return l.admit(ctx, params, publish)
}

func (l *admLedger) AdmitDeletion(ctx context.Context, params ledger.AdmitParams, publish ledger.PublishFunc) (ledger.Admission, error) {
	return l.admit(ctx, params, publish)
}

func (l *admLedger) GetIngestionJob(_ context.Context, _, jobID int64) (ledger.IngestionJob, error) {
	if jobID != 42 || l.admissions == 0 {
		return ledger.IngestionJob{}, nserrors.ErrJobNotFound
	}
	return ledger.IngestionJob{ID: jobID, OpStatus: ledger.StatusPending}, nil
}

var _ = Describe("Admitter", func() {
	var sqsapi *fake.SQSAPI
	var provider *queue.DefaultProvider
	var store *admLedger
	var admitter *ingestion.Admitter

	BeforeEach(func() {
		sqsapi = &fake.SQSAPI{}
		provider = queue.NewDefaultProvider(sqsapi, "https://sqs.us-east-1.amazonaws.com/000000000000/neurostash-ingestion")
		store = &admLedger{}
		admitter = ingestion.NewAdmitter(store, provider)
	})

	AfterEach(func() {
		sqsapi.Reset()
	})

	It("should reject requests without files", func() {
		_, err := admitter.AdmitIngestion(ctx, 3, ingestion.AdmitRequest{KbID: 7})
		Expect(nserrors.IsValidation(err)).To(BeTrue())
		Expect(store.admissions).To(Equal(0))
	})
	It("should publish the index message inside the admission", func() {
		job, err := admitter.AdmitIngestion(ctx, 3, ingestion.AdmitRequest{KbID: 7, FileIDs: []int64{1, 2}})
		Expect(err).ToNot(HaveOccurred())
		Expect(job.ID).To(Equal(int64(42)))
		Expect(sqsapi.QueueLen()).To(Equal(1))
		Expect(store.admissions).To(Equal(1))
	})
	It("should admit repeated file ids once", func() {
		_, err := admitter.AdmitIngestion(ctx, 3, ingestion.AdmitRequest{KbID: 7, FileIDs: []int64{1, 1, 2, 1}})
		Expect(err).ToNot(HaveOccurred())

		msgs, err := provider.Receive(ctx, 10, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Envelope.IndexKbDocID).To(HaveLen(2))

		_, err = admitter.AdmitDeletion(ctx, 3, ingestion.AdmitRequest{KbID: 7, FileIDs: []int64{5, 5}})
		Expect(err).ToNot(HaveOccurred())

		msgs, err = provider.Receive(ctx, 10, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Envelope.DeleteKbDocID).To(HaveLen(1))
	})
	It("should discard the admission when publishing fails", func() {
		sqsapi.SendMessageBehavior.Error.Set(context.DeadlineExceeded, fake.MaxCalls(0))
		_, err := admitter.AdmitIngestion(ctx, 3, ingestion.AdmitRequest{KbID: 7, FileIDs: []int64{1}})
		Expect(err).To(HaveOccurred())
		Expect(store.admissions).To(Equal(0))
	})
	It("should read back an admitted job by owner", func() {
		job, err := admitter.AdmitIngestion(ctx, 3, ingestion.AdmitRequest{KbID: 7, FileIDs: []int64{1}})
		Expect(err).ToNot(HaveOccurred())

		got, err := admitter.JobStatus(ctx, 3, job.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(got.OpStatus).To(Equal(ledger.StatusPending))

		_, err = admitter.JobStatus(ctx, 3, 99)
		Expect(nserrors.IsNotFound(err)).To(BeTrue())
	})
	It("should publish a delete message for deletion requests", func() {
		_, err := admitter.AdmitDeletion(ctx, 3, ingestion.AdmitRequest{KbID: 7, FileIDs: []int64{5}})
		Expect(err).ToNot(HaveOccurred())

		msgs, err := provider.Receive(ctx, 10, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Envelope.DeleteKbDocID).To(HaveLen(1))
		Expect(msgs[0].Envelope.IndexKbDocID).To(BeEmpty())
	})
})
