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

package documents_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
	"github.com/DEVunderdog/NeuroStash/pkg/fake"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/objectstore"
	"github.com/DEVunderdog/NeuroStash/pkg/services/documents"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDocuments(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Documents Service")
}

// docLedger is an in-memory stand-in for the documents registry.
type docLedger struct {
	mu     sync.Mutex
	nextID int64
	docs   map[int64]ledger.Document
}

func newDocLedger() *docLedger {
	return &docLedger{docs: map[int64]ledger.Document{}}
}

func (l *docLedger) RegisterDocument(_ context.Context, userID int64, fileName, objectKey string) (ledger.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, doc := range l.docs {
		if doc.UserID == userID && doc.FileName == fileName {
			return ledger.Document{}, nserrors.NewConflict("document %q already registered", fileName)
		}
	}
	l.nextID++
	doc := ledger.Document{
		ID: l.nextID, UserID: userID, FileName: fileName, ObjectKey: objectKey,
		LockStatus: true, OpStatus: ledger.StatusPending,
	}
	l.docs[doc.ID] = doc
	return doc, nil
}

func (l *docLedger) FinalizeDocument(_ context.Context, userID, docID int64, success bool) (ledger.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, ok := l.docs[docID]
	if !ok || doc.UserID != userID {
		return ledger.Document{}, nserrors.ErrDocumentNotFound
	}
	doc.LockStatus = false
	doc.OpStatus = ledger.StatusFailed
	if success {
		doc.OpStatus = ledger.StatusSuccess
	}
	l.docs[docID] = doc
	return doc, nil
}

func (l *docLedger) ListDocuments(_ context.Context, userID int64) ([]ledger.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Document
	for _, doc := range l.docs {
		if doc.UserID == userID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (l *docLedger) LockDocumentsForDeletion(_ context.Context, userID int64, docIDs []int64) ([]ledger.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Document
	for _, id := range docIDs {
		doc, ok := l.docs[id]
		if !ok || doc.UserID != userID {
			return nil, &nserrors.DocsNotFoundError{IDs: []int64{id}}
		}
		doc.LockStatus = true
		doc.OpStatus = ledger.StatusPending
		l.docs[id] = doc
		out = append(out, doc)
	}
	return out, nil
}

func (l *docLedger) DeleteLockedDocuments(_ context.Context, userID int64, docIDs []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range docIDs {
		if doc, ok := l.docs[id]; ok && doc.UserID == userID {
			delete(l.docs, id)
		}
	}
	return nil
}

func (l *docLedger) UnlockDocuments(_ context.Context, docIDs []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range docIDs {
		if doc, ok := l.docs[id]; ok {
			doc.LockStatus = false
			doc.OpStatus = ledger.StatusFailed
			l.docs[id] = doc
		}
	}
	return nil
}

var ctx context.Context
var store *docLedger
var s3api *fake.S3API
var service *documents.Service

var _ = BeforeEach(func() {
	ctx = context.Background()
	store = newDocLedger()
	s3api = &fake.S3API{}
	service = documents.NewService(store, objectstore.NewDefaultProvider(s3api, &fake.S3Presigner{}, "neurostash-docs", time.Minute))
})

var _ = AfterEach(func() {
	s3api.Reset()
})

var _ = Describe("RegisterUpload", func() {
	It("should register a locked pending row with a presigned URL", func() {
		upload, err := service.RegisterUpload(ctx, 3, "notes.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(upload.Presigned.Method).To(Equal("PUT"))
		Expect(upload.Document.LockStatus).To(BeTrue())
		Expect(upload.Document.OpStatus).To(Equal(ledger.StatusPending))
		Expect(upload.Document.ObjectKey).To(HavePrefix("documents/3/"))
		Expect(upload.Document.ObjectKey).To(HaveSuffix(".txt"))
	})
	It("should reject disallowed extensions before registering anything", func() {
		_, err := service.RegisterUpload(ctx, 3, "malware.exe")
		Expect(nserrors.IsValidation(err)).To(BeTrue())
		Expect(store.docs).To(BeEmpty())
	})
	It("should surface duplicate file names as conflicts", func() {
		_, err := service.RegisterUpload(ctx, 3, "notes.txt")
		Expect(err).ToNot(HaveOccurred())
		_, err = service.RegisterUpload(ctx, 3, "notes.txt")
		Expect(nserrors.IsConflict(err)).To(BeTrue())
	})
})

var _ = Describe("FinalizeUpload", func() {
	It("should settle the row by the client's confirmation", func() {
		upload, err := service.RegisterUpload(ctx, 3, "notes.txt")
		Expect(err).ToNot(HaveOccurred())

		doc, err := service.FinalizeUpload(ctx, 3, upload.Document.ID, true)
		Expect(err).ToNot(HaveOccurred())
		Expect(doc.LockStatus).To(BeFalse())
		Expect(doc.OpStatus).To(Equal(ledger.StatusSuccess))
	})
	It("should not finalize another user's document", func() {
		upload, err := service.RegisterUpload(ctx, 3, "notes.txt")
		Expect(err).ToNot(HaveOccurred())
		_, err = service.FinalizeUpload(ctx, 4, upload.Document.ID, true)
		Expect(nserrors.IsNotFound(err)).To(BeTrue())
	})
})

var _ = Describe("Delete", func() {
	It("should remove objects and rows together", func() {
		upload, err := service.RegisterUpload(ctx, 3, "notes.txt")
		Expect(err).ToNot(HaveOccurred())
		s3api.PutObject(upload.Document.ObjectKey, []byte("x"))

		Expect(service.Delete(ctx, 3, []int64{upload.Document.ID})).To(Succeed())
		Expect(store.docs).To(BeEmpty())
		Expect(s3api.HasObject(upload.Document.ObjectKey)).To(BeFalse())
	})
	It("should unlock the rows when the object delete fails", func() {
		upload, err := service.RegisterUpload(ctx, 3, "notes.txt")
		Expect(err).ToNot(HaveOccurred())
		s3api.DeleteObjectsBehavior.Error.Set(fmt.Errorf("denied"), fake.MaxCalls(1))

		Expect(service.Delete(ctx, 3, []int64{upload.Document.ID})).ToNot(Succeed())
		doc := store.docs[upload.Document.ID]
		Expect(doc.LockStatus).To(BeFalse())
		Expect(doc.OpStatus).To(Equal(ledger.StatusFailed))
	})
	It("should report unknown documents", func() {
		err := service.Delete(ctx, 3, []int64{999})
		var notFound *nserrors.DocsNotFoundError
		Expect(errors.As(err, &notFound)).To(BeTrue())
		Expect(notFound.IDs).To(Equal([]int64{999}))
	})
})
