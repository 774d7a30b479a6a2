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

package provisioner_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DEVunderdog/NeuroStash/pkg/controllers/provisioner"
	"github.com/DEVunderdog/NeuroStash/pkg/fake"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestProvisioner(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Provisioner")
}

// poolLedger is an in-memory stand-in for the collection pool tables.
type poolLedger struct {
	InsertError fake.AtomicError
	MarkError   fake.AtomicError
	DeleteError fake.AtomicError

	mu     sync.Mutex
	nextID int64
	rows   map[int64]ledger.VectorCollection
}

func newPoolLedger() *poolLedger {
	return &poolLedger{rows: map[int64]ledger.VectorCollection{}}
}

func (l *poolLedger) add(name string, status ledger.CollectionStatus, createdAt time.Time) ledger.VectorCollection {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	row := ledger.VectorCollection{ID: l.nextID, CollectionName: name, Status: status, CreatedAt: createdAt}
	l.rows[row.ID] = row
	return row
}

func (l *poolLedger) count(status ledger.CollectionStatus) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, row := range l.rows {
		if row.Status == status {
			n++
		}
	}
	return n
}

func (l *poolLedger) InsertProvisioningCollection(_ context.Context, name string) (ledger.VectorCollection, error) {
	if err := l.InsertError.Get(); err != nil {
		return ledger.VectorCollection{}, err
	}
	return l.add(name, ledger.CollectionProvisioning, time.Now()), nil
}

func (l *poolLedger) MarkCollectionAvailable(_ context.Context, id int64) error {
	if err := l.MarkError.Get(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row := l.rows[id]
	row.Status = ledger.CollectionAvailable
	l.rows[id] = row
	return nil
}

func (l *poolLedger) MarkCollectionFailed(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := l.rows[id]
	row.Status = ledger.CollectionFailed
	l.rows[id] = row
	return nil
}

func (l *poolLedger) DeleteCollectionRow(_ context.Context, id int64) error {
	if err := l.DeleteError.Get(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rows, id)
	return nil
}

func (l *poolLedger) CountAvailableCollections(context.Context) (int64, error) {
	return int64(l.count(ledger.CollectionAvailable)), nil
}

func (l *poolLedger) CountProvisioningSince(_ context.Context, since time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, row := range l.rows {
		if row.Status == ledger.CollectionProvisioning && row.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (l *poolLedger) ListCleanupCandidates(_ context.Context, stuckBefore time.Time) ([]ledger.VectorCollection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.VectorCollection
	for _, row := range l.rows {
		switch row.Status {
		case ledger.CollectionFailed, ledger.CollectionCleanup:
			out = append(out, row)
		case ledger.CollectionProvisioning:
			if row.CreatedAt.Before(stuckBefore) {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

var ctx context.Context
var pool *poolLedger
var vectorStore *fake.VectorStore
var controller *provisioner.Controller

var _ = BeforeEach(func() {
	ctx = context.Background()
	pool = newPoolLedger()
	vectorStore = &fake.VectorStore{}
	controller = provisioner.NewController(pool, vectorStore, provisioner.Options{
		MinPoolSize:   3,
		MaxPoolSize:   10,
		TimeThreshold: 5 * time.Minute,
		MaxConcurrent: 5,
	})
})

var _ = AfterEach(func() {
	vectorStore.Reset()
})

var _ = Describe("Reconcile", func() {
	It("should top an empty pool up to the minimum", func() {
		Expect(controller.Reconcile(ctx)).To(Succeed())
		Expect(pool.count(ledger.CollectionAvailable)).To(Equal(3))
		Expect(vectorStore.CollectionNames()).To(HaveLen(3))
	})
	It("should do nothing when the pool meets the minimum", func() {
		for i := 0; i < 3; i++ {
			pool.add(fmt.Sprintf("kb_ready_%d", i), ledger.CollectionAvailable, time.Now())
		}
		Expect(controller.Reconcile(ctx)).To(Succeed())
		Expect(pool.count(ledger.CollectionAvailable)).To(Equal(3))
		Expect(vectorStore.CollectionNames()).To(BeEmpty())
	})
	It("should count recent provisioning rows as expected arrivals", func() {
		pool.add("kb_available", ledger.CollectionAvailable, time.Now())
		pool.add("kb_young", ledger.CollectionProvisioning, time.Now())
		Expect(controller.Reconcile(ctx)).To(Succeed())
		// 3 - (1 available + 1 young provisioning) = 1 new collection.
		Expect(vectorStore.CollectionNames()).To(HaveLen(1))
	})
	It("should not count stuck provisioning rows", func() {
		pool.add("kb_stuck", ledger.CollectionProvisioning, time.Now().Add(-time.Hour))
		Expect(controller.Reconcile(ctx)).To(Succeed())
		Expect(vectorStore.CollectionNames()).To(HaveLen(3))
	})
	It("should compensate a failed create by deleting the row", func() {
		vectorStore.CreateCollectionError.Set(fmt.Errorf("milvus down"), fake.MaxCalls(1))
		Expect(controller.Reconcile(ctx)).To(Succeed())
		Expect(pool.count(ledger.CollectionAvailable)).To(Equal(2))
		Expect(pool.count(ledger.CollectionProvisioning)).To(Equal(0))
	})
	It("should park the row as FAILED when the compensating delete also fails", func() {
		vectorStore.CreateCollectionError.Set(fmt.Errorf("milvus down"), fake.MaxCalls(1))
		pool.DeleteError.Set(fmt.Errorf("ledger down"), fake.MaxCalls(1))
		Expect(controller.Reconcile(ctx)).To(Succeed())
		Expect(pool.count(ledger.CollectionAvailable)).To(Equal(2))
		Expect(pool.count(ledger.CollectionFailed)).To(Equal(1))
	})
	It("should fail the pass only when every attempt fails", func() {
		vectorStore.CreateCollectionError.Set(fmt.Errorf("milvus down"), fake.MaxCalls(0))
		Expect(controller.Reconcile(ctx)).ToNot(Succeed())
		Expect(pool.count(ledger.CollectionAvailable)).To(Equal(0))
	})
})

var _ = Describe("Cleanup", func() {
	It("should drop failed, stuck and cleanup collections", func() {
		failed := pool.add("kb_failed", ledger.CollectionFailed, time.Now())
		parked := pool.add("kb_parked", ledger.CollectionCleanup, time.Now())
		stuck := pool.add("kb_stuck", ledger.CollectionProvisioning, time.Now().Add(-time.Hour))
		kept := pool.add("kb_young", ledger.CollectionProvisioning, time.Now())
		for _, row := range []ledger.VectorCollection{failed, parked, stuck} {
			Expect(vectorStore.CreateCollection(ctx, row.CollectionName)).To(Succeed())
		}

		Expect(controller.Cleanup(ctx)).To(Succeed())

		pool.mu.Lock()
		defer pool.mu.Unlock()
		Expect(pool.rows).To(HaveLen(1))
		Expect(pool.rows[kept.ID].CollectionName).To(Equal("kb_young"))
		Expect(vectorStore.CollectionNames()).To(BeEmpty())
	})
	It("should keep the row when the drop fails", func() {
		pool.add("kb_failed", ledger.CollectionFailed, time.Now())
		vectorStore.DropCollectionError.Set(fmt.Errorf("milvus down"), fake.MaxCalls(1))
		Expect(controller.Cleanup(ctx)).To(Succeed())
		Expect(pool.count(ledger.CollectionFailed)).To(Equal(1))
	})
})

var _ = Describe("Triggers", func() {
	It("should coalesce repeated triggers without blocking", func() {
		for i := 0; i < 100; i++ {
			controller.TriggerReconcile()
			controller.TriggerCleanup()
		}
	})
	It("should fill an empty pool at startup without any trigger", func() {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- controller.Start(runCtx) }()

		Eventually(func() int { return pool.count(ledger.CollectionAvailable) }).
			WithTimeout(3 * time.Second).Should(Equal(3))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
	It("should serve a trigger from Start", func() {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- controller.Start(runCtx) }()

		controller.TriggerReconcile()
		Eventually(func() int { return pool.count(ledger.CollectionAvailable) }).
			WithTimeout(3 * time.Second).Should(Equal(3))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
