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

// Package provisioner maintains the warm pool of vector collections: a
// reconcile worker tops the pool up to its minimum and a cleanup worker
// drops failed, stuck and orphaned collections.
package provisioner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/logging"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/names"
)

const (
	// reconcileFallback bounds how long the pool can stay below minimum if
	// every trigger is lost.
	reconcileFallback = 300 * time.Second
	// stuckProvisioningAge is how old a PROVISIONING row must be before the
	// cleanup pass reclaims it.
	stuckProvisioningAge = 10 * time.Minute
)

// Ledger is the slice of the store the provisioner drives.
type Ledger interface {
	InsertProvisioningCollection(ctx context.Context, name string) (ledger.VectorCollection, error)
	MarkCollectionAvailable(ctx context.Context, id int64) error
	MarkCollectionFailed(ctx context.Context, id int64) error
	DeleteCollectionRow(ctx context.Context, id int64) error
	CountAvailableCollections(ctx context.Context) (int64, error)
	CountProvisioningSince(ctx context.Context, since time.Time) (int64, error)
	ListCleanupCandidates(ctx context.Context, stuckBefore time.Time) ([]ledger.VectorCollection, error)
}

type VectorStore interface {
	CreateCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error
}

type Options struct {
	MinPoolSize   int
	MaxPoolSize   int
	TimeThreshold time.Duration
	MaxConcurrent int
}

type Controller struct {
	ledger      Ledger
	vectorStore VectorStore
	opts        Options

	reconcileTrigger chan struct{}
	cleanupTrigger   chan struct{}
}

func NewController(ldg Ledger, vectorStore VectorStore, opts Options) *Controller {
	return &Controller{
		ledger:      ldg,
		vectorStore: vectorStore,
		opts:        opts,
		// Single-slot channels coalesce bursts of triggers into one pass.
		reconcileTrigger: make(chan struct{}, 1),
		cleanupTrigger:   make(chan struct{}, 1),
	}
}

// TriggerReconcile requests a top-up pass without blocking. A full slot
// means a pass is already pending.
func (c *Controller) TriggerReconcile() {
	select {
	case c.reconcileTrigger <- struct{}{}:
	default:
	}
}

// TriggerCleanup requests a cleanup pass without blocking.
func (c *Controller) TriggerCleanup() {
	select {
	case c.cleanupTrigger <- struct{}{}:
	default:
	}
}

// Start runs both workers until the context is canceled. The pool fills
// immediately rather than waiting out the first fallback interval.
func (c *Controller) Start(ctx context.Context) error {
	c.TriggerReconcile()
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return c.reconcileWorker(ctx) })
	group.Go(func() error { return c.cleanupWorker(ctx) })
	return group.Wait()
}

func (c *Controller) reconcileWorker(ctx context.Context) error {
	timer := time.NewTimer(reconcileFallback)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.reconcileTrigger:
		case <-timer.C:
		}
		drain(c.reconcileTrigger)
		if err := c.Reconcile(ctx); err != nil {
			logging.FromContext(ctx).With("controller", "provisioner").Errorf("reconciling pool, %s", err)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(reconcileFallback)
	}
}

func (c *Controller) cleanupWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.cleanupTrigger:
		}
		drain(c.cleanupTrigger)
		if err := c.Cleanup(ctx); err != nil {
			logging.FromContext(ctx).With("controller", "provisioner").Errorf("cleaning up collections, %s", err)
		}
	}
}

// Reconcile tops the pool up to MinPoolSize, counting young PROVISIONING
// rows as expected arrivals. Individual failures are logged; the pass errors
// only when every provisioning attempt failed.
func (c *Controller) Reconcile(ctx context.Context) error {
	available, err := c.ledger.CountAvailableCollections(ctx)
	if err != nil {
		return err
	}
	provisioning, err := c.ledger.CountProvisioningSince(ctx, time.Now().Add(-c.opts.TimeThreshold))
	if err != nil {
		return err
	}
	need := int64(c.opts.MinPoolSize) - (available + provisioning)
	if need <= 0 {
		return nil
	}
	if need > int64(c.opts.MaxPoolSize) {
		need = int64(c.opts.MaxPoolSize)
	}
	logging.FromContext(ctx).With("controller", "provisioner").
		Infof("pool below minimum, provisioning %d collections", need)

	sem := semaphore.NewWeighted(int64(c.opts.MaxConcurrent))
	var succeeded atomic.Int64
	group, gctx := errgroup.WithContext(ctx)
	for i := int64(0); i < need; i++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer sem.Release(1)
			if err := c.provisionOne(gctx); err != nil {
				logging.FromContext(gctx).With("controller", "provisioner").Errorf("provisioning collection, %s", err)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = group.Wait()
	provisionedCollections.Add(float64(succeeded.Load()))
	if succeeded.Load() == 0 {
		return fmt.Errorf("all %d provisioning attempts failed", need)
	}
	return nil
}

// provisionOne records intent in the ledger first, creates the collection,
// then publishes it as AVAILABLE. A create failure deletes the row as the
// compensating action, falling back to FAILED so the cleanup pass reaps it
// without waiting for the stuck-provisioning age; a failure after create
// leaves a PROVISIONING row the cleanup pass will reap together with its
// collection.
func (c *Controller) provisionOne(ctx context.Context) error {
	name := names.RandomCollectionName()
	row, err := c.ledger.InsertProvisioningCollection(ctx, name)
	if err != nil {
		return err
	}
	if err := c.vectorStore.CreateCollection(ctx, name); err != nil {
		if deleteErr := c.ledger.DeleteCollectionRow(ctx, row.ID); deleteErr != nil {
			logging.FromContext(ctx).With("collection", name).
				Errorf("compensating delete after create failure, %s", deleteErr)
			if markErr := c.ledger.MarkCollectionFailed(ctx, row.ID); markErr != nil {
				logging.FromContext(ctx).With("collection", name).
					Errorf("marking collection failed, %s", markErr)
			}
		}
		return err
	}
	return c.ledger.MarkCollectionAvailable(ctx, row.ID)
}

// Cleanup drops every reclaimable collection: vector store first, ledger row
// second, so a failed drop leaves the row for the next pass.
func (c *Controller) Cleanup(ctx context.Context) error {
	candidates, err := c.ledger.ListCleanupCandidates(ctx, time.Now().Add(-stuckProvisioningAge))
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	sem := semaphore.NewWeighted(int64(c.opts.MaxConcurrent))
	group, gctx := errgroup.WithContext(ctx)
	for _, candidate := range candidates {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer sem.Release(1)
			if err := c.vectorStore.DropCollection(gctx, candidate.CollectionName); err != nil {
				logging.FromContext(gctx).With("collection", candidate.CollectionName).
					Errorf("dropping collection, %s", err)
				return nil
			}
			if err := c.ledger.DeleteCollectionRow(gctx, candidate.ID); err != nil {
				logging.FromContext(gctx).With("collection", candidate.CollectionName).
					Errorf("deleting collection row, %s", err)
				return nil
			}
			cleanedCollections.Inc()
			return nil
		})
	}
	return group.Wait()
}

func drain(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
