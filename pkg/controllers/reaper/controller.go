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

// Package reaper reconciles ledger state that drifted from the object
// store: documents stranded in conflicted lock/status combinations and
// ingestion jobs nothing will ever finish. Each pass also hands the
// collection pool a cleanup nudge so failed and stuck collections are
// reclaimed on the schedule, not only on knowledge base deletes.
package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/logging"
)

type Ledger interface {
	ListConflictedDocuments(ctx context.Context) ([]ledger.Document, error)
	ResolveConflictedDocument(ctx context.Context, docID int64, objectPresent bool) error
	FailStuckJobs(ctx context.Context, olderThan time.Time) (int64, error)
}

type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// PoolTrigger is the cleanup surface of the collection pool controller.
type PoolTrigger interface {
	TriggerCleanup()
}

type Options struct {
	Schedule          string
	StuckJobThreshold time.Duration
}

type Controller struct {
	ledger      Ledger
	objectStore ObjectStore
	pool        PoolTrigger
	opts        Options

	trigger chan struct{}
}

func NewController(ldg Ledger, objectStore ObjectStore, pool PoolTrigger, opts Options) *Controller {
	return &Controller{
		ledger:      ldg,
		objectStore: objectStore,
		pool:        pool,
		opts:        opts,
		trigger:     make(chan struct{}, 1),
	}
}

// Trigger requests an immediate pass without blocking.
func (c *Controller) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Start schedules the cron pass and serves manual triggers until the
// context is canceled.
func (c *Controller) Start(ctx context.Context) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(c.opts.Schedule, c.Trigger); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.trigger:
		}
		if err := c.Run(ctx); err != nil {
			logging.FromContext(ctx).With("controller", "reaper").Errorf("reaping, %s", err)
		}
	}
}

// Run executes both passes; one failing does not stop the other. The pool
// cleanup nudge fires regardless so reclaimable collections never outlive
// the schedule.
func (c *Controller) Run(ctx context.Context) error {
	defer c.pool.TriggerCleanup()
	return multierr.Append(c.reconcileDocuments(ctx), c.failStuckJobs(ctx))
}

// reconcileDocuments probes each conflicted row against the object store:
// present objects settle to unlocked SUCCESS, absent ones lose their row.
func (c *Controller) reconcileDocuments(ctx context.Context) error {
	docs, err := c.ledger.ListConflictedDocuments(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, doc := range docs {
		present, err := c.objectStore.Exists(ctx, doc.ObjectKey)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := c.ledger.ResolveConflictedDocument(ctx, doc.ID, present); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		resolvedDocuments.Inc()
	}
	return errs
}

func (c *Controller) failStuckJobs(ctx context.Context) error {
	count, err := c.ledger.FailStuckJobs(ctx, time.Now().Add(-c.opts.StuckJobThreshold))
	if err != nil {
		return err
	}
	if count > 0 {
		logging.FromContext(ctx).With("controller", "reaper").Infof("failed %d stuck jobs", count)
		failedStuckJobs.Add(float64(count))
	}
	return nil
}
