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
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue/messages"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/logging"
)

const (
	// idleSleep is the pause after an empty receive before polling again.
	idleSleep = time.Second
	// shutdownGrace is how long in-flight processors are awaited after the
	// consumer's context is canceled.
	shutdownGrace = 5 * time.Second
)

// Processor handles one parsed message end to end. A nil return means the
// message may be acked; anything else leaves it for redelivery.
type Processor interface {
	Process(ctx context.Context, envelope messages.Envelope) error
}

// Consumer is the single long-polling loop feeding the processor. Messages
// in a batch are independent and dispatched concurrently.
type Consumer struct {
	queue     queue.Provider
	processor Processor

	batchSize   int
	waitSeconds int

	// seen short-circuits immediate redeliveries of already-processed
	// bodies. Idempotent processing is the real guarantee; this only saves
	// the wasted work.
	seen *cache.Cache
}

func NewConsumer(q queue.Provider, processor Processor, batchSize, waitSeconds int) *Consumer {
	return &Consumer{
		queue:       q,
		processor:   processor,
		batchSize:   batchSize,
		waitSeconds: waitSeconds,
		seen:        cache.New(10*time.Minute, 30*time.Minute),
	}
}

// Start polls until the context is canceled, then waits up to shutdownGrace
// for in-flight messages. Unacked messages redeliver after the broker's
// visibility timeout.
func (c *Consumer) Start(ctx context.Context) error {
	var inflight sync.WaitGroup
	defer c.awaitInflight(ctx, &inflight)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		msgs, err := c.queue.Receive(ctx, c.batchSize, c.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.FromContext(ctx).With("controller", "ingestion").Errorf("receiving messages, %s", err)
			c.sleep(ctx, idleSleep)
			continue
		}
		if len(msgs) == 0 {
			c.sleep(ctx, idleSleep)
			continue
		}
		var batch sync.WaitGroup
		for _, msg := range msgs {
			inflight.Add(1)
			batch.Add(1)
			go func() {
				defer inflight.Done()
				defer batch.Done()
				c.handle(ctx, msg)
			}()
		}
		batch.Wait()
	}
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) {
	logger := logging.FromContext(ctx).With("controller", "ingestion", "job-id", msg.Envelope.IngestionJobID)
	fingerprint, err := msg.Envelope.Fingerprint()
	if err == nil {
		if _, duplicate := c.seen.Get(fingerprint); duplicate {
			logger.Debugf("acking duplicate delivery")
			c.ack(ctx, msg, logger)
			return
		}
	}
	start := time.Now()
	if err := c.processor.Process(ctx, msg.Envelope); err != nil {
		// Not acked; the broker redelivers after the visibility timeout.
		processedMessages.WithLabelValues("failed").Inc()
		logger.Errorf("processing message, %s", err)
		return
	}
	processedMessages.WithLabelValues("succeeded").Inc()
	processDuration.Observe(time.Since(start).Seconds())
	if fingerprint != "" {
		c.seen.Set(fingerprint, struct{}{}, cache.DefaultExpiration)
	}
	c.ack(ctx, msg, logger)
}

func (c *Consumer) ack(ctx context.Context, msg queue.Message, logger interface{ Errorf(string, ...interface{}) }) {
	if err := c.queue.Ack(ctx, msg.ReceiptHandle); err != nil {
		// Safe to leave: reprocessing is idempotent and the duplicate
		// cache absorbs the redelivery.
		logger.Errorf("acking message, %s", err)
	}
}

func (c *Consumer) awaitInflight(ctx context.Context, inflight *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logging.FromContext(ctx).With("controller", "ingestion").
			Warnf("shutdown grace elapsed with messages in flight; they will redeliver")
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
