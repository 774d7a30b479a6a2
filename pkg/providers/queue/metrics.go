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

package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DEVunderdog/NeuroStash/pkg/metrics"
)

const subsystem = "queue"

var (
	sentMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "sent_messages_total",
		Help:      "Number of ingestion job messages sent to the queue.",
	})
	receivedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "received_messages_total",
		Help:      "Number of well-formed messages received from the queue.",
	})
	skippedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "skipped_messages_total",
		Help:      "Number of received messages skipped because their body failed to parse.",
	})
	ackedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "acked_messages_total",
		Help:      "Number of messages acknowledged after successful processing.",
	})
)

func init() {
	metrics.Registry.MustRegister(sentMessages, receivedMessages, skippedMessages, ackedMessages)
}
