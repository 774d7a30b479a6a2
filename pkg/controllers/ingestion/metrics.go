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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DEVunderdog/NeuroStash/pkg/metrics"
)

const subsystem = "ingestion"

var (
	admittedJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "admitted_jobs_total",
		Help:      "Number of ingestion jobs admitted and enqueued.",
	}, []string{metrics.KindLabel})
	processedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "processed_messages_total",
		Help:      "Number of queue messages processed, by result.",
	}, []string{metrics.ResultLabel})
	processDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "process_duration_seconds",
		Help:      "Time taken to process one queue message end to end.",
		Buckets:   metrics.DurationBuckets(),
	})
)

func init() {
	metrics.Registry.MustRegister(admittedJobs, processedMessages, processDuration)
}
