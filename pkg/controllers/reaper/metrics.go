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

package reaper

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DEVunderdog/NeuroStash/pkg/metrics"
)

const subsystem = "reaper"

var (
	resolvedDocuments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "resolved_documents_total",
		Help:      "Number of conflicted document rows reconciled against the object store.",
	})
	failedStuckJobs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "failed_stuck_jobs_total",
		Help:      "Number of pending ingestion jobs aged out to FAILED.",
	})
)

func init() {
	metrics.Registry.MustRegister(resolvedDocuments, failedStuckJobs)
}
