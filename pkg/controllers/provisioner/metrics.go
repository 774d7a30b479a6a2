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

package provisioner

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DEVunderdog/NeuroStash/pkg/metrics"
)

const subsystem = "provisioner"

var (
	provisionedCollections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "provisioned_collections_total",
		Help:      "Number of collections successfully created and published as available.",
	})
	cleanedCollections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "cleaned_collections_total",
		Help:      "Number of failed, stuck or orphaned collections dropped and removed.",
	})
)

func init() {
	metrics.Registry.MustRegister(provisionedCollections, cleanedCollections)
}
