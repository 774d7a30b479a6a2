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

package chunker

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// breakpointIndices returns the indices of the distance series that exceed
// the policy's threshold. A cut after sentence i splits i from i+1.
func breakpointIndices(distances []float64, params Params) []int {
	if len(distances) == 0 {
		return nil
	}
	series := distances
	if params.Policy == Gradient {
		series = gradient(distances)
	}
	threshold := breakpointThreshold(series, params)
	var cuts []int
	for i, d := range series {
		if d > threshold {
			cuts = append(cuts, i)
		}
	}
	return cuts
}

func breakpointThreshold(series []float64, params Params) float64 {
	switch params.Policy {
	case StandardDeviation:
		mean, std := stat.MeanStdDev(series, nil)
		if math.IsNaN(std) {
			std = 0
		}
		return mean + params.Threshold*std
	case Interquartile:
		sorted := sortedCopy(series)
		q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
		q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
		return q3 + params.Threshold*(q3-q1)
	default:
		// Percentile, and Gradient once the series is the gradient.
		sorted := sortedCopy(series)
		return stat.Quantile(params.Threshold/100, stat.Empirical, sorted, nil)
	}
}

// gradient is the central-difference derivative of the series, with one-sided
// differences at the edges.
func gradient(series []float64) []float64 {
	n := len(series)
	if n < 2 {
		return append([]float64(nil), series...)
	}
	out := make([]float64, n)
	out[0] = series[1] - series[0]
	out[n-1] = series[n-1] - series[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (series[i+1] - series[i-1]) / 2
	}
	return out
}

func sortedCopy(series []float64) []float64 {
	sorted := append([]float64(nil), series...)
	sort.Float64s(sorted)
	return sorted
}

// cosineDistance assumes non-zero vectors of equal length.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
