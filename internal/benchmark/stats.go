package benchmark

import (
	"math"
	"sort"
	"time"

	"github.com/garyzero/gary-zero/internal/models"
)

// Summary aggregates the results of a benchmark run. Latency statistics
// cover successful attempts only; failures count toward the success
// rate but never skew percentiles.
type Summary struct {
	Attempts    int     `json:"attempts"`
	Tasks       int     `json:"tasks"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`

	MeanMs   float64 `json:"mean_ms"`
	MedianMs float64 `json:"median_ms"`
	P95Ms    float64 `json:"p95_ms"`
	StdDevMs float64 `json:"stddev_ms"`

	MeanScore float64 `json:"mean_score"`
}

// Summarize computes run statistics from per-attempt results.
func Summarize(results []*models.BenchmarkResult) Summary {
	s := Summary{Attempts: len(results)}
	if len(results) == 0 {
		return s
	}

	tasks := make(map[string]bool)
	var latencies []float64
	var scoreTotal float64

	for _, r := range results {
		tasks[r.TaskName] = true
		if !r.Success {
			continue
		}
		s.Successes++
		latencies = append(latencies, float64(r.Duration)/float64(time.Millisecond))
		scoreTotal += r.Score
	}
	s.Tasks = len(tasks)
	s.SuccessRate = float64(s.Successes) / float64(s.Attempts)

	if s.Successes == 0 {
		return s
	}
	s.MeanScore = scoreTotal / float64(s.Successes)

	sort.Float64s(latencies)
	s.MedianMs = percentile(latencies, 50)
	s.P95Ms = percentile(latencies, 95)

	var total float64
	for _, l := range latencies {
		total += l
	}
	s.MeanMs = total / float64(len(latencies))

	var variance float64
	for _, l := range latencies {
		d := l - s.MeanMs
		variance += d * d
	}
	s.StdDevMs = math.Sqrt(variance / float64(len(latencies)))

	return s
}

// percentile returns the p-th percentile of sorted values using
// nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
