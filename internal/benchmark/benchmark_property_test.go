package benchmark

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/garyzero/gary-zero/internal/models"
)

func genResults() gopter.Gen {
	genResult := gopter.CombineGens(
		gen.Bool(),
		gen.IntRange(1, 5000),
		gen.Float64Range(0, 1),
	).Map(func(values []interface{}) *models.BenchmarkResult {
		return &models.BenchmarkResult{
			TaskName: "task",
			Attempt:  1,
			Success:  values[0].(bool),
			Duration: time.Duration(values[1].(int)) * time.Millisecond,
			Score:    values[2].(float64),
		}
	})
	return gen.SliceOfN(20, genResult)
}

// **Feature: gary-zero, Property 21: Summary statistics are well-formed**
//
// For any result set: the success rate is successes/attempts in [0, 1],
// and every latency statistic lies within the range of successful
// attempt durations only.
func TestSummaryStatisticsWellFormed(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("rates and percentiles bounded", prop.ForAll(
		func(results []*models.BenchmarkResult) bool {
			s := Summarize(results)

			if s.Attempts != len(results) {
				return false
			}
			if s.SuccessRate < 0 || s.SuccessRate > 1 {
				return false
			}

			var minMs, maxMs float64
			first := true
			for _, r := range results {
				if !r.Success {
					continue
				}
				ms := float64(r.Duration) / float64(time.Millisecond)
				if first || ms < minMs {
					minMs = ms
				}
				if first || ms > maxMs {
					maxMs = ms
				}
				first = false
			}
			if first {
				// No successes: latency stats must stay zero.
				return s.MeanMs == 0 && s.MedianMs == 0 && s.P95Ms == 0
			}

			return s.MeanMs >= minMs && s.MeanMs <= maxMs &&
				s.MedianMs >= minMs && s.MedianMs <= maxMs &&
				s.P95Ms >= s.MedianMs && s.P95Ms <= maxMs
		},
		genResults(),
	))

	properties.TestingRun(t)
}

// **Feature: gary-zero, Property 22: Failures never contribute to latency**
//
// Adding failed attempts to a result set lowers the success rate but
// leaves every latency statistic unchanged.
func TestFailuresExcludedFromLatency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	genSuccesses := gen.SliceOfN(10, gen.IntRange(1, 1000).Map(func(ms int) *models.BenchmarkResult {
		return &models.BenchmarkResult{
			TaskName: "task",
			Success:  true,
			Duration: time.Duration(ms) * time.Millisecond,
			Score:    1,
		}
	}))

	properties.Property("failed attempts change only the rate", prop.ForAll(
		func(successes []*models.BenchmarkResult, failures int) bool {
			base := Summarize(successes)

			mixed := append([]*models.BenchmarkResult{}, successes...)
			for i := 0; i < failures; i++ {
				mixed = append(mixed, &models.BenchmarkResult{
					TaskName: "task",
					Success:  false,
					Duration: 10 * time.Hour,
					Error:    "boom",
				})
			}
			withFailures := Summarize(mixed)

			if withFailures.SuccessRate > base.SuccessRate && failures > 0 {
				return false
			}
			return withFailures.MeanMs == base.MeanMs &&
				withFailures.MedianMs == base.MedianMs &&
				withFailures.P95Ms == base.P95Ms &&
				withFailures.StdDevMs == base.StdDevMs
		},
		genSuccesses,
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
