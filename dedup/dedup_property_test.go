package dedup

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDedupCorrectnessProperty checks invariant 1: for any sequence of
// tryRecord(id) calls, the number of true results equals the number of distinct
// ids observed (expiration disabled so the window never reopens during the run).
func TestDedupCorrectnessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("true-result count equals distinct id count", prop.ForAll(
		func(ids []int) bool {
			cfg := DefaultConfig()
			cfg.EventExpiration = 0 // disable expiration for this property
			d := New(cfg)

			seen := make(map[int]bool)
			trueCount := 0
			for _, id := range ids {
				key := fmt.Sprintf("id-%d", id)
				ok, err := d.TryRecord(key)
				if err != nil {
					return false
				}
				if ok {
					trueCount++
				}
				seen[id] = true
			}
			return trueCount == len(seen)
		},
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
