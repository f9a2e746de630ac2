package dedup

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestDedupEvictionNeverExceedsCap uses rapid to generate random id/volume
// sequences and checks the bounded-cache invariant holds regardless of input
// shape: the cached set never grows past MaxCachedEvents.
func TestDedupEvictionNeverExceedsCap(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cap := rapid.IntRange(10, 200).Draw(rt, "cap")
		count := rapid.IntRange(0, 500).Draw(rt, "count")

		d := New(Config{EventExpiration: time.Hour, MaxCachedEvents: cap, CompactionFraction: 0.25})
		for i := 0; i < count; i++ {
			_, err := d.TryRecord(fmt.Sprintf("id-%d", i))
			if err != nil {
				rt.Fatalf("unexpected error: %v", err)
			}
			if d.Statistics().Cached > cap {
				rt.Fatalf("cache grew past cap: %d > %d", d.Statistics().Cached, cap)
			}
		}
	})
}
