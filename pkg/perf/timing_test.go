package perf

import (
	"testing"
	"time"
)

func TestTrackMeasures(t *testing.T) {
	elapsed := Track(nil, "sleep", func() {
		time.Sleep(5 * time.Millisecond)
	})
	if elapsed < 5*time.Millisecond {
		t.Fatalf("expected at least 5ms, got %v", elapsed)
	}
}
