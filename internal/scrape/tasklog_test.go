package scrape

import (
	"fmt"
	"testing"
	"time"

	"condoscan/internal/models"
)

func TestLogRingKeepsNewest(t *testing.T) {
	t.Parallel()

	r := newLogRing(3)
	for i := 0; i < 5; i++ {
		r.append(models.TaskLogEntry{Message: fmt.Sprintf("m%d", i)})
	}

	got := r.snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if got[i].Message != want {
			t.Errorf("entry %d = %q, want %q", i, got[i].Message, want)
		}
	}
}

func TestLogRingStampsTimestamp(t *testing.T) {
	t.Parallel()

	r := newLogRing(10)
	r.append(models.TaskLogEntry{Message: "unstamped"})

	stamped := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.append(models.TaskLogEntry{Message: "stamped", Timestamp: stamped})

	got := r.snapshot()
	if got[0].Timestamp.IsZero() {
		t.Error("zero timestamp was not stamped on append")
	}
	if !got[1].Timestamp.Equal(stamped) {
		t.Errorf("explicit timestamp overwritten: got %v", got[1].Timestamp)
	}
}

func TestLogRingSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	r := newLogRing(10)
	r.append(models.TaskLogEntry{Message: "original"})

	snap := r.snapshot()
	snap[0].Message = "mutated"

	if r.snapshot()[0].Message != "original" {
		t.Error("snapshot aliases the ring's backing array")
	}
}
