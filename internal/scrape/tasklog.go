package scrape

import (
	"time"

	"condoscan/internal/models"
)

// Log buffer capacities per task.
const (
	generalLogCap = 50
	errorLogCap   = 30
	warningLogCap = 50
)

// logRing is a capped append-only buffer keeping the newest entries.
// Callers hold the task lock.
type logRing struct {
	cap     int
	entries []models.TaskLogEntry
}

func newLogRing(cap int) *logRing {
	return &logRing{cap: cap}
}

func (r *logRing) append(e models.TaskLogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	r.entries = append(r.entries, e)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

func (r *logRing) snapshot() []models.TaskLogEntry {
	out := make([]models.TaskLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
