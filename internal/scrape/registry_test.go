package scrape

import (
	"context"
	"testing"

	"condoscan/internal/models"
)

// stubScraper satisfies Scraper for registry tests; nothing is ever run.
type stubScraper struct {
	name string
}

func (s *stubScraper) Name() string                  { return s.name }
func (s *stubScraper) SourceSite() models.SourceSite { return models.SourceSuumo }
func (s *stubScraper) ScrapeArea(context.Context, string, AreaOptions) error {
	return nil
}
func (s *stubScraper) ResumeState() models.ResumeState   { return models.ResumeState{} }
func (s *stubScraper) SetResumeState(models.ResumeState) {}
func (s *stubScraper) Stats() models.ScrapeStats         { return models.ScrapeStats{} }

func TestRegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := NewTaskRegistry()
	h, flags := r.Register(models.ScrapeTask{TaskID: "t1", Status: models.TaskStatusPending})

	if got, ok := r.Task("t1"); !ok || got != h {
		t.Error("Task() did not return the registered handle")
	}
	if got, ok := r.Flags("t1"); !ok || got != flags {
		t.Error("Flags() did not return the registered flags")
	}
	if _, ok := r.Task("missing"); ok {
		t.Error("Task() found an unregistered id")
	}
}

func TestSetStatusTerminalSticks(t *testing.T) {
	t.Parallel()

	h := newTaskHandle(models.ScrapeTask{TaskID: "t1", Status: models.TaskStatusRunning})

	if !h.SetStatus(models.TaskStatusCompleted) {
		t.Fatal("transition to completed rejected")
	}
	if h.SetStatus(models.TaskStatusRunning) {
		t.Error("terminal task accepted a transition back to running")
	}
	if got := h.Status(); got != models.TaskStatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
}

func TestSetStatusTimestamps(t *testing.T) {
	t.Parallel()

	h := newTaskHandle(models.ScrapeTask{TaskID: "t1", Status: models.TaskStatusPending})

	h.SetStatus(models.TaskStatusRunning)
	snap := h.Snapshot()
	if snap.StartedAt == nil {
		t.Fatal("StartedAt not set on first run transition")
	}
	started := *snap.StartedAt

	h.SetStatus(models.TaskStatusPaused)
	if h.Snapshot().PauseTimestamp == nil {
		t.Error("PauseTimestamp not set on pause")
	}

	h.SetStatus(models.TaskStatusRunning)
	snap = h.Snapshot()
	if snap.PauseTimestamp != nil {
		t.Error("PauseTimestamp not cleared on resume")
	}
	if !snap.StartedAt.Equal(started) {
		t.Error("StartedAt moved on a second run transition")
	}

	h.SetStatus(models.TaskStatusCancelled)
	if h.Snapshot().CompletedAt == nil {
		t.Error("CompletedAt not set on terminal transition")
	}
}

func TestInstanceRetention(t *testing.T) {
	t.Parallel()

	r := NewTaskRegistry()
	s1 := &stubScraper{name: "one"}
	r.PutInstance("t1", models.SourceSuumo, "13101", s1)
	r.PutInstance("t10", models.SourceSuumo, "13101", &stubScraper{name: "other"})

	if got, ok := r.Instance("t1", models.SourceSuumo, "13101"); !ok || got != s1 {
		t.Fatal("instance not retained")
	}
	if _, ok := r.Instance("t1", models.SourceHomes, "13101"); ok {
		t.Error("instance lookup matched a different scraper")
	}

	// Dropping t1 must not touch t10 despite the shared id prefix.
	r.DropInstances("t1")
	if _, ok := r.Instance("t1", models.SourceSuumo, "13101"); ok {
		t.Error("instance survived DropInstances")
	}
	if _, ok := r.Instance("t10", models.SourceSuumo, "13101"); !ok {
		t.Error("DropInstances removed another task's instance")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	r := NewTaskRegistry()
	r.Register(models.ScrapeTask{TaskID: "t1"})
	r.PutInstance("t1", models.SourceSuumo, "13101", &stubScraper{})

	r.Remove("t1")
	if _, ok := r.Task("t1"); ok {
		t.Error("handle survived Remove")
	}
	if _, ok := r.Flags("t1"); ok {
		t.Error("flags survived Remove")
	}
	if _, ok := r.Instance("t1", models.SourceSuumo, "13101"); ok {
		t.Error("instance survived Remove")
	}
}

func TestHandleSeedsPersistedLogs(t *testing.T) {
	t.Parallel()

	task := models.ScrapeTask{
		TaskID:    "t1",
		Logs:      []models.TaskLogEntry{{Message: "restored"}},
		ErrorLogs: []models.TaskLogEntry{{Message: "old error"}},
	}
	h := newTaskHandle(task)
	h.Log(models.TaskLogEntry{Message: "fresh"})

	snap := h.Snapshot()
	if len(snap.Logs) != 2 || snap.Logs[0].Message != "restored" {
		t.Errorf("logs = %+v, want restored entry first", snap.Logs)
	}
	if len(snap.ErrorLogs) != 1 {
		t.Errorf("error logs = %+v, want the persisted entry", snap.ErrorLogs)
	}
}
