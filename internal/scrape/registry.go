package scrape

import (
	"sync"
	"time"

	"condoscan/internal/models"
)

// TaskHandle is the in-memory runtime state of one task: the durable row
// plus its capped log buffers. All mutation goes through the handle's
// mutex; the control flags live outside it so pause/cancel never block on
// a held task lock.
type TaskHandle struct {
	mu          sync.Mutex
	task        models.ScrapeTask
	logs        *logRing
	errorLogs   *logRing
	warningLogs *logRing
}

func newTaskHandle(task models.ScrapeTask) *TaskHandle {
	h := &TaskHandle{
		task:        task,
		logs:        newLogRing(generalLogCap),
		errorLogs:   newLogRing(errorLogCap),
		warningLogs: newLogRing(warningLogCap),
	}
	for _, e := range task.Logs {
		h.logs.append(e)
	}
	for _, e := range task.ErrorLogs {
		h.errorLogs.append(e)
	}
	for _, e := range task.WarningLogs {
		h.warningLogs.append(e)
	}
	return h
}

func (h *TaskHandle) TaskID() string {
	return h.task.TaskID
}

// Snapshot copies the full task state including log slices, safe to hand
// out past the lock.
func (h *TaskHandle) Snapshot() models.ScrapeTask {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.task
	t.Logs = h.logs.snapshot()
	t.ErrorLogs = h.errorLogs.snapshot()
	t.WarningLogs = h.warningLogs.snapshot()
	return t
}

func (h *TaskHandle) Status() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task.Status
}

// SetStatus transitions the task. Terminal states stick: once reached, no
// further transition is applied.
func (h *TaskHandle) SetStatus(status string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if models.IsTerminalTaskStatus(h.task.Status) {
		return false
	}
	now := time.Now()
	h.task.Status = status
	switch status {
	case models.TaskStatusRunning:
		if h.task.StartedAt == nil {
			h.task.StartedAt = &now
		}
		h.task.PauseTimestamp = nil
	case models.TaskStatusPaused:
		h.task.PauseTimestamp = &now
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled, models.TaskStatusError:
		h.task.CompletedAt = &now
	}
	h.task.UpdatedAt = now
	return true
}

// Mutate runs fn under the task lock for counter and timing updates.
func (h *TaskHandle) Mutate(fn func(t *models.ScrapeTask)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.task)
	h.task.UpdatedAt = time.Now()
}

func (h *TaskHandle) Log(e models.TaskLogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs.append(e)
}

func (h *TaskHandle) LogError(e models.TaskLogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorLogs.append(e)
}

func (h *TaskHandle) LogWarning(e models.TaskLogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.warningLogs.append(e)
}

// TaskRegistry owns the three runtime maps: task handles, live scraper
// instances, and control flags. Each map has its own mutex; when more than
// one is needed, acquire in the order tasks, instances, flags.
type TaskRegistry struct {
	tasksMu sync.RWMutex
	tasks   map[string]*TaskHandle

	instancesMu sync.RWMutex
	instances   map[string]Scraper

	flagsMu sync.RWMutex
	flags   map[string]*ControlFlags
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks:     make(map[string]*TaskHandle),
		instances: make(map[string]Scraper),
		flags:     make(map[string]*ControlFlags),
	}
}

// Register creates the handle and flags for a new task.
func (r *TaskRegistry) Register(task models.ScrapeTask) (*TaskHandle, *ControlFlags) {
	h := newTaskHandle(task)

	r.tasksMu.Lock()
	r.tasks[task.TaskID] = h
	r.tasksMu.Unlock()

	r.flagsMu.Lock()
	flags := NewControlFlags()
	r.flags[task.TaskID] = flags
	r.flagsMu.Unlock()

	return h, flags
}

func (r *TaskRegistry) Task(taskID string) (*TaskHandle, bool) {
	r.tasksMu.RLock()
	defer r.tasksMu.RUnlock()
	h, ok := r.tasks[taskID]
	return h, ok
}

func (r *TaskRegistry) Flags(taskID string) (*ControlFlags, bool) {
	r.flagsMu.RLock()
	defer r.flagsMu.RUnlock()
	f, ok := r.flags[taskID]
	return f, ok
}

// instanceKey identifies one live scraper: {task}_{scraper}_{area}.
func instanceKey(taskID string, scraper models.SourceSite, area string) string {
	return taskID + "_" + string(scraper) + "_" + area
}

// Instance returns the retained scraper for a pair, if the process still
// has one. Present across pause/resume, absent after crash or cancel.
func (r *TaskRegistry) Instance(taskID string, scraper models.SourceSite, area string) (Scraper, bool) {
	r.instancesMu.RLock()
	defer r.instancesMu.RUnlock()
	s, ok := r.instances[instanceKey(taskID, scraper, area)]
	return s, ok
}

func (r *TaskRegistry) PutInstance(taskID string, scraper models.SourceSite, area string, s Scraper) {
	r.instancesMu.Lock()
	r.instances[instanceKey(taskID, scraper, area)] = s
	r.instancesMu.Unlock()
}

// DropInstances disposes every scraper instance of a task, on cancel or
// completion.
func (r *TaskRegistry) DropInstances(taskID string) {
	r.instancesMu.Lock()
	defer r.instancesMu.Unlock()
	prefix := taskID + "_"
	for key := range r.instances {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(r.instances, key)
		}
	}
}

// Remove drops every runtime trace of a task, in the fixed lock order.
func (r *TaskRegistry) Remove(taskID string) {
	r.tasksMu.Lock()
	delete(r.tasks, taskID)
	r.tasksMu.Unlock()

	r.DropInstances(taskID)

	r.flagsMu.Lock()
	delete(r.flags, taskID)
	r.flagsMu.Unlock()
}

// ActiveTasks lists handles for tasks currently registered in memory.
func (r *TaskRegistry) ActiveTasks() []*TaskHandle {
	r.tasksMu.RLock()
	defer r.tasksMu.RUnlock()
	out := make([]*TaskHandle, 0, len(r.tasks))
	for _, h := range r.tasks {
		out = append(out, h)
	}
	return out
}
