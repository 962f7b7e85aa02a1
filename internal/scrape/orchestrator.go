package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"condoscan/internal/config"
	"condoscan/internal/eventbus"
	"condoscan/internal/models"
	"condoscan/internal/repository"
)

// Checkpoint cadence while a pair is running.
const (
	statsFlushInterval = 2 * time.Second
	checkpointInterval = 5 * time.Second
)

// StartRequest describes one scraping run to launch.
type StartRequest struct {
	Scrapers         []models.SourceSite `json:"scrapers"`
	AreaCodes        []string            `json:"area_codes"`
	MaxProperties    int                 `json:"max_properties"`
	ForceDetailFetch bool                `json:"force_detail_fetch"`
	Parallel         bool                `json:"parallel"`
}

// pair is one scraper×area unit of work.
type pair struct {
	scraper models.SourceSite
	area    string
}

// Orchestrator launches and controls scraping tasks. It owns the registry,
// builds engine instances per pair, and checkpoints durable state while
// the engines run.
type Orchestrator struct {
	repo     *repository.Repository
	store    Store
	registry *TaskRegistry
	bus      *eventbus.Bus
	env      *config.Env
	adapters map[models.SourceSite]SiteAdapter
}

func NewOrchestrator(repo *repository.Repository, store Store, registry *TaskRegistry, bus *eventbus.Bus, env *config.Env) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		store:    store,
		registry: registry,
		bus:      bus,
		env:      env,
		adapters: make(map[models.SourceSite]SiteAdapter),
	}
}

// RegisterAdapter installs a site adapter. Adapters are stateless parsers
// and are shared by every engine of their source.
func (o *Orchestrator) RegisterAdapter(a SiteAdapter) {
	o.adapters[a.SourceSite()] = a
}

// Registry exposes the runtime maps to the API layer.
func (o *Orchestrator) Registry() *TaskRegistry {
	return o.registry
}

// StartTask validates the request, persists the pending task, and launches
// the run goroutine.
func (o *Orchestrator) StartTask(ctx context.Context, req StartRequest) (*models.ScrapeTask, error) {
	if len(req.Scrapers) == 0 {
		return nil, fmt.Errorf("no scrapers requested")
	}
	if len(req.AreaCodes) == 0 {
		return nil, fmt.Errorf("no area codes requested")
	}
	for _, s := range req.Scrapers {
		if _, ok := o.adapters[s]; !ok {
			return nil, fmt.Errorf("unknown scraper %q", s)
		}
	}

	now := time.Now()
	task := models.ScrapeTask{
		TaskID:           uuid.NewString(),
		Status:           models.TaskStatusPending,
		Scrapers:         req.Scrapers,
		AreaCodes:        req.AreaCodes,
		MaxProperties:    req.MaxProperties,
		ForceDetailFetch: req.ForceDetailFetch,
		Parallel:         req.Parallel,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.repo.CreateTask(ctx, &task); err != nil {
		return nil, err
	}

	handle, flags := o.registry.Register(task)
	go o.run(handle, flags)

	snap := handle.Snapshot()
	return &snap, nil
}

// ResumeTask clears the pause flag of an in-process task, or relaunches a
// task that was paused by crash recovery and has no live goroutine.
func (o *Orchestrator) ResumeTask(ctx context.Context, taskID string) error {
	if handle, ok := o.registry.Task(taskID); ok {
		if handle.Status() != models.TaskStatusPaused {
			return fmt.Errorf("task %s is %s, not paused", taskID, handle.Status())
		}
		flags, _ := o.registry.Flags(taskID)
		handle.SetStatus(models.TaskStatusRunning)
		o.persistTask(ctx, handle)
		flags.Pause.Clear()
		return nil
	}

	// Not in memory: recovered-from-crash task. Rebuild the handle and run
	// it from the persisted checkpoints.
	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusPaused {
		return fmt.Errorf("task %s is %s, not paused", taskID, task.Status)
	}
	handle, flags := o.registry.Register(*task)
	handle.SetStatus(models.TaskStatusRunning)
	o.persistTask(ctx, handle)
	go o.run(handle, flags)
	return nil
}

// PauseTask raises the pause flag. Engines finish their current unit, hit
// the next safe point, checkpoint, and block.
func (o *Orchestrator) PauseTask(ctx context.Context, taskID string) error {
	handle, ok := o.registry.Task(taskID)
	if !ok {
		return repository.ErrNotFound
	}
	if handle.Status() != models.TaskStatusRunning {
		return fmt.Errorf("task %s is %s, not running", taskID, handle.Status())
	}
	flags, _ := o.registry.Flags(taskID)
	flags.Pause.Set()
	handle.SetStatus(models.TaskStatusPaused)
	o.persistTask(ctx, handle)
	return nil
}

// CancelTask raises the cancel flag and clears pause so blocked engines
// unwind. A task only known from the database is marked cancelled directly.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) error {
	if handle, ok := o.registry.Task(taskID); ok {
		flags, _ := o.registry.Flags(taskID)
		flags.Cancel.Set()
		flags.Pause.Clear()
		if !models.IsTerminalTaskStatus(handle.Status()) {
			handle.SetStatus(models.TaskStatusCancelled)
			o.persistTask(ctx, handle)
		}
		o.registry.DropInstances(taskID)
		return nil
	}

	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if models.IsTerminalTaskStatus(task.Status) {
		return fmt.Errorf("task %s already %s", taskID, task.Status)
	}
	return o.repo.UpdateTaskStatus(ctx, taskID, models.TaskStatusCancelled)
}

// TaskSnapshot returns the live state when the task is in memory, falling
// back to the persisted row.
func (o *Orchestrator) TaskSnapshot(ctx context.Context, taskID string) (*models.ScrapeTask, error) {
	if handle, ok := o.registry.Task(taskID); ok {
		t := handle.Snapshot()
		return &t, nil
	}
	return o.repo.GetTask(ctx, taskID)
}

// run executes every scraper×area pair of a task and settles the final
// status. It is the only goroutine that transitions the task to a terminal
// state on the happy path.
func (o *Orchestrator) run(handle *TaskHandle, flags *ControlFlags) {
	ctx := context.Background()
	taskID := handle.TaskID()
	task := handle.Snapshot()

	if handle.Status() == models.TaskStatusPending {
		handle.SetStatus(models.TaskStatusRunning)
	}
	o.persistTask(ctx, handle)

	pairs := make([]pair, 0, len(task.Scrapers)*len(task.AreaCodes))
	for _, s := range task.Scrapers {
		for _, a := range task.AreaCodes {
			pairs = append(pairs, pair{scraper: s, area: a})
		}
	}

	var failed, cancelled bool
	if task.Parallel {
		failed, cancelled = o.runParallel(ctx, handle, flags, task, pairs)
	} else {
		failed, cancelled = o.runSerial(ctx, handle, flags, task, pairs)
	}

	switch {
	case cancelled:
		handle.SetStatus(models.TaskStatusCancelled)
	case failed:
		handle.SetStatus(models.TaskStatusFailed)
	default:
		handle.SetStatus(models.TaskStatusCompleted)
	}
	o.persistTask(ctx, handle)
	o.registry.DropInstances(taskID)

	o.bus.Publish(eventbus.Event{
		Type:   eventbus.TypeTaskProgress,
		TaskID: taskID,
		Data:   map[string]interface{}{"status": handle.Status()},
	})
	log.Printf("[orchestrator] task %s finished with status %s", taskID, handle.Status())
}

// runSerial walks the pairs strictly one at a time, the default mode.
func (o *Orchestrator) runSerial(ctx context.Context, handle *TaskHandle, flags *ControlFlags, task models.ScrapeTask, pairs []pair) (failed, cancelled bool) {
	for _, p := range pairs {
		if flags.Cancel.IsSet() {
			return failed, true
		}
		if err := o.runPair(ctx, handle, flags, task, p); err != nil {
			if err == ErrCancelled {
				return failed, true
			}
			failed = true
			handle.LogError(models.TaskLogEntry{
				Scraper: p.scraper,
				Area:    p.area,
				Type:    "pair_failed",
				Message: err.Error(),
			})
		}
	}
	return failed, false
}

// runPair obtains or builds the engine for one pair, runs it with periodic
// checkpointing, and records the outcome.
func (o *Orchestrator) runPair(ctx context.Context, handle *TaskHandle, flags *ControlFlags, task models.ScrapeTask, p pair) error {
	taskID := handle.TaskID()

	scraper, ok := o.registry.Instance(taskID, p.scraper, p.area)
	if !ok {
		adapter := o.adapters[p.scraper]
		client := NewClient(o.env.HTTPTimeout(), o.env.HTTPRetries, 1.0)
		engine := NewEngine(adapter, client, o.store, flags)

		// A recovered task resumes from its persisted checkpoint.
		if prog, err := o.repo.GetTaskProgress(ctx, taskID, p.scraper, p.area); err == nil && len(prog.ResumeState) > 0 {
			var rs models.ResumeState
			if jerr := json.Unmarshal(prog.ResumeState, &rs); jerr == nil {
				engine.SetResumeState(rs)
			}
		} else if err != nil && err != repository.ErrNotFound {
			return err
		}

		engine.SetPauseHook(func() {
			o.checkpointPair(context.Background(), handle, engine, p, models.TaskStatusPaused)
			o.persistTask(context.Background(), handle)
		})
		o.registry.PutInstance(taskID, p.scraper, p.area, engine)
		scraper = engine
	}

	handle.Log(models.TaskLogEntry{
		Scraper: p.scraper,
		Area:    p.area,
		Type:    "pair_started",
		Message: fmt.Sprintf("scraping %s area %s", p.scraper, p.area),
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go o.monitorPair(handle, scraper, p, stop, done)

	start := time.Now()
	err := scraper.ScrapeArea(ctx, p.area, AreaOptions{
		MaxProperties:    task.MaxProperties,
		ForceDetailFetch: task.ForceDetailFetch,
		DetailRefetchAge: o.env.DetailRefetchHours,
	})
	close(stop)
	<-done

	status := models.TaskStatusCompleted
	switch {
	case err == ErrCancelled:
		status = models.TaskStatusCancelled
	case err != nil:
		status = models.TaskStatusFailed
	}
	o.checkpointPair(ctx, handle, scraper, p, status)

	handle.Mutate(func(t *models.ScrapeTask) {
		t.ElapsedTime += time.Since(start).Seconds()
	})
	o.flushStats(handle)
	o.persistTask(ctx, handle)

	if err == nil {
		handle.Log(models.TaskLogEntry{
			Scraper: p.scraper,
			Area:    p.area,
			Type:    "pair_completed",
			Message: fmt.Sprintf("finished %s area %s", p.scraper, p.area),
		})
	}
	return err
}

// monitorPair flushes stats every 2s and checkpoints every 5s while the
// engine runs.
func (o *Orchestrator) monitorPair(handle *TaskHandle, scraper Scraper, p pair, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	statsTicker := time.NewTicker(statsFlushInterval)
	defer statsTicker.Stop()
	checkpointTicker := time.NewTicker(checkpointInterval)
	defer checkpointTicker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case <-statsTicker.C:
			o.flushStats(handle)
		case <-checkpointTicker.C:
			o.checkpointPair(ctx, handle, scraper, p, models.TaskStatusRunning)
			o.persistTask(ctx, handle)
		}
	}
}

// flushStats folds the per-pair counters of every live instance into the
// task totals. Merge never lets a zero overwrite a nonzero value, so
// flushing mid-run and after restart is safe.
func (o *Orchestrator) flushStats(handle *TaskHandle) {
	taskID := handle.TaskID()
	var total models.ScrapeStats

	task := handle.Snapshot()
	for _, s := range task.Scrapers {
		for _, a := range task.AreaCodes {
			if inst, ok := o.registry.Instance(taskID, s, a); ok {
				st := inst.Stats()
				total.PropertiesProcessed += st.PropertiesProcessed
				total.NewListings += st.NewListings
				total.PriceUpdated += st.PriceUpdated
				total.OtherUpdates += st.OtherUpdates
				total.SaveFailed += st.SaveFailed
				total.OtherErrors += st.OtherErrors
				total.DetailFetchFailed += st.DetailFetchFailed
			}
		}
	}

	handle.Mutate(func(t *models.ScrapeTask) {
		merged := models.ScrapeStats{
			PropertiesProcessed: t.TotalProcessed,
			NewListings:         t.TotalNew,
			PriceUpdated:        t.TotalUpdated,
			OtherErrors:         t.TotalErrors,
		}
		merged.Merge(models.ScrapeStats{
			PropertiesProcessed: total.PropertiesProcessed,
			NewListings:         total.NewListings,
			PriceUpdated:        total.PriceUpdated + total.OtherUpdates,
			OtherErrors:         total.OtherErrors + total.SaveFailed + total.DetailFetchFailed,
		})
		t.TotalProcessed = merged.PropertiesProcessed
		t.TotalNew = merged.NewListings
		t.TotalUpdated = merged.PriceUpdated
		t.TotalErrors = merged.OtherErrors
	})
}

// checkpointPair persists the pair's progress row with its resume state.
func (o *Orchestrator) checkpointPair(ctx context.Context, handle *TaskHandle, scraper Scraper, p pair, status string) {
	rs := scraper.ResumeState()
	raw, err := json.Marshal(rs)
	if err != nil {
		log.Printf("[orchestrator] marshal resume state for %s: %v", handle.TaskID(), err)
		return
	}
	prog := &models.ScrapeTaskProgress{
		TaskID:      handle.TaskID(),
		Scraper:     p.scraper,
		AreaCode:    p.area,
		Status:      status,
		Stats:       rs.Stats,
		ResumeState: raw,
		LastUpdated: time.Now(),
	}
	if err := o.repo.UpsertTaskProgress(ctx, prog); err != nil {
		log.Printf("[orchestrator] checkpoint %s %s/%s: %v", handle.TaskID(), p.scraper, p.area, err)
	}
}

// persistTask writes the task snapshot back to its durable row.
func (o *Orchestrator) persistTask(ctx context.Context, handle *TaskHandle) {
	t := handle.Snapshot()
	if err := o.repo.SaveTask(ctx, &t); err != nil {
		log.Printf("[orchestrator] save task %s: %v", t.TaskID, err)
	}
}
