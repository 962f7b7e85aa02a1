package scrape

import (
	"context"
	"log"
	"time"

	"condoscan/internal/config"
	"condoscan/internal/models"
	"condoscan/internal/repository"
)

const watchdogInterval = time.Minute

// Watchdog sweeps for tasks that stopped making progress: running tasks
// with a stale heartbeat are marked error, and tasks paused longer than
// the pause timeout are cancelled.
type Watchdog struct {
	repo     *repository.Repository
	registry *TaskRegistry
	env      *config.Env
	stopCh   chan struct{}
}

func NewWatchdog(repo *repository.Repository, registry *TaskRegistry, env *config.Env) *Watchdog {
	return &Watchdog{
		repo:     repo,
		registry: registry,
		env:      env,
		stopCh:   make(chan struct{}),
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	go w.runLoop(ctx)
}

func (w *Watchdog) Stop() {
	close(w.stopCh)
}

func (w *Watchdog) runLoop(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	now := time.Now()
	runningCutoff := now.Add(-w.env.StallRunningThreshold())
	pausedCutoff := now.Add(-w.env.StallPausedThreshold())

	stalled, err := w.repo.StalledTasks(ctx, runningCutoff, pausedCutoff)
	if err != nil {
		log.Printf("[watchdog] list stalled tasks: %v", err)
		return
	}

	for _, task := range stalled {
		switch task.Status {
		case models.TaskStatusRunning:
			w.failStalled(ctx, task)
		case models.TaskStatusPaused:
			w.cancelExpired(ctx, task)
		}
	}

	// In-memory paused tasks whose pause outlived the timeout get cancelled
	// even before their durable row looks stalled.
	for _, handle := range w.registry.ActiveTasks() {
		snap := handle.Snapshot()
		if snap.Status != models.TaskStatusPaused || snap.PauseTimestamp == nil {
			continue
		}
		if now.Sub(*snap.PauseTimestamp) > w.env.PauseTimeout() {
			w.cancelExpired(ctx, &snap)
		}
	}
}

// failStalled marks a running task with a stale heartbeat as error.
func (w *Watchdog) failStalled(ctx context.Context, task *models.ScrapeTask) {
	log.Printf("[watchdog] task %s stalled while running, marking error", task.TaskID)

	if handle, ok := w.registry.Task(task.TaskID); ok {
		if flags, fok := w.registry.Flags(task.TaskID); fok {
			flags.Cancel.Set()
			flags.Pause.Clear()
		}
		handle.LogError(models.TaskLogEntry{
			Type:    "watchdog",
			Message: "no progress beyond the running stall threshold, task marked error",
		})
		handle.SetStatus(models.TaskStatusError)
		t := handle.Snapshot()
		if err := w.repo.SaveTask(ctx, &t); err != nil {
			log.Printf("[watchdog] save task %s: %v", task.TaskID, err)
		}
		w.registry.DropInstances(task.TaskID)
		return
	}

	if err := w.repo.UpdateTaskStatus(ctx, task.TaskID, models.TaskStatusError); err != nil {
		log.Printf("[watchdog] mark task %s error: %v", task.TaskID, err)
	}
}

// cancelExpired cancels a task that sat paused past the timeout.
func (w *Watchdog) cancelExpired(ctx context.Context, task *models.ScrapeTask) {
	log.Printf("[watchdog] task %s paused past the timeout, cancelling", task.TaskID)

	if handle, ok := w.registry.Task(task.TaskID); ok {
		if flags, fok := w.registry.Flags(task.TaskID); fok {
			flags.Cancel.Set()
			flags.Pause.Clear()
		}
		handle.LogError(models.TaskLogEntry{
			Type:    "watchdog",
			Message: "pause exceeded the timeout, task cancelled",
		})
		handle.SetStatus(models.TaskStatusCancelled)
		t := handle.Snapshot()
		if err := w.repo.SaveTask(ctx, &t); err != nil {
			log.Printf("[watchdog] save task %s: %v", task.TaskID, err)
		}
		w.registry.DropInstances(task.TaskID)
		return
	}

	if err := w.repo.UpdateTaskStatus(ctx, task.TaskID, models.TaskStatusCancelled); err != nil {
		log.Printf("[watchdog] cancel task %s: %v", task.TaskID, err)
	}
}
