package lifecycle

import (
	"context"
	"log"
	"time"

	"condoscan/internal/eventbus"
	"condoscan/internal/models"
	"condoscan/internal/repository"
	"condoscan/internal/vote"
)

const (
	soldPriceVoteWindow = 7 * 24 * time.Hour
	sweepBatchSize      = 500
)

// Manager retires stale listings, marks properties sold, and derives final
// sale prices.
type Manager struct {
	repo     *repository.Repository
	voter    *vote.Updater
	bus      *eventbus.Bus
	staleAge time.Duration
}

func NewManager(repo *repository.Repository, voter *vote.Updater, bus *eventbus.Bus, staleAge time.Duration) *Manager {
	return &Manager{repo: repo, voter: voter, bus: bus, staleAge: staleAge}
}

// WatchTaskCompletions sweeps right after a scrape task settles as
// completed, so listings the task stopped seeing retire without waiting
// for the next scheduled pass.
func (m *Manager) WatchTaskCompletions(ctx context.Context) {
	ch := make(chan eventbus.Event, 16)
	m.bus.Subscribe(eventbus.TypeTaskProgress, ch)
	go m.watchTaskCompletions(ctx, ch, m.Sweep)
}

func (m *Manager) watchTaskCompletions(ctx context.Context, ch <-chan eventbus.Event, sweep func(context.Context) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			data, ok := evt.Data.(map[string]interface{})
			if !ok || data["status"] != models.TaskStatusCompleted {
				continue
			}
			if err := sweep(ctx); err != nil {
				log.Printf("[lifecycle] post-task sweep: %v", err)
			}
		}
	}
}

// Sweep runs one pass: deactivate listings unseen past the staleness
// window, then settle every property left with no active listing.
func (m *Manager) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-m.staleAge)

	affectedProps := make(map[int64]bool)
	for {
		stale, err := m.repo.StaleActiveListings(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			break
		}
		for _, l := range stale {
			delistedAt := l.FirstSeenAt
			if l.LastConfirmedAt != nil {
				delistedAt = *l.LastConfirmedAt
			}
			if err := m.repo.DeactivateListing(ctx, l.ID, delistedAt); err != nil {
				return err
			}
			affectedProps[l.MasterPropertyID] = true
		}
		if len(stale) < sweepBatchSize {
			break
		}
	}

	if len(affectedProps) == 0 {
		return nil
	}

	affectedBuildings := make(map[int64]bool)
	for propID := range affectedProps {
		prop, err := m.repo.GetProperty(ctx, propID)
		if err != nil {
			log.Printf("[lifecycle] load property %d: %v", propID, err)
			continue
		}
		affectedBuildings[prop.BuildingID] = true

		if err := m.settleProperty(ctx, prop); err != nil {
			log.Printf("[lifecycle] settle property %d: %v", propID, err)
		}
		if err := m.voter.RefreshProperty(ctx, propID); err != nil {
			log.Printf("[lifecycle] refresh property %d: %v", propID, err)
		}
		if err := m.repo.EnqueuePriceChange(ctx, propID, 5, "lifecycle_sweep"); err != nil {
			log.Printf("[lifecycle] enqueue property %d: %v", propID, err)
		}
	}
	for buildingID := range affectedBuildings {
		if err := m.voter.RefreshBuilding(ctx, buildingID); err != nil {
			log.Printf("[lifecycle] refresh building %d: %v", buildingID, err)
		}
	}

	log.Printf("[lifecycle] sweep retired listings across %d properties, %d buildings",
		len(affectedProps), len(affectedBuildings))
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeLifecycleSwept, Data: map[string]interface{}{
		"properties": len(affectedProps),
		"buildings":  len(affectedBuildings),
	}})
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeCacheInvalidate})
	return nil
}

// settleProperty marks a property sold when none of its listings remain
// active, and derives the final price from the last observed window.
func (m *Manager) settleProperty(ctx context.Context, prop *models.MasterProperty) error {
	if prop.SoldAt != nil {
		return nil
	}
	listings, err := m.repo.ListListingsByProperty(ctx, prop.ID)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		return nil
	}

	var soldAt time.Time
	for _, l := range listings {
		if l.IsActive {
			return nil
		}
		if l.DelistedAt != nil && l.DelistedAt.After(soldAt) {
			soldAt = *l.DelistedAt
		}
	}
	if soldAt.IsZero() {
		return nil
	}

	finalPrice := m.voteFinalPrice(ctx, listings, soldAt)
	now := time.Now()
	var updatedAt *time.Time
	if finalPrice != nil {
		updatedAt = &now
	}
	// With no price observations in the window final_price stays null.
	return m.repo.UpdatePropertyLifecycle(ctx, prop.ID, &soldAt, finalPrice, updatedAt)
}

// voteFinalPrice takes the majority over price observations in the window
// before the sale. Ties go to the higher price.
func (m *Manager) voteFinalPrice(ctx context.Context, listings []*models.Listing, soldAt time.Time) *int {
	windowStart := soldAt.Add(-soldPriceVoteWindow)
	votes := make(map[int]int)

	for _, l := range listings {
		history, err := m.repo.ListingPriceHistory(ctx, l.ID)
		if err != nil {
			log.Printf("[lifecycle] price history for listing %d: %v", l.ID, err)
			continue
		}
		for _, h := range history {
			if !h.RecordedAt.Before(windowStart) && !h.RecordedAt.After(soldAt) {
				votes[h.Price]++
			}
		}
	}
	if len(votes) == 0 {
		return nil
	}

	var best int
	bestCount := -1
	for price, count := range votes {
		if count > bestCount || (count == bestCount && price > best) {
			best, bestCount = price, count
		}
	}
	return &best
}
