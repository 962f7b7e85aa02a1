package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"condoscan/internal/eventbus"
	"condoscan/internal/models"
	"condoscan/internal/repository"
	"condoscan/internal/vote"

	"github.com/jackc/pgx/v5"
)

// Controller performs and reverts building and property merges, keeping the
// hybrid direct/final redirection chains consistent.
type Controller struct {
	repo  *repository.Repository
	voter *vote.Updater
	bus   *eventbus.Bus
	dupes *DuplicateDetector
}

func NewController(repo *repository.Repository, voter *vote.Updater, bus *eventbus.Bus, dupes *DuplicateDetector) *Controller {
	return &Controller{repo: repo, voter: voter, bus: bus, dupes: dupes}
}

func (c *Controller) invalidate() {
	if c.dupes != nil {
		c.dupes.Invalidate()
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeCacheInvalidate})
}

// MergeBuildings folds each secondary building into the primary: properties
// move across, redirection chains are rewritten, and each secondary row is
// deleted behind a revertable snapshot.
func (c *Controller) MergeBuildings(ctx context.Context, primaryID int64, secondaryIDs []int64) error {
	for _, id := range secondaryIDs {
		if id == primaryID {
			return fmt.Errorf("building %d appears as both primary and secondary", id)
		}
	}
	primary, err := c.repo.GetBuilding(ctx, primaryID)
	if err != nil {
		return fmt.Errorf("primary building %d: %w", primaryID, err)
	}

	for _, secondaryID := range secondaryIDs {
		secondary, err := c.repo.GetBuilding(ctx, secondaryID)
		if err != nil {
			return fmt.Errorf("secondary building %d: %w", secondaryID, err)
		}
		if err := c.mergeOneBuilding(ctx, primary, secondary); err != nil {
			return err
		}
	}

	if err := c.voter.RefreshBuilding(ctx, primaryID); err != nil {
		log.Printf("[merge] refresh building %d: %v", primaryID, err)
	}
	c.invalidate()
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeMergePerformed, Data: map[string]interface{}{
		"kind": "building", "primary_id": primaryID, "secondary_ids": secondaryIDs,
	}})
	return nil
}

func (c *Controller) mergeOneBuilding(ctx context.Context, primary, secondary *models.Building) error {
	// Composite-key collisions between the two property sets are resolved
	// by property merges before any building rows move.
	if err := c.preMergeCollidingProperties(ctx, primary.ID, secondary.ID); err != nil {
		return err
	}

	var movedIDs []int64
	err := c.repo.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		movedIDs, err = c.repo.MovePropertiesToBuilding(ctx, tx, secondary.ID, primary.ID)
		if err != nil {
			return err
		}
		if err := c.repo.RewriteBuildingFinalPrimary(ctx, tx, secondary.ID, primary.ID, 1); err != nil {
			return err
		}
		if err := c.repo.RemoveExclusionsForBuilding(ctx, tx, secondary.ID); err != nil {
			return err
		}

		details, err := repository.MergeDetailsJSON(models.BuildingMergeDetails{
			NormalizedName:    secondary.NormalizedName,
			CanonicalName:     secondary.CanonicalName,
			Address:           secondary.Address,
			NormalizedAddress: secondary.NormalizedAddress,
			TotalFloors:       secondary.TotalFloors,
			BasementFloors:    secondary.BasementFloors,
			TotalUnits:        secondary.TotalUnits,
			BuiltYear:         secondary.BuiltYear,
			BuiltMonth:        secondary.BuiltMonth,
			ConstructionType:  secondary.ConstructionType,
			IsValidName:       secondary.IsValidName,
			MovedPropertyIDs:  movedIDs,
		})
		if err != nil {
			return err
		}
		h := &models.BuildingMergeHistory{
			MergedBuildingID:        secondary.ID,
			DirectPrimaryBuildingID: primary.ID,
			FinalPrimaryBuildingID:  primary.ID,
			MergeDepth:              0,
			MergeDetails:            details,
		}
		if err := c.repo.InsertBuildingMergeHistory(ctx, tx, h); err != nil {
			return err
		}
		return c.repo.DeleteBuilding(ctx, tx, secondary.ID)
	})
	if err != nil {
		return fmt.Errorf("merge building %d into %d: %w", secondary.ID, primary.ID, err)
	}

	for _, propID := range movedIDs {
		if err := c.voter.RefreshProperty(ctx, propID); err != nil {
			log.Printf("[merge] refresh moved property %d: %v", propID, err)
		}
	}
	log.Printf("[merge] building %d merged into %d (%d properties moved)", secondary.ID, primary.ID, len(movedIDs))
	return nil
}

// preMergeCollidingProperties merges any secondary property whose identity
// key collides with a primary property, with the primary's as the keeper.
func (c *Controller) preMergeCollidingProperties(ctx context.Context, primaryID, secondaryID int64) error {
	primaryProps, err := c.repo.ListPropertiesByBuilding(ctx, primaryID)
	if err != nil {
		return err
	}
	secondaryProps, err := c.repo.ListPropertiesByBuilding(ctx, secondaryID)
	if err != nil {
		return err
	}

	byKey := make(map[string]*models.MasterProperty, len(primaryProps))
	for _, p := range primaryProps {
		byKey[identityKey(p)] = p
	}
	for _, sp := range secondaryProps {
		pp, collides := byKey[identityKey(sp)]
		if !collides {
			continue
		}
		if err := c.mergePropertyPair(ctx, pp, sp); err != nil {
			return fmt.Errorf("pre-merge colliding properties %d/%d: %w", pp.ID, sp.ID, err)
		}
	}
	return nil
}

func identityKey(p *models.MasterProperty) string {
	if p.RoomNumber != nil && *p.RoomNumber != "" {
		return "room:" + *p.RoomNumber
	}
	key := "comp:"
	if p.FloorNumber != nil {
		key += fmt.Sprint(*p.FloorNumber)
	}
	key += "|"
	if p.Area != nil {
		key += fmt.Sprint(*p.Area)
	}
	key += "|"
	if p.Layout != nil {
		key += *p.Layout
	}
	key += "|"
	if p.Direction != nil {
		key += *p.Direction
	}
	return key
}

// MergeProperties folds secondary into primary. Both must belong to the
// same building.
func (c *Controller) MergeProperties(ctx context.Context, primaryID, secondaryID int64) error {
	if primaryID == secondaryID {
		return fmt.Errorf("cannot merge property %d into itself", primaryID)
	}
	primary, err := c.repo.GetProperty(ctx, primaryID)
	if err != nil {
		return fmt.Errorf("primary property %d: %w", primaryID, err)
	}
	secondary, err := c.repo.GetProperty(ctx, secondaryID)
	if err != nil {
		return fmt.Errorf("secondary property %d: %w", secondaryID, err)
	}
	if primary.BuildingID != secondary.BuildingID {
		return fmt.Errorf("properties %d and %d belong to different buildings", primaryID, secondaryID)
	}

	if err := c.mergePropertyPair(ctx, primary, secondary); err != nil {
		return err
	}

	if err := c.voter.RefreshProperty(ctx, primaryID); err != nil {
		log.Printf("[merge] refresh property %d: %v", primaryID, err)
	}
	if err := c.voter.RefreshBuilding(ctx, primary.BuildingID); err != nil {
		log.Printf("[merge] refresh building %d: %v", primary.BuildingID, err)
	}
	if err := c.repo.EnqueuePriceChange(ctx, primaryID, 3, "property_merge"); err != nil {
		log.Printf("[merge] enqueue price change %d: %v", primaryID, err)
	}
	c.invalidate()
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeMergePerformed, Data: map[string]interface{}{
		"kind": "property", "primary_id": primaryID, "secondary_id": secondaryID,
	}})
	return nil
}

func (c *Controller) mergePropertyPair(ctx context.Context, primary, secondary *models.MasterProperty) error {
	primaryListings, err := c.repo.ListListingsByProperty(ctx, primary.ID)
	if err != nil {
		return err
	}
	secondaryListings, err := c.repo.ListListingsByProperty(ctx, secondary.ID)
	if err != nil {
		return err
	}
	primaryByKey := make(map[string]*models.Listing, len(primaryListings))
	for _, l := range primaryListings {
		primaryByKey[string(l.SourceSite)+"_"+l.SitePropertyID] = l
	}

	var movedIDs []int64
	err = c.repo.WithTx(ctx, func(tx pgx.Tx) error {
		for _, sl := range secondaryListings {
			dup := primaryByKey[string(sl.SourceSite)+"_"+sl.SitePropertyID]
			if dup == nil {
				continue
			}
			// Same source key on both sides: keep the fresher row, fold the
			// other's price history into it.
			if scrapedAfter(sl, dup) {
				if err := c.repo.MoveListingPriceHistory(ctx, tx, dup.ID, sl.ID); err != nil {
					return err
				}
				if err := c.repo.DeleteListing(ctx, tx, dup.ID); err != nil {
					return err
				}
			} else {
				if err := c.repo.MoveListingPriceHistory(ctx, tx, sl.ID, dup.ID); err != nil {
					return err
				}
				if err := c.repo.DeleteListing(ctx, tx, sl.ID); err != nil {
					return err
				}
			}
		}
		// Re-parent whatever survived on the secondary.
		moved, err := c.repo.MoveListingsToProperty(ctx, tx, secondary.ID, primary.ID)
		if err != nil {
			return err
		}
		movedIDs = append(movedIDs, moved...)

		if err := c.repo.RewritePropertyFinalPrimary(ctx, tx, secondary.ID, primary.ID, 1); err != nil {
			return err
		}
		if err := c.repo.RewriteAmbiguousMatches(ctx, tx, secondary.ID, primary.ID); err != nil {
			return err
		}
		if err := c.repo.RemoveExclusionsForProperty(ctx, tx, secondary.ID); err != nil {
			return err
		}

		details, err := repository.MergeDetailsJSON(models.PropertyMergeDetails{
			RoomNumber:          secondary.RoomNumber,
			FloorNumber:         secondary.FloorNumber,
			Area:                secondary.Area,
			BalconyArea:         secondary.BalconyArea,
			Layout:              secondary.Layout,
			Direction:           secondary.Direction,
			DisplayBuildingName: secondary.DisplayBuildingName,
			MovedListingIDs:     movedIDs,
		})
		if err != nil {
			return err
		}
		h := &models.PropertyMergeHistory{
			BuildingID:              primary.BuildingID,
			MergedPropertyID:        secondary.ID,
			DirectPrimaryPropertyID: primary.ID,
			FinalPrimaryPropertyID:  primary.ID,
			MergeDepth:              0,
			MergeDetails:            details,
		}
		if err := c.repo.InsertPropertyMergeHistory(ctx, tx, h); err != nil {
			return err
		}
		return c.repo.DeleteProperty(ctx, tx, secondary.ID)
	})
	if err != nil {
		return fmt.Errorf("merge property %d into %d: %w", secondary.ID, primary.ID, err)
	}

	c.fillNullFields(ctx, primary, secondary)
	log.Printf("[merge] property %d merged into %d (%d listings moved)", secondary.ID, primary.ID, len(movedIDs))
	return nil
}

// fillNullFields copies the secondary's identity fields onto the primary
// where the primary has none. A composite collision with a third property
// leaves the primary untouched.
func (c *Controller) fillNullFields(ctx context.Context, primary, secondary *models.MasterProperty) {
	changed := false
	if primary.FloorNumber == nil && secondary.FloorNumber != nil {
		primary.FloorNumber = secondary.FloorNumber
		changed = true
	}
	if primary.Area == nil && secondary.Area != nil {
		primary.Area = secondary.Area
		changed = true
	}
	if primary.Layout == nil && secondary.Layout != nil {
		primary.Layout = secondary.Layout
		changed = true
	}
	if primary.Direction == nil && secondary.Direction != nil {
		primary.Direction = secondary.Direction
		changed = true
	}
	if primary.RoomNumber == nil && secondary.RoomNumber != nil {
		primary.RoomNumber = secondary.RoomNumber
		changed = true
	}
	if primary.DisplayBuildingName == nil && secondary.DisplayBuildingName != nil {
		primary.DisplayBuildingName = secondary.DisplayBuildingName
		changed = true
	}
	if !changed {
		return
	}
	if err := c.repo.UpdatePropertyAttrs(ctx, primary); err != nil {
		if repository.IsUniqueViolation(err) {
			log.Printf("[merge] property %d: null fill collides with another identity, skipped", primary.ID)
			return
		}
		log.Printf("[merge] property %d: null fill failed: %v", primary.ID, err)
	}
}

func scrapedAfter(a, b *models.Listing) bool {
	at, bt := a.UpdatedAt, b.UpdatedAt
	if a.LastScrapedAt != nil {
		at = *a.LastScrapedAt
	}
	if b.LastScrapedAt != nil {
		bt = *b.LastScrapedAt
	}
	return at.After(bt)
}

// RevertBuildingMerge undoes one merge record. Returns warnings for
// properties that could not be moved back.
func (c *Controller) RevertBuildingMerge(ctx context.Context, historyID int64) ([]string, error) {
	h, err := c.repo.GetBuildingMergeHistory(ctx, historyID)
	if err != nil {
		return nil, fmt.Errorf("building merge history %d: %w", historyID, err)
	}
	inUse, err := c.repo.BuildingIDInUse(ctx, h.MergedBuildingID)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, fmt.Errorf("building id %d has been reused, revert blocked", h.MergedBuildingID)
	}

	var details models.BuildingMergeDetails
	if err := json.Unmarshal(h.MergeDetails, &details); err != nil {
		return nil, fmt.Errorf("decode merge details for history %d: %w", historyID, err)
	}

	dependents, err := c.repo.ListBuildingMergeHistoriesByFinal(ctx, h.FinalPrimaryBuildingID)
	if err != nil {
		return nil, err
	}

	var warnings []string
	err = c.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := c.repo.RestoreBuilding(ctx, tx, h.MergedBuildingID, details); err != nil {
			return err
		}
		moved, err := c.repo.MoveBackProperties(ctx, tx, details.MovedPropertyIDs, h.MergedBuildingID)
		if err != nil {
			return err
		}
		movedSet := make(map[int64]bool, len(moved))
		for _, id := range moved {
			movedSet[id] = true
		}
		for _, id := range details.MovedPropertyIDs {
			if !movedSet[id] {
				warnings = append(warnings, fmt.Sprintf("property %d no longer exists, left as is", id))
			}
		}

		for _, dep := range dependents {
			if dep.ID == h.ID {
				continue
			}
			final, depth := c.walkBuildingChain(ctx, dep.DirectPrimaryBuildingID, h.ID)
			if final != dep.FinalPrimaryBuildingID || depth != dep.MergeDepth {
				if err := c.repo.SetBuildingMergeFinal(ctx, tx, dep.ID, final, depth); err != nil {
					return err
				}
			}
		}
		return c.repo.DeleteBuildingMergeHistory(ctx, tx, h.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("revert building merge %d: %w", historyID, err)
	}

	if err := c.voter.RefreshBuilding(ctx, h.MergedBuildingID); err != nil {
		log.Printf("[merge] refresh restored building %d: %v", h.MergedBuildingID, err)
	}
	if err := c.voter.RefreshBuilding(ctx, h.DirectPrimaryBuildingID); err != nil {
		log.Printf("[merge] refresh building %d: %v", h.DirectPrimaryBuildingID, err)
	}
	c.invalidate()
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeMergeReverted, Data: map[string]interface{}{
		"kind": "building", "history_id": historyID, "restored_id": h.MergedBuildingID,
	}})
	return warnings, nil
}

// walkBuildingChain follows direct pointers from id, skipping the record
// being reverted, and returns the chain end plus the depth below it.
func (c *Controller) walkBuildingChain(ctx context.Context, id, skipHistoryID int64) (int64, int) {
	cur := id
	depth := 0
	for depth < 64 {
		next, err := c.repo.FindBuildingMergeByMerged(ctx, cur)
		if err == repository.ErrNotFound {
			break
		}
		if err != nil {
			log.Printf("[merge] walk chain at %d: %v", cur, err)
			break
		}
		if next.ID == skipHistoryID {
			break
		}
		cur = next.DirectPrimaryBuildingID
		depth++
	}
	return cur, depth
}

// RevertPropertyMerge undoes one property merge record.
func (c *Controller) RevertPropertyMerge(ctx context.Context, historyID int64) ([]string, error) {
	h, err := c.repo.GetPropertyMergeHistory(ctx, historyID)
	if err != nil {
		return nil, fmt.Errorf("property merge history %d: %w", historyID, err)
	}
	inUse, err := c.repo.PropertyIDInUse(ctx, h.MergedPropertyID)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, fmt.Errorf("property id %d has been reused, revert blocked", h.MergedPropertyID)
	}

	var details models.PropertyMergeDetails
	if err := json.Unmarshal(h.MergeDetails, &details); err != nil {
		return nil, fmt.Errorf("decode merge details for history %d: %w", historyID, err)
	}

	dependents, err := c.repo.ListPropertyMergeHistoriesByFinal(ctx, h.FinalPrimaryPropertyID)
	if err != nil {
		return nil, err
	}

	var warnings []string
	err = c.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := c.repo.RestoreProperty(ctx, tx, h.MergedPropertyID, h.BuildingID, details); err != nil {
			return err
		}
		moved, err := c.repo.MoveBackListings(ctx, tx, details.MovedListingIDs, h.DirectPrimaryPropertyID, h.MergedPropertyID)
		if err != nil {
			return err
		}
		movedSet := make(map[int64]bool, len(moved))
		for _, id := range moved {
			movedSet[id] = true
		}
		for _, id := range details.MovedListingIDs {
			if !movedSet[id] {
				warnings = append(warnings, fmt.Sprintf("listing %d has moved on, left in place", id))
			}
		}

		for _, dep := range dependents {
			if dep.ID == h.ID {
				continue
			}
			final, depth := c.walkPropertyChain(ctx, dep.DirectPrimaryPropertyID, h.ID)
			if final != dep.FinalPrimaryPropertyID || depth != dep.MergeDepth {
				if err := c.repo.SetPropertyMergeFinal(ctx, tx, dep.ID, final, depth); err != nil {
					return err
				}
			}
		}
		return c.repo.DeletePropertyMergeHistory(ctx, tx, h.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("revert property merge %d: %w", historyID, err)
	}

	if err := c.voter.RefreshProperty(ctx, h.MergedPropertyID); err != nil {
		log.Printf("[merge] refresh restored property %d: %v", h.MergedPropertyID, err)
	}
	if err := c.voter.RefreshProperty(ctx, h.DirectPrimaryPropertyID); err != nil {
		log.Printf("[merge] refresh property %d: %v", h.DirectPrimaryPropertyID, err)
	}
	if err := c.voter.RefreshBuilding(ctx, h.BuildingID); err != nil {
		log.Printf("[merge] refresh building %d: %v", h.BuildingID, err)
	}
	if err := c.repo.EnqueuePriceChange(ctx, h.MergedPropertyID, 3, "merge_revert"); err != nil {
		log.Printf("[merge] enqueue restored property %d: %v", h.MergedPropertyID, err)
	}
	if err := c.repo.EnqueuePriceChange(ctx, h.DirectPrimaryPropertyID, 3, "merge_revert"); err != nil {
		log.Printf("[merge] enqueue property %d: %v", h.DirectPrimaryPropertyID, err)
	}
	c.invalidate()
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeMergeReverted, Data: map[string]interface{}{
		"kind": "property", "history_id": historyID, "restored_id": h.MergedPropertyID,
	}})
	return warnings, nil
}

func (c *Controller) walkPropertyChain(ctx context.Context, id, skipHistoryID int64) (int64, int) {
	cur := id
	depth := 0
	for depth < 64 {
		next, err := c.repo.FindPropertyMergeByMerged(ctx, cur)
		if err == repository.ErrNotFound {
			break
		}
		if err != nil {
			log.Printf("[merge] walk chain at %d: %v", cur, err)
			break
		}
		if next.ID == skipHistoryID {
			break
		}
		cur = next.DirectPrimaryPropertyID
		depth++
	}
	return cur, depth
}
