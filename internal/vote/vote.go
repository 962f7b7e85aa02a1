package vote

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"condoscan/internal/models"
	"condoscan/internal/normalizer"
	"condoscan/internal/repository"
)

// soldPriceVoteWindow is how far before sold_at a listing must have been
// confirmed to participate in votes for a sold property.
const soldPriceVoteWindow = 7 * 24 * time.Hour

// Updater recomputes building and property attributes from their listings
// by weighted majority vote.
type Updater struct {
	repo *repository.Repository
}

func NewUpdater(repo *repository.Repository) *Updater {
	return &Updater{repo: repo}
}

// entry is one (bucket, representation) ballot with its weight.
type entry struct {
	bucket string
	value  string
	weight float64
	prio   int
}

// winner picks the bucket with the largest summed weight, then the heaviest
// original representation within it. Representation ties go to the higher
// priority source (smaller index).
func winner(entries []entry) (string, bool) {
	if len(entries) == 0 {
		return "", false
	}

	type repInfo struct {
		weight float64
		prio   int
	}
	bucketWeight := make(map[string]float64)
	bucketBestPrio := make(map[string]int)
	reps := make(map[string]map[string]*repInfo)
	var order []string

	for _, e := range entries {
		if _, seen := bucketWeight[e.bucket]; !seen {
			order = append(order, e.bucket)
			bucketBestPrio[e.bucket] = e.prio
			reps[e.bucket] = make(map[string]*repInfo)
		}
		bucketWeight[e.bucket] += e.weight
		if e.prio < bucketBestPrio[e.bucket] {
			bucketBestPrio[e.bucket] = e.prio
		}
		ri := reps[e.bucket][e.value]
		if ri == nil {
			ri = &repInfo{prio: e.prio}
			reps[e.bucket][e.value] = ri
		}
		ri.weight += e.weight
		if e.prio < ri.prio {
			ri.prio = e.prio
		}
	}

	var bestBucket string
	bestWeight := -1.0
	bestPrio := 1 << 30
	for _, b := range order {
		w := bucketWeight[b]
		if w > bestWeight || (w == bestWeight && bucketBestPrio[b] < bestPrio) {
			bestBucket, bestWeight, bestPrio = b, w, bucketBestPrio[b]
		}
	}

	var bestRep string
	bestWeight = -1.0
	bestPrio = 1 << 30
	for v, ri := range reps[bestBucket] {
		if ri.weight > bestWeight ||
			(ri.weight == bestWeight && ri.prio < bestPrio) ||
			(ri.weight == bestWeight && ri.prio == bestPrio && v < bestRep) {
			bestRep, bestWeight, bestPrio = v, ri.weight, ri.prio
		}
	}
	return bestRep, true
}

// selectListings applies the source-selection rule: active listings if any,
// else listings confirmed shortly before the sale, else everything.
func selectListings(all []*models.Listing, soldAt *time.Time) []*models.Listing {
	var active []*models.Listing
	for _, l := range all {
		if l.IsActive {
			active = append(active, l)
		}
	}
	if len(active) > 0 {
		return active
	}
	if soldAt != nil {
		var window []*models.Listing
		cutoff := soldAt.Add(-soldPriceVoteWindow)
		for _, l := range all {
			if l.LastConfirmedAt != nil && !l.LastConfirmedAt.Before(cutoff) && !l.LastConfirmedAt.After(*soldAt) {
				window = append(window, l)
			}
		}
		if len(window) > 0 {
			return window
		}
	}
	return all
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// voteInt runs a vote over integer-valued extractor results.
func voteInt(listings []*models.Listing, get func(*models.Listing) *int) *int {
	var entries []entry
	for _, l := range listings {
		v := get(l)
		if v == nil {
			continue
		}
		s := strconv.Itoa(*v)
		entries = append(entries, entry{bucket: s, value: s, weight: models.VoteWeight(l.SourceSite), prio: models.PriorityIndex(l.SourceSite)})
	}
	rep, ok := winner(entries)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(rep)
	if err != nil {
		return nil
	}
	return &n
}

func voteFloat(listings []*models.Listing, get func(*models.Listing) *float64) *float64 {
	var entries []entry
	for _, l := range listings {
		v := get(l)
		if v == nil {
			continue
		}
		s := formatFloat(*v)
		entries = append(entries, entry{bucket: s, value: s, weight: models.VoteWeight(l.SourceSite), prio: models.PriorityIndex(l.SourceSite)})
	}
	rep, ok := winner(entries)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(rep, 64)
	if err != nil {
		return nil
	}
	return &f
}

// voteString runs a vote over string values bucketed by the given
// normalization.
func voteString(listings []*models.Listing, get func(*models.Listing) *string, bucketOf func(string) string) *string {
	var entries []entry
	for _, l := range listings {
		v := get(l)
		if v == nil || *v == "" {
			continue
		}
		entries = append(entries, entry{
			bucket: bucketOf(*v),
			value:  *v,
			weight: models.VoteWeight(l.SourceSite),
			prio:   models.PriorityIndex(l.SourceSite),
		})
	}
	rep, ok := winner(entries)
	if !ok {
		return nil
	}
	return &rep
}

// RefreshProperty recomputes a property's voted attributes from its
// listings. When the proposed composite identity tuple collides with
// another property, only those four fields keep their stored values.
func (u *Updater) RefreshProperty(ctx context.Context, propertyID int64) error {
	p, err := u.repo.GetProperty(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("refresh property %d: %w", propertyID, err)
	}
	listings, err := u.repo.ListListingsByProperty(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("refresh property %d: %w", propertyID, err)
	}
	if len(listings) == 0 {
		return nil
	}

	selected := selectListings(listings, p.SoldAt)

	updated := *p
	updated.FloorNumber = voteInt(selected, func(l *models.Listing) *int { return l.ListingFloorNumber })
	updated.Area = voteFloat(selected, func(l *models.Listing) *float64 { return l.ListingArea })
	updated.BalconyArea = voteFloat(selected, func(l *models.Listing) *float64 { return l.ListingBalconyArea })
	updated.Layout = voteString(selected, func(l *models.Listing) *string { return l.ListingLayout },
		normalizer.NormalizeLayout)
	updated.Direction = voteString(selected, func(l *models.Listing) *string { return l.ListingDirection },
		normalizer.NormalizeDirection)
	updated.ManagementFee = voteInt(selected, func(l *models.Listing) *int { return l.ManagementFee })
	updated.RepairFund = voteInt(selected, func(l *models.Listing) *int { return l.RepairFund })
	updated.StationInfo = voteString(selected, func(l *models.Listing) *string { return l.ListingStationInfo },
		normalizer.NormalizeStationInfo)
	updated.DisplayBuildingName = u.voteDisplayName(selected)

	// current_price uses active listings only and is null when none remain.
	updated.CurrentPrice = nil
	var activeOnly []*models.Listing
	for _, l := range listings {
		if l.IsActive {
			activeOnly = append(activeOnly, l)
		}
	}
	if len(activeOnly) > 0 {
		updated.CurrentPrice = voteInt(activeOnly, func(l *models.Listing) *int { return l.CurrentPrice })
	}

	// Keep nil results from clearing a known value: a vote with no ballots
	// carries no information.
	if updated.FloorNumber == nil {
		updated.FloorNumber = p.FloorNumber
	}
	if updated.Area == nil {
		updated.Area = p.Area
	}
	if updated.Layout == nil {
		updated.Layout = p.Layout
	}
	if updated.Direction == nil {
		updated.Direction = p.Direction
	}
	if updated.BalconyArea == nil {
		updated.BalconyArea = p.BalconyArea
	}
	if updated.DisplayBuildingName == nil {
		updated.DisplayBuildingName = p.DisplayBuildingName
	}

	if err := u.repo.UpdatePropertyAttrs(ctx, &updated); err != nil {
		if repository.IsUniqueViolation(err) {
			// Composite identity collision: keep the stored key fields and
			// write only the rest.
			updated.FloorNumber = p.FloorNumber
			updated.Area = p.Area
			updated.Layout = p.Layout
			updated.Direction = p.Direction
			log.Printf("[vote] property %d: identity tuple collides, keeping stored key fields", propertyID)
			if err := u.repo.UpdatePropertyAttrs(ctx, &updated); err != nil {
				return fmt.Errorf("refresh property %d: %w", propertyID, err)
			}
			return nil
		}
		return fmt.Errorf("refresh property %d: %w", propertyID, err)
	}
	return nil
}

func (u *Updater) voteDisplayName(listings []*models.Listing) *string {
	var entries []entry
	for _, l := range listings {
		name := l.ListingBuildingName
		if name == "" {
			continue
		}
		w := models.VoteWeight(l.SourceSite)
		if normalizer.IsAdvertisingText(name) {
			w *= normalizer.AdCopyWeight
		}
		entries = append(entries, entry{
			bucket: normalizer.Canonicalize(name),
			value:  normalizer.Normalize(name),
			weight: w,
			prio:   models.PriorityIndex(l.SourceSite),
		})
	}
	rep, ok := winner(entries)
	if !ok {
		return nil
	}
	return &rep
}

// RefreshBuilding recomputes the building's voted attributes, including the
// name vote, from all listings attached to its properties.
func (u *Updater) RefreshBuilding(ctx context.Context, buildingID int64) error {
	b, err := u.repo.GetBuilding(ctx, buildingID)
	if err != nil {
		return fmt.Errorf("refresh building %d: %w", buildingID, err)
	}
	props, err := u.repo.ListPropertiesByBuilding(ctx, buildingID)
	if err != nil {
		return fmt.Errorf("refresh building %d: %w", buildingID, err)
	}

	var all []*models.Listing
	for _, p := range props {
		ls, err := u.repo.ListListingsByProperty(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("refresh building %d: %w", buildingID, err)
		}
		all = append(all, ls...)
	}
	if len(all) == 0 {
		return nil
	}

	selected := selectListings(all, nil)

	updated := *b
	if addr := voteString(selected, func(l *models.Listing) *string { return l.ListingAddress },
		normalizer.NormalizeAddress); addr != nil {
		norm := normalizer.NormalizeAddress(*addr)
		updated.Address = addr
		updated.NormalizedAddress = &norm
	}
	if v := voteInt(selected, func(l *models.Listing) *int { return l.ListingTotalFloors }); v != nil {
		updated.TotalFloors = v
	}
	if v := voteInt(selected, func(l *models.Listing) *int { return l.ListingBasementFloors }); v != nil {
		updated.BasementFloors = v
	}
	if v := voteInt(selected, func(l *models.Listing) *int { return l.ListingTotalUnits }); v != nil {
		updated.TotalUnits = v
	}
	if v := voteInt(selected, func(l *models.Listing) *int { return l.ListingBuiltYear }); v != nil {
		updated.BuiltYear = v
	}
	if v := voteInt(selected, func(l *models.Listing) *int { return l.ListingBuiltMonth }); v != nil {
		updated.BuiltMonth = v
	}
	if v := voteString(selected, func(l *models.Listing) *string { return l.ListingBuildingStructure },
		normalizer.Normalize); v != nil {
		updated.ConstructionType = v
	}
	if v := voteString(selected, func(l *models.Listing) *string { return l.ListingLandRights },
		normalizer.Normalize); v != nil {
		updated.LandRights = v
	}
	if v := voteString(selected, func(l *models.Listing) *string { return l.ListingStationInfo },
		normalizer.NormalizeStationInfo); v != nil {
		updated.StationInfo = v
	}

	if err := u.refreshBuildingName(ctx, &updated); err != nil {
		return fmt.Errorf("refresh building %d: %w", buildingID, err)
	}

	if err := u.repo.UpdateBuildingAttrs(ctx, &updated); err != nil {
		return fmt.Errorf("refresh building %d: %w", buildingID, err)
	}
	return nil
}

// refreshBuildingName runs the name vote. Ad-copy names never win over a
// real name regardless of weight, and every observed name is recorded in
// the alias table.
func (u *Updater) refreshBuildingName(ctx context.Context, b *models.Building) error {
	votes, err := u.repo.BuildingNameVotes(ctx, b.ID)
	if err != nil {
		return err
	}
	if len(votes) == 0 {
		return nil
	}

	var entries []entry
	hasRealName := false
	adCopy := make(map[string]bool)
	for _, v := range votes {
		normalized := normalizer.Normalize(v.Name)
		isAd := normalizer.IsAdvertisingText(v.Name)
		if !isAd {
			hasRealName = true
		} else {
			adCopy[normalized] = true
		}
		w := float64(v.Count) * models.VoteWeight(v.Source)
		if isAd {
			w *= normalizer.AdCopyWeight
		}
		entries = append(entries, entry{
			bucket: normalizer.Canonicalize(v.Name),
			value:  normalized,
			weight: w,
			prio:   models.PriorityIndex(v.Source),
		})

		if err := u.repo.UpsertBuildingListingName(ctx, b.ID, normalized, v.Source, v.Count); err != nil {
			return err
		}
	}

	if hasRealName {
		// Remove ad-copy ballots entirely so they cannot win.
		kept := entries[:0]
		for _, e := range entries {
			if !adCopy[e.value] {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	name, ok := winner(entries)
	if !ok {
		return nil
	}
	b.NormalizedName = name
	b.CanonicalName = normalizer.Canonicalize(name)
	b.IsValidName = !normalizer.IsAdvertisingText(name)
	return nil
}
