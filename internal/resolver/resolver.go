package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"condoscan/internal/eventbus"
	"condoscan/internal/models"
	"condoscan/internal/normalizer"
	"condoscan/internal/repository"
	"condoscan/internal/vote"
)

// Outcome classifies what one raw listing changed.
type Outcome string

const (
	OutcomeNew          Outcome = "new"
	OutcomePriceChanged Outcome = "price_changed"
	OutcomeOtherUpdate  Outcome = "other_updates"
	OutcomeUnchanged    Outcome = "refetched_unchanged"
	OutcomeSaveFailed   Outcome = "save_failed"
)

// Result reports where a raw listing landed.
type Result struct {
	Outcome    Outcome
	BuildingID int64
	PropertyID int64
	ListingID  int64
}

// Resolver maps raw listings onto the building/property/listing identity
// graph, creating entities as needed.
type Resolver struct {
	repo    *repository.Repository
	voter   *vote.Updater
	bus     *eventbus.Bus
	keyLock *keyedMutex
}

func New(repo *repository.Repository, voter *vote.Updater, bus *eventbus.Bus) *Resolver {
	return &Resolver{
		repo:    repo,
		voter:   voter,
		bus:     bus,
		keyLock: newKeyedMutex(),
	}
}

// Resolve ingests one raw listing. Updates for the same
// (source_site, site_property_id) are serialized by an in-process lock.
func (r *Resolver) Resolve(ctx context.Context, raw *models.RawListing) (*Result, error) {
	if raw.SitePropertyID == "" || raw.URL == "" || raw.BuildingName == "" {
		return &Result{Outcome: OutcomeSaveFailed}, fmt.Errorf("raw listing missing required fields")
	}

	key := string(raw.SourceSite) + "_" + raw.SitePropertyID
	r.keyLock.Lock(key)
	defer r.keyLock.Unlock(key)

	res, err := r.resolveLocked(ctx, raw)
	if err != nil {
		return &Result{Outcome: OutcomeSaveFailed}, err
	}

	// Downstream recomputation. Voting runs inline; price-change
	// derivation goes through the queue.
	if err := r.voter.RefreshProperty(ctx, res.PropertyID); err != nil {
		log.Printf("[resolver] refresh property %d: %v", res.PropertyID, err)
	}
	if err := r.voter.RefreshBuilding(ctx, res.BuildingID); err != nil {
		log.Printf("[resolver] refresh building %d: %v", res.BuildingID, err)
	}
	if res.Outcome == OutcomeNew || res.Outcome == OutcomePriceChanged {
		if err := r.repo.EnqueuePriceChange(ctx, res.PropertyID, 5, "listing_updated"); err != nil {
			log.Printf("[resolver] enqueue price change for property %d: %v", res.PropertyID, err)
		}
	}

	r.bus.Publish(eventbus.Event{
		Type: eventbus.TypeListingIngested,
		Data: map[string]interface{}{
			"outcome":     string(res.Outcome),
			"building_id": res.BuildingID,
			"property_id": res.PropertyID,
			"listing_id":  res.ListingID,
		},
	})
	return res, nil
}

// resolveLocked runs the full per-listing sequence inside one transaction,
// so a crash can never leave a listing without its price-history row.
func (r *Resolver) resolveLocked(ctx context.Context, raw *models.RawListing) (*Result, error) {
	var res *Result
	err := r.repo.WithTxRepo(ctx, func(repo *repository.Repository) error {
		var err error
		res, err = r.resolveInTx(ctx, repo, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Resolver) resolveInTx(ctx context.Context, repo *repository.Repository, raw *models.RawListing) (*Result, error) {
	now := time.Now()

	// Fast path: known listing key.
	existing, err := repo.GetListingBySourceKey(ctx, raw.SourceSite, raw.SitePropertyID)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}
	if existing != nil {
		prop, err := repo.GetProperty(ctx, existing.MasterPropertyID)
		if err != nil {
			return nil, err
		}
		outcome, err := r.applyUpdate(ctx, repo, existing, raw, now)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: outcome, BuildingID: prop.BuildingID, PropertyID: prop.ID, ListingID: existing.ID}, nil
	}

	buildingID, err := r.resolveBuilding(ctx, repo, raw)
	if err != nil {
		return nil, err
	}
	propertyID, err := r.resolveProperty(ctx, repo, buildingID, raw)
	if err != nil {
		return nil, err
	}

	// The insert runs under a savepoint so a lost race only rolls back the
	// insert itself and the fallback update can proceed.
	listing := newListingFromRaw(raw, propertyID, now)
	err = repo.WithTxRepo(ctx, func(txRepo *repository.Repository) error {
		return txRepo.CreateListing(ctx, listing)
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			// A concurrent worker won the insert race; fall back to update.
			dup, err2 := repo.GetListingBySourceKey(ctx, raw.SourceSite, raw.SitePropertyID)
			if err2 != nil {
				return nil, err2
			}
			outcome, err2 := r.applyUpdate(ctx, repo, dup, raw, now)
			if err2 != nil {
				return nil, err2
			}
			prop, err2 := repo.GetProperty(ctx, dup.MasterPropertyID)
			if err2 != nil {
				return nil, err2
			}
			return &Result{Outcome: outcome, BuildingID: prop.BuildingID, PropertyID: prop.ID, ListingID: dup.ID}, nil
		}
		return nil, err
	}
	if raw.CurrentPrice != nil {
		if err := repo.AppendListingPrice(ctx, listing.ID, *raw.CurrentPrice, now); err != nil {
			return nil, err
		}
	}
	if err := repo.UpdatePropertyEarliestListingDate(ctx, propertyID); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeNew, BuildingID: buildingID, PropertyID: propertyID, ListingID: listing.ID}, nil
}

// resolveBuilding finds or creates the building for a raw listing, then
// follows merge redirection.
func (r *Resolver) resolveBuilding(ctx context.Context, repo *repository.Repository, raw *models.RawListing) (int64, error) {
	canonical := normalizer.Canonicalize(raw.BuildingName)

	var addrPrefix string
	if raw.ListingAddress != nil {
		addrPrefix = normalizer.AddressPrefix(normalizer.NormalizeAddress(*raw.ListingAddress))
	}

	matches := func(b *models.Building) bool {
		if addrPrefix == "" || b.NormalizedAddress == nil {
			return true
		}
		return normalizer.AddressPrefix(*b.NormalizedAddress) == addrPrefix
	}

	candidates, err := repo.FindBuildingsByCanonicalName(ctx, canonical)
	if err != nil {
		return 0, err
	}
	for _, b := range candidates {
		if matches(b) {
			return repo.ResolveBuildingMerge(ctx, b.ID)
		}
	}

	aliased, err := repo.FindBuildingsByAliasCanonical(ctx, canonical)
	if err != nil {
		return 0, err
	}
	for _, b := range aliased {
		if matches(b) {
			return repo.ResolveBuildingMerge(ctx, b.ID)
		}
	}

	b := &models.Building{
		NormalizedName: normalizer.Normalize(raw.BuildingName),
		CanonicalName:  canonical,
		IsValidName:    !normalizer.IsAdvertisingText(raw.BuildingName),
	}
	if raw.ListingAddress != nil {
		norm := normalizer.NormalizeAddress(*raw.ListingAddress)
		b.Address = raw.ListingAddress
		b.NormalizedAddress = &norm
	}
	if raw.ListingTotalFloors != nil {
		b.TotalFloors = raw.ListingTotalFloors
	}
	if raw.ListingBuiltYear != nil {
		b.BuiltYear = raw.ListingBuiltYear
	}
	if err := repo.CreateBuilding(ctx, b); err != nil {
		return 0, err
	}
	return b.ID, nil
}

// resolveProperty finds or creates the master property inside the building,
// applying the merge-learned equivalence classes when the composite match
// is ambiguous.
func (r *Resolver) resolveProperty(ctx context.Context, repo *repository.Repository, buildingID int64, raw *models.RawListing) (int64, error) {
	if raw.RoomNumber != nil && *raw.RoomNumber != "" {
		p, err := repo.FindPropertyByRoom(ctx, buildingID, *raw.RoomNumber)
		if err == nil {
			return repo.ResolvePropertyMerge(ctx, p.ID)
		}
		if err != repository.ErrNotFound {
			return 0, err
		}
		return r.createProperty(ctx, repo, buildingID, raw)
	}

	var layout, direction *string
	if raw.ListingLayout != nil {
		v := normalizer.NormalizeLayout(*raw.ListingLayout)
		layout = &v
	}
	if raw.ListingDirection != nil {
		v := normalizer.NormalizeDirection(*raw.ListingDirection)
		direction = &v
	}

	// SQL constrains floor and area; layout and direction are filtered here
	// so merge-learned equivalences apply.
	candidates, err := repo.FindCandidateProperties(ctx, buildingID, raw.ListingFloorNumber, raw.ListingArea, nil, nil)
	if err != nil {
		return 0, err
	}

	eq, err := r.learnEquivalences(ctx, repo, buildingID)
	if err != nil {
		return 0, err
	}

	var surviving []*models.MasterProperty
	for _, p := range candidates {
		if !fieldCompatible(layout, p.Layout, normalizer.NormalizeLayout, eq.layouts) {
			continue
		}
		if !fieldCompatible(direction, p.Direction, normalizer.NormalizeDirection, eq.directions) {
			continue
		}
		surviving = append(surviving, p)
	}

	switch len(surviving) {
	case 0:
		return r.createProperty(ctx, repo, buildingID, raw)
	case 1:
		return repo.ResolvePropertyMerge(ctx, surviving[0].ID)
	}

	selected, err := r.pickAmbiguous(ctx, repo, buildingID, raw, surviving)
	if err != nil {
		return 0, err
	}
	return repo.ResolvePropertyMerge(ctx, selected)
}

// fieldCompatible reports whether an observed value can belong to a stored
// property field. Nil on either side matches; otherwise the normalized
// values must be equal or merge-equivalent.
func fieldCompatible(observed, stored *string, norm func(string) string, eq *unionFind) bool {
	if observed == nil || stored == nil {
		return true
	}
	a, b := norm(*observed), norm(*stored)
	if a == b {
		return true
	}
	return eq.same(a, b)
}

// pickAmbiguous chooses among multiple surviving candidates: closest
// balcony area, then matching station info, then the property with the
// most prior listings. The decision is recorded for operator review.
func (r *Resolver) pickAmbiguous(ctx context.Context, repo *repository.Repository, buildingID int64, raw *models.RawListing, candidates []*models.MasterProperty) (int64, error) {
	type scored struct {
		id       int64
		score    float64
		listings int
	}
	var best scored
	first := true

	for _, p := range candidates {
		s := scored{id: p.ID}
		if raw.ListingBalconyArea != nil && p.BalconyArea != nil {
			s.score -= math.Abs(*raw.ListingBalconyArea - *p.BalconyArea)
		}
		if raw.ListingStationInfo != nil && p.StationInfo != nil &&
			normalizer.NormalizeStationInfo(*raw.ListingStationInfo) == normalizer.NormalizeStationInfo(*p.StationInfo) {
			s.score += 1
		}
		ls, err := repo.ListListingsByProperty(ctx, p.ID)
		if err != nil {
			return 0, err
		}
		s.listings = len(ls)

		if first || s.score > best.score ||
			(s.score == best.score && s.listings > best.listings) {
			best = s
			first = false
		}
	}

	ids := make([]int64, len(candidates))
	for i, p := range candidates {
		ids[i] = p.ID
	}
	m := &models.AmbiguousPropertyMatch{
		BuildingID:           buildingID,
		SourceSite:           raw.SourceSite,
		SitePropertyID:       raw.SitePropertyID,
		SelectedPropertyID:   best.id,
		CandidatePropertyIDs: ids,
		Confidence:           1.0 / float64(len(candidates)),
	}
	if err := repo.RecordAmbiguousMatch(ctx, m); err != nil {
		return 0, err
	}
	log.Printf("[resolver] ambiguous match for %s/%s in building %d: picked property %d of %d candidates",
		raw.SourceSite, raw.SitePropertyID, buildingID, best.id, len(candidates))
	return best.id, nil
}

func (r *Resolver) createProperty(ctx context.Context, repo *repository.Repository, buildingID int64, raw *models.RawListing) (int64, error) {
	// Savepoint around the insert so losing the race leaves the enclosing
	// transaction usable for the retry lookup.
	p := propertyFromRaw(buildingID, raw)
	err := repo.WithTxRepo(ctx, func(txRepo *repository.Repository) error {
		return txRepo.CreateProperty(ctx, p)
	})
	if err == nil {
		return p.ID, nil
	}
	if !repository.IsUniqueViolation(err) {
		return 0, err
	}

	// A concurrent inserter created the identity first; retry the search
	// once and reuse.
	if raw.RoomNumber != nil && *raw.RoomNumber != "" {
		existing, err2 := repo.FindPropertyByRoom(ctx, buildingID, *raw.RoomNumber)
		if err2 != nil {
			return 0, fmt.Errorf("property create conflict, retry failed: %w", err2)
		}
		return existing.ID, nil
	}
	candidates, err2 := repo.FindCandidateProperties(ctx, buildingID, p.FloorNumber, p.Area, p.Layout, p.Direction)
	if err2 != nil {
		return 0, fmt.Errorf("property create conflict, retry failed: %w", err2)
	}
	if len(candidates) == 0 {
		return 0, fmt.Errorf("property create conflict but no match on retry: %w", err)
	}
	return candidates[0].ID, nil
}

// mergeEquivalences holds the attribute equivalence classes learned from a
// building's property merge history.
type mergeEquivalences struct {
	layouts    *unionFind
	directions *unionFind
}

func (r *Resolver) learnEquivalences(ctx context.Context, repo *repository.Repository, buildingID int64) (*mergeEquivalences, error) {
	eq := &mergeEquivalences{layouts: newUnionFind(), directions: newUnionFind()}

	histories, err := repo.PropertyMergeHistoriesForBuilding(ctx, buildingID)
	if err != nil {
		return nil, err
	}
	for _, h := range histories {
		var d models.PropertyMergeDetails
		if err := json.Unmarshal(h.MergeDetails, &d); err != nil {
			continue
		}
		primary, err := repo.GetProperty(ctx, h.FinalPrimaryPropertyID)
		if err != nil {
			continue
		}
		if d.Layout != nil && primary.Layout != nil {
			eq.layouts.union(normalizer.NormalizeLayout(*d.Layout), normalizer.NormalizeLayout(*primary.Layout))
		}
		if d.Direction != nil && primary.Direction != nil {
			eq.directions.union(normalizer.NormalizeDirection(*d.Direction), normalizer.NormalizeDirection(*primary.Direction))
		}
	}
	return eq, nil
}

// applyUpdate merges a fresh observation into an existing listing and
// classifies the result.
func (r *Resolver) applyUpdate(ctx context.Context, repo *repository.Repository, l *models.Listing, raw *models.RawListing, now time.Time) (Outcome, error) {
	priceChanged := raw.CurrentPrice != nil && !intPtrEq(raw.CurrentPrice, l.CurrentPrice)
	otherChanged := listingAttrsChanged(l, raw)

	l.URL = raw.URL
	l.IsActive = true
	l.ListingBuildingName = raw.BuildingName
	l.ListingAddress = raw.ListingAddress
	l.ListingFloorNumber = raw.ListingFloorNumber
	l.ListingArea = raw.ListingArea
	l.ListingBalconyArea = raw.ListingBalconyArea
	l.ListingLayout = raw.ListingLayout
	l.ListingDirection = raw.ListingDirection
	l.ListingTotalFloors = raw.ListingTotalFloors
	l.ListingBasementFloors = raw.ListingBasementFloors
	l.ListingTotalUnits = raw.ListingTotalUnits
	l.ListingBuiltYear = raw.ListingBuiltYear
	l.ListingBuiltMonth = raw.ListingBuiltMonth
	l.ListingLandRights = raw.ListingLandRights
	l.ListingStationInfo = raw.ListingStationInfo
	l.ListingBuildingStructure = raw.ListingBuildingStructure
	l.ManagementFee = raw.ManagementFee
	l.RepairFund = raw.RepairFund
	l.AgencyName = raw.AgencyName
	l.AgencyTel = raw.AgencyTel
	l.RoomNumber = raw.RoomNumber
	l.HasUpdateMark = raw.HasUpdateMark
	l.FirstPublishedAt = raw.FirstPublishedAt
	l.PublishedAt = raw.PublishedAt
	l.LastScrapedAt = &now
	l.LastConfirmedAt = &now
	l.DelistedAt = nil

	// Only a run that actually fetched the detail page moves the fetch
	// timestamps; list-only observations keep the prior stamp so the
	// refetch-age window stays accurate.
	if raw.DetailFetchedAt != nil {
		l.LastFetchedAt = raw.DetailFetchedAt
		l.DetailFetchedAt = raw.DetailFetchedAt
	}

	if priceChanged {
		l.CurrentPrice = raw.CurrentPrice
		l.PriceUpdatedAt = &now
	}

	if err := repo.UpdateListing(ctx, l); err != nil {
		return OutcomeSaveFailed, err
	}
	if priceChanged {
		if err := repo.AppendListingPrice(ctx, l.ID, *raw.CurrentPrice, now); err != nil {
			return OutcomeSaveFailed, err
		}
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypePriceChanged,
			Data: map[string]interface{}{"listing_id": l.ID, "price": *raw.CurrentPrice},
		})
		return OutcomePriceChanged, nil
	}
	if otherChanged {
		return OutcomeOtherUpdate, nil
	}
	return OutcomeUnchanged, nil
}

func newListingFromRaw(raw *models.RawListing, propertyID int64, now time.Time) *models.Listing {
	return &models.Listing{
		MasterPropertyID:         propertyID,
		SourceSite:               raw.SourceSite,
		SitePropertyID:           raw.SitePropertyID,
		URL:                      raw.URL,
		IsActive:                 true,
		ListingBuildingName:      raw.BuildingName,
		ListingAddress:           raw.ListingAddress,
		ListingFloorNumber:       raw.ListingFloorNumber,
		ListingArea:              raw.ListingArea,
		ListingBalconyArea:       raw.ListingBalconyArea,
		ListingLayout:            raw.ListingLayout,
		ListingDirection:         raw.ListingDirection,
		ListingTotalFloors:       raw.ListingTotalFloors,
		ListingBasementFloors:    raw.ListingBasementFloors,
		ListingTotalUnits:        raw.ListingTotalUnits,
		ListingBuiltYear:         raw.ListingBuiltYear,
		ListingBuiltMonth:        raw.ListingBuiltMonth,
		ListingLandRights:        raw.ListingLandRights,
		ListingStationInfo:       raw.ListingStationInfo,
		ListingBuildingStructure: raw.ListingBuildingStructure,
		CurrentPrice:             raw.CurrentPrice,
		ManagementFee:            raw.ManagementFee,
		RepairFund:               raw.RepairFund,
		AgencyName:               raw.AgencyName,
		AgencyTel:                raw.AgencyTel,
		RoomNumber:               raw.RoomNumber,
		HasUpdateMark:            raw.HasUpdateMark,
		FirstSeenAt:              now,
		FirstPublishedAt:         raw.FirstPublishedAt,
		PublishedAt:              raw.PublishedAt,
		LastScrapedAt:            &now,
		LastConfirmedAt:          &now,
		LastFetchedAt:            raw.DetailFetchedAt,
		DetailFetchedAt:          raw.DetailFetchedAt,
		PriceUpdatedAt:           nil,
	}
}

func propertyFromRaw(buildingID int64, raw *models.RawListing) *models.MasterProperty {
	p := &models.MasterProperty{BuildingID: buildingID}
	p.RoomNumber = raw.RoomNumber
	p.FloorNumber = raw.ListingFloorNumber
	p.Area = raw.ListingArea
	p.BalconyArea = raw.ListingBalconyArea
	if raw.ListingLayout != nil {
		v := normalizer.NormalizeLayout(*raw.ListingLayout)
		p.Layout = &v
	}
	if raw.ListingDirection != nil {
		v := normalizer.NormalizeDirection(*raw.ListingDirection)
		p.Direction = &v
	}
	if raw.ListingStationInfo != nil {
		v := normalizer.NormalizeStationInfo(*raw.ListingStationInfo)
		p.StationInfo = &v
	}
	p.CurrentPrice = raw.CurrentPrice
	p.ManagementFee = raw.ManagementFee
	p.RepairFund = raw.RepairFund
	name := normalizer.Normalize(raw.BuildingName)
	p.DisplayBuildingName = &name
	return p
}

func listingAttrsChanged(l *models.Listing, raw *models.RawListing) bool {
	return l.ListingBuildingName != raw.BuildingName ||
		!strPtrEq(l.ListingAddress, raw.ListingAddress) ||
		!intPtrEq(l.ListingFloorNumber, raw.ListingFloorNumber) ||
		!floatPtrEq(l.ListingArea, raw.ListingArea) ||
		!floatPtrEq(l.ListingBalconyArea, raw.ListingBalconyArea) ||
		!strPtrEq(l.ListingLayout, raw.ListingLayout) ||
		!strPtrEq(l.ListingDirection, raw.ListingDirection) ||
		!intPtrEq(l.ListingTotalFloors, raw.ListingTotalFloors) ||
		!intPtrEq(l.ListingBuiltYear, raw.ListingBuiltYear) ||
		!intPtrEq(l.ManagementFee, raw.ManagementFee) ||
		!intPtrEq(l.RepairFund, raw.RepairFund) ||
		!strPtrEq(l.AgencyName, raw.AgencyName) ||
		l.HasUpdateMark != raw.HasUpdateMark
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func floatPtrEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
