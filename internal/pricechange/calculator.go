package pricechange

import (
	"context"
	"fmt"
	"sort"
	"time"

	"condoscan/internal/models"
	"condoscan/internal/repository"
)

// Calculator derives canonical per-property price-change events from the
// per-listing price history.
type Calculator struct {
	repo *repository.Repository
}

func NewCalculator(repo *repository.Repository) *Calculator {
	return &Calculator{repo: repo}
}

// Recompute rebuilds the full price-change set for one property and swaps
// it in atomically.
func (c *Calculator) Recompute(ctx context.Context, propertyID int64) error {
	listings, err := c.repo.ListListingsByProperty(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("recompute price changes for property %d: %w", propertyID, err)
	}
	points, err := c.repo.PropertyPriceHistory(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("recompute price changes for property %d: %w", propertyID, err)
	}

	changes := Derive(listings, points, time.Now())
	if err := c.repo.ReplacePropertyPriceChanges(ctx, propertyID, changes); err != nil {
		return fmt.Errorf("recompute price changes for property %d: %w", propertyID, err)
	}
	for i := range changes {
		changes[i].MasterPropertyID = propertyID
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Derive walks every day from the earliest listing observation to today,
// computes the day's majority price across in-effect listings, and emits a
// change event whenever it moves. Pure function, the test surface of the
// calculator.
func Derive(listings []*models.Listing, points []repository.PricePoint, now time.Time) []models.PropertyPriceChange {
	if len(listings) == 0 {
		return nil
	}

	type span struct {
		first, last time.Time // last is zero for still-active listings
		current     *int
	}
	spans := make(map[int64]span, len(listings))
	var minDate time.Time
	for _, l := range listings {
		s := span{first: dateOf(l.FirstSeenAt), current: l.CurrentPrice}
		if l.DelistedAt != nil {
			s.last = dateOf(*l.DelistedAt)
		}
		spans[l.ID] = s
		if minDate.IsZero() || s.first.Before(minDate) {
			minDate = s.first
		}
	}

	// Per-listing history sorted by time, for point-in-time price lookup.
	byListing := make(map[int64][]repository.PricePoint)
	for _, p := range points {
		byListing[p.ListingID] = append(byListing[p.ListingID], p)
	}
	for id := range byListing {
		ps := byListing[id]
		sort.Slice(ps, func(i, j int) bool { return ps[i].RecordedAt.Before(ps[j].RecordedAt) })
		byListing[id] = ps
	}

	// closePriceOn is the last price observed on or before day; openPriceOn
	// is the price in effect when the day began, falling back to the day's
	// first observation for a listing first seen that day. Both fall back to
	// the listing's current price when there is no history at all.
	closePriceOn := func(listingID int64, day time.Time) *int {
		var latest *int
		for _, p := range byListing[listingID] {
			if dateOf(p.RecordedAt).After(day) {
				break
			}
			v := p.Price
			latest = &v
		}
		if latest == nil {
			latest = spans[listingID].current
		}
		return latest
	}
	openPriceOn := func(listingID int64, day time.Time) *int {
		var prior, first *int
		for _, p := range byListing[listingID] {
			d := dateOf(p.RecordedAt)
			if d.After(day) {
				break
			}
			v := p.Price
			if d.Before(day) {
				prior = &v
			} else if first == nil {
				first = &v
			}
		}
		if prior != nil {
			return prior
		}
		if first != nil {
			return first
		}
		return spans[listingID].current
	}

	// Majority price of a vote set; ties go to the smaller price.
	majority := func(votes map[int]int) (price, count int) {
		first := true
		for p, c := range votes {
			if first || c > count || (c == count && p < price) {
				price, count = p, c
				first = false
			}
		}
		return price, count
	}

	today := dateOf(now)
	var changes []models.PropertyPriceChange
	var prevPrice *int
	prevVotes := 0

	for day := minDate; !day.After(today); day = day.AddDate(0, 0, 1) {
		votes := make(map[int]int)
		var openVotes map[int]int
		if prevPrice == nil {
			openVotes = make(map[int]int)
		}
		for id, s := range spans {
			if day.Before(s.first) {
				continue
			}
			if !s.last.IsZero() && day.After(s.last) {
				continue
			}
			if p := closePriceOn(id, day); p != nil {
				votes[*p]++
			}
			if openVotes != nil {
				if p := openPriceOn(id, day); p != nil {
					openVotes[*p]++
				}
			}
		}
		if len(votes) == 0 {
			continue
		}

		// The first observed day seeds the baseline from the prices in
		// effect as the day opened, so a change within that day still
		// registers.
		if prevPrice == nil && len(openVotes) > 0 {
			p, c := majority(openVotes)
			prevPrice = &p
			prevVotes = c
		}

		dayPrice, dayVotes := majority(votes)

		if prevPrice != nil && dayPrice != *prevPrice {
			diff := dayPrice - *prevPrice
			changes = append(changes, models.PropertyPriceChange{
				ChangeDate:    day,
				OldPrice:      *prevPrice,
				NewPrice:      dayPrice,
				PriceDiff:     diff,
				PriceDiffRate: float64(diff) / float64(*prevPrice) * 100,
				NewPriceVotes: dayVotes,
				OldPriceVotes: prevVotes,
			})
		}
		p := dayPrice
		prevPrice = &p
		prevVotes = dayVotes
	}
	return changes
}
