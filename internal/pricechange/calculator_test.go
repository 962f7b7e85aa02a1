package pricechange

import (
	"testing"
	"time"

	"condoscan/internal/models"
	"condoscan/internal/repository"
)

func day(d int) time.Time {
	return time.Date(2026, 1, 1+d, 0, 0, 0, 0, time.UTC)
}

func listing(id int64, firstSeen int, current *int) *models.Listing {
	return &models.Listing{ID: id, FirstSeenAt: day(firstSeen), CurrentPrice: current}
}

func price(v int) *int { return &v }

func point(listingID int64, d int, p int) repository.PricePoint {
	return repository.PricePoint{ListingID: listingID, Price: p, RecordedAt: day(d)}
}

func TestDeriveNoListings(t *testing.T) {
	t.Parallel()

	if got := Derive(nil, nil, day(10)); got != nil {
		t.Errorf("Derive(nil) = %v, want nil", got)
	}
}

func TestDeriveSingleListingDrop(t *testing.T) {
	t.Parallel()

	listings := []*models.Listing{listing(1, 0, price(2800))}
	points := []repository.PricePoint{
		point(1, 0, 3000),
		point(1, 10, 2800),
	}

	changes := Derive(listings, points, day(20))
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if !c.ChangeDate.Equal(day(10)) {
		t.Errorf("ChangeDate = %v, want %v", c.ChangeDate, day(10))
	}
	if c.OldPrice != 3000 || c.NewPrice != 2800 || c.PriceDiff != -200 {
		t.Errorf("prices = %d -> %d (diff %d), want 3000 -> 2800", c.OldPrice, c.NewPrice, c.PriceDiff)
	}
	wantRate := float64(-200) / 3000 * 100
	if c.PriceDiffRate != wantRate {
		t.Errorf("PriceDiffRate = %g, want %g", c.PriceDiffRate, wantRate)
	}
	if c.OldPriceVotes != 1 || c.NewPriceVotes != 1 {
		t.Errorf("votes = %d/%d, want 1/1", c.OldPriceVotes, c.NewPriceVotes)
	}
}

func TestDeriveSameDayDrop(t *testing.T) {
	t.Parallel()

	// Both observations land on the same day: listed in the morning at
	// 12000, cut to 11800 by the afternoon scrape.
	listings := []*models.Listing{listing(1, 10, price(11800))}
	points := []repository.PricePoint{
		{ListingID: 1, Price: 12000, RecordedAt: day(10).Add(9 * time.Hour)},
		{ListingID: 1, Price: 11800, RecordedAt: day(10).Add(15 * time.Hour)},
	}

	changes := Derive(listings, points, day(10))
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if !c.ChangeDate.Equal(day(10)) {
		t.Errorf("ChangeDate = %v, want %v", c.ChangeDate, day(10))
	}
	if c.OldPrice != 12000 || c.NewPrice != 11800 || c.PriceDiff != -200 {
		t.Errorf("prices = %d -> %d (diff %d), want 12000 -> 11800", c.OldPrice, c.NewPrice, c.PriceDiff)
	}
	if c.OldPriceVotes != 1 || c.NewPriceVotes != 1 {
		t.Errorf("votes = %d/%d, want 1/1", c.OldPriceVotes, c.NewPriceVotes)
	}
}

func TestDeriveUnsortedHistory(t *testing.T) {
	t.Parallel()

	listings := []*models.Listing{listing(1, 0, price(2600))}
	points := []repository.PricePoint{
		point(1, 10, 2800),
		point(1, 0, 3000),
		point(1, 15, 2600),
	}

	changes := Derive(listings, points, day(20))
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if changes[0].NewPrice != 2800 || changes[1].NewPrice != 2600 {
		t.Errorf("change sequence = %d, %d, want 2800 then 2600", changes[0].NewPrice, changes[1].NewPrice)
	}
}

func TestDeriveTieGoesToSmallerPrice(t *testing.T) {
	t.Parallel()

	// Two listings split 1-1 from day 5 on; the smaller price holds, so no
	// change is ever emitted.
	listings := []*models.Listing{
		listing(1, 0, price(3000)),
		listing(2, 0, price(3100)),
	}
	points := []repository.PricePoint{
		point(1, 0, 3000),
		point(2, 0, 3000),
		point(2, 5, 3100),
	}

	if changes := Derive(listings, points, day(10)); len(changes) != 0 {
		t.Errorf("got %d changes, want none while the tie holds", len(changes))
	}
}

func TestDeriveMajorityFlips(t *testing.T) {
	t.Parallel()

	// A third listing appears on day 6 and breaks the 3000/3100 tie.
	listings := []*models.Listing{
		listing(1, 0, price(3000)),
		listing(2, 0, price(3100)),
		listing(3, 6, price(3100)),
	}
	points := []repository.PricePoint{
		point(1, 0, 3000),
		point(2, 0, 3100),
	}

	changes := Derive(listings, points, day(10))
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if !c.ChangeDate.Equal(day(6)) || c.OldPrice != 3000 || c.NewPrice != 3100 {
		t.Errorf("change = %+v, want 3000 -> 3100 on day 6", c)
	}
	if c.NewPriceVotes != 2 || c.OldPriceVotes != 1 {
		t.Errorf("votes = %d/%d, want 2/1", c.NewPriceVotes, c.OldPriceVotes)
	}
}

func TestDeriveDelistedLeavesElectorate(t *testing.T) {
	t.Parallel()

	delisted := day(4)
	a := listing(1, 0, price(3000))
	a.DelistedAt = &delisted
	b := listing(2, 2, price(3200))

	changes := Derive([]*models.Listing{a, b}, nil, day(10))
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if !c.ChangeDate.Equal(day(5)) {
		t.Errorf("ChangeDate = %v, want the day after delisting", c.ChangeDate)
	}
	if c.OldPrice != 3000 || c.NewPrice != 3200 {
		t.Errorf("prices = %d -> %d, want 3000 -> 3200", c.OldPrice, c.NewPrice)
	}
}

func TestDeriveDeterministic(t *testing.T) {
	t.Parallel()

	listings := []*models.Listing{
		listing(1, 0, price(2800)),
		listing(2, 3, price(2800)),
	}
	points := []repository.PricePoint{
		point(1, 0, 3000),
		point(1, 7, 2800),
		point(2, 3, 3000),
		point(2, 7, 2800),
	}

	first := Derive(listings, points, day(15))
	for i := 0; i < 10; i++ {
		again := Derive(listings, points, day(15))
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d changes, first run %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("run %d change %d = %+v, first run %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestDeriveNoPricesNoChanges(t *testing.T) {
	t.Parallel()

	listings := []*models.Listing{listing(1, 0, nil)}
	if changes := Derive(listings, nil, day(5)); len(changes) != 0 {
		t.Errorf("got %d changes from a priceless listing", len(changes))
	}
}
