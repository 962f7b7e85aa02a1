package vote

import (
	"testing"
	"time"

	"condoscan/internal/models"
	"condoscan/internal/normalizer"
)

func TestWinner(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		entries []entry
		want    string
		ok      bool
	}{
		{
			name: "no ballots",
			ok:   false,
		},
		{
			name:    "single ballot",
			entries: []entry{{bucket: "a", value: "A", weight: 1, prio: 0}},
			want:    "A",
			ok:      true,
		},
		{
			name: "bucket weight sums across ballots",
			entries: []entry{
				{bucket: "a", value: "A", weight: 4, prio: 0},
				{bucket: "b", value: "B1", weight: 3, prio: 1},
				{bucket: "b", value: "B1", weight: 2, prio: 2},
			},
			want: "B1",
			ok:   true,
		},
		{
			name: "heaviest representation within the winning bucket",
			entries: []entry{
				{bucket: "b", value: "B1", weight: 2, prio: 1},
				{bucket: "b", value: "B2", weight: 3, prio: 2},
				{bucket: "a", value: "A", weight: 1, prio: 0},
			},
			want: "B2",
			ok:   true,
		},
		{
			name: "bucket tie goes to the higher priority source",
			entries: []entry{
				{bucket: "a", value: "A", weight: 3, prio: 2},
				{bucket: "b", value: "B", weight: 3, prio: 1},
			},
			want: "B",
			ok:   true,
		},
		{
			name: "representation tie goes to the higher priority source",
			entries: []entry{
				{bucket: "b", value: "B1", weight: 2, prio: 3},
				{bucket: "b", value: "B2", weight: 2, prio: 1},
			},
			want: "B2",
			ok:   true,
		},
		{
			name: "full tie falls back to the smaller string",
			entries: []entry{
				{bucket: "b", value: "B2", weight: 2, prio: 1},
				{bucket: "b", value: "B1", weight: 2, prio: 1},
			},
			want: "B1",
			ok:   true,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := winner(tc.entries)
			if got != tc.want || ok != tc.ok {
				t.Errorf("winner() = (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func activeListing(src models.SourceSite) *models.Listing {
	return &models.Listing{SourceSite: src, IsActive: true}
}

func TestSelectListings(t *testing.T) {
	t.Parallel()

	soldAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	inWindow := soldAt.Add(-3 * 24 * time.Hour)
	outOfWindow := soldAt.Add(-30 * 24 * time.Hour)

	active := activeListing(models.SourceSuumo)
	confirmed := &models.Listing{SourceSite: models.SourceHomes, LastConfirmedAt: &inWindow}
	old := &models.Listing{SourceSite: models.SourceNomu, LastConfirmedAt: &outOfWindow}

	t.Run("active listings preferred", func(t *testing.T) {
		t.Parallel()
		got := selectListings([]*models.Listing{old, active, confirmed}, &soldAt)
		if len(got) != 1 || got[0] != active {
			t.Errorf("got %d listings, want only the active one", len(got))
		}
	})

	t.Run("sold window when nothing active", func(t *testing.T) {
		t.Parallel()
		got := selectListings([]*models.Listing{old, confirmed}, &soldAt)
		if len(got) != 1 || got[0] != confirmed {
			t.Errorf("got %d listings, want only the in-window one", len(got))
		}
	})

	t.Run("everything as a last resort", func(t *testing.T) {
		t.Parallel()
		got := selectListings([]*models.Listing{old}, &soldAt)
		if len(got) != 1 {
			t.Errorf("got %d listings, want the full set", len(got))
		}
	})

	t.Run("no sold date falls through to all", func(t *testing.T) {
		t.Parallel()
		got := selectListings([]*models.Listing{old, confirmed}, nil)
		if len(got) != 2 {
			t.Errorf("got %d listings, want 2", len(got))
		}
	})
}

func intListing(src models.SourceSite, v int) *models.Listing {
	l := activeListing(src)
	l.ListingFloorNumber = &v
	return l
}

func TestVoteInt(t *testing.T) {
	t.Parallel()

	get := func(l *models.Listing) *int { return l.ListingFloorNumber }

	t.Run("weighted majority", func(t *testing.T) {
		t.Parallel()
		// homes (5) + nomu (3) outweigh suumo (6).
		listings := []*models.Listing{
			intListing(models.SourceSuumo, 4),
			intListing(models.SourceHomes, 5),
			intListing(models.SourceNomu, 5),
		}
		got := voteInt(listings, get)
		if got == nil || *got != 5 {
			t.Errorf("voteInt = %v, want 5", got)
		}
	})

	t.Run("nil values carry no ballot", func(t *testing.T) {
		t.Parallel()
		listings := []*models.Listing{
			activeListing(models.SourceSuumo),
			intListing(models.SourceLivable, 7),
		}
		got := voteInt(listings, get)
		if got == nil || *got != 7 {
			t.Errorf("voteInt = %v, want 7", got)
		}
	})

	t.Run("no ballots at all", func(t *testing.T) {
		t.Parallel()
		if got := voteInt([]*models.Listing{activeListing(models.SourceSuumo)}, get); got != nil {
			t.Errorf("voteInt = %v, want nil", got)
		}
	})
}

func TestVoteStringBuckets(t *testing.T) {
	t.Parallel()

	// Full-width and half-width renditions of one layout land in one bucket
	// and together outvote the heavier single source.
	s1, s2, s3 := "２ＬＤＫ", "2LDK", "3LDK"
	listings := []*models.Listing{
		{SourceSite: models.SourceSuumo, ListingLayout: &s3},
		{SourceSite: models.SourceHomes, ListingLayout: &s1},
		{SourceSite: models.SourceRehouse, ListingLayout: &s2},
	}
	got := voteString(listings, func(l *models.Listing) *string { return l.ListingLayout }, normalizer.NormalizeLayout)
	if got == nil {
		t.Fatal("voteString returned nil")
	}
	if *got != "2LDK" && *got != "２ＬＤＫ" {
		t.Errorf("voteString = %q, want a 2LDK representation", *got)
	}
}

func TestVoteDisplayNamePenalizesAdCopy(t *testing.T) {
	t.Parallel()

	// A too-short name counts as ad copy, so its suumo weight (6) drops to
	// 0.6 and the real name from the weakest source still wins.
	u := NewUpdater(nil)
	adCopy := activeListing(models.SourceSuumo)
	adCopy.ListingBuildingName = "AB"
	real := activeListing(models.SourceLivable)
	real.ListingBuildingName = "グランドタワー芝浦"

	got := u.voteDisplayName([]*models.Listing{adCopy, real})
	if got == nil {
		t.Fatal("voteDisplayName returned nil")
	}
	if *got != normalizer.Normalize("グランドタワー芝浦") {
		t.Errorf("voteDisplayName = %q, want the real name", *got)
	}
}

func TestVoteWeightOrdering(t *testing.T) {
	t.Parallel()

	prev := models.VoteWeight(models.SourcePriority[0])
	for _, s := range models.SourcePriority[1:] {
		w := models.VoteWeight(s)
		if w >= prev {
			t.Errorf("weight of %s (%g) not below its predecessor (%g)", s, w, prev)
		}
		prev = w
	}
}
