package merge

import (
	"context"
	"log"
	"sync"
	"time"

	"condoscan/internal/models"
	"condoscan/internal/normalizer"
	"condoscan/internal/repository"
)

// CandidatePair is one proposed building merge, smaller ID first.
type CandidatePair struct {
	BuildingID1 int64  `json:"building_id_1"`
	BuildingID2 int64  `json:"building_id_2"`
	Name1       string `json:"name_1"`
	Name2       string `json:"name_2"`
	Reason      string `json:"reason"`
}

// DuplicateDetector proposes building pairs that look like the same
// physical building. Results are cached briefly because a full scan walks
// every building.
type DuplicateDetector struct {
	repo *repository.Repository
	ttl  time.Duration

	mu        sync.RWMutex
	cached    []CandidatePair
	cachedAt  time.Time
	haveCache bool
}

func NewDuplicateDetector(repo *repository.Repository, ttl time.Duration) *DuplicateDetector {
	return &DuplicateDetector{repo: repo, ttl: ttl}
}

// Invalidate drops the cached result set.
func (d *DuplicateDetector) Invalidate() {
	d.mu.Lock()
	d.haveCache = false
	d.cached = nil
	d.mu.Unlock()
}

// Detect returns the current candidate pairs, recomputing when the cache
// has expired.
func (d *DuplicateDetector) Detect(ctx context.Context) ([]CandidatePair, error) {
	d.mu.RLock()
	if d.haveCache && time.Since(d.cachedAt) < d.ttl {
		pairs := d.cached
		d.mu.RUnlock()
		return pairs, nil
	}
	d.mu.RUnlock()

	pairs, err := d.scan(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cached = pairs
	d.cachedAt = time.Now()
	d.haveCache = true
	d.mu.Unlock()
	return pairs, nil
}

func bucketKey(canonical string) string {
	runes := []rune(canonical)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return string(runes)
}

func wardOf(b *models.Building) string {
	if b.NormalizedAddress == nil {
		return ""
	}
	addr := *b.NormalizedAddress
	for i, r := range addr {
		if r == '区' {
			return addr[:i+len("区")]
		}
	}
	return ""
}

func (d *DuplicateDetector) scan(ctx context.Context) ([]CandidatePair, error) {
	buildings, err := d.repo.BuildingsForDuplicateScan(ctx)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string][]*models.Building)
	for _, b := range buildings {
		buckets[bucketKey(b.CanonicalName)] = append(buckets[bucketKey(b.CanonicalName)], b)
	}

	var pairs []CandidatePair
	for _, bucket := range buckets {
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				wardA, wardB := wardOf(a), wardOf(b)
				if wardA == "" || wardA != wardB {
					continue
				}
				reason, dup := similar(a, b)
				if !dup {
					continue
				}
				excluded, err := d.repo.IsBuildingPairExcluded(ctx, a.ID, b.ID)
				if err != nil {
					return nil, err
				}
				if excluded {
					continue
				}
				pairs = append(pairs, CandidatePair{
					BuildingID1: a.ID, BuildingID2: b.ID,
					Name1: a.NormalizedName, Name2: b.NormalizedName,
					Reason: reason,
				})
			}
		}
	}
	log.Printf("[merge] duplicate scan: %d buildings, %d candidate pairs", len(buildings), len(pairs))
	return pairs, nil
}

// similar applies the pair rule: identical canonical names, or a matching
// address prefix plus at least two matching structural attributes.
func similar(a, b *models.Building) (string, bool) {
	if a.CanonicalName != "" && a.CanonicalName == b.CanonicalName {
		return "canonical_name", true
	}
	if a.NormalizedAddress == nil || b.NormalizedAddress == nil {
		return "", false
	}
	if normalizer.AddressPrefix(*a.NormalizedAddress) != normalizer.AddressPrefix(*b.NormalizedAddress) {
		return "", false
	}
	matches := 0
	if a.BuiltYear != nil && b.BuiltYear != nil && *a.BuiltYear == *b.BuiltYear {
		matches++
	}
	if a.TotalFloors != nil && b.TotalFloors != nil && *a.TotalFloors == *b.TotalFloors {
		matches++
	}
	if a.TotalUnits != nil && b.TotalUnits != nil && *a.TotalUnits == *b.TotalUnits {
		matches++
	}
	if matches >= 2 {
		return "address_and_attributes", true
	}
	return "", false
}
