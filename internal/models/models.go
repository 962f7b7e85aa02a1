package models

import (
	"encoding/json"
	"time"
)

// SourceSite identifies one of the scraped portal sites.
type SourceSite string

const (
	SourceSuumo   SourceSite = "suumo"
	SourceHomes   SourceSite = "homes"
	SourceRehouse SourceSite = "rehouse"
	SourceNomu    SourceSite = "nomu"
	SourceLivable SourceSite = "livable"
)

// SourcePriority lists the sites in descending trust order. A lower index
// wins majority-vote tie-breaks and contributes a larger vote weight.
var SourcePriority = []SourceSite{
	SourceSuumo,
	SourceHomes,
	SourceRehouse,
	SourceNomu,
	SourceLivable,
}

// PriorityIndex returns the site's position in SourcePriority, or
// len(SourcePriority) for unknown sites so they rank last.
func PriorityIndex(s SourceSite) int {
	for i, site := range SourcePriority {
		if site == s {
			return i
		}
	}
	return len(SourcePriority)
}

// VoteWeight is the base vote weight contributed by one listing of the
// given source: (rank count - priority index + 1), so suumo counts most.
func VoteWeight(s SourceSite) float64 {
	return float64(len(SourcePriority) - PriorityIndex(s) + 1)
}

// Building represents the 'buildings' table: one physical apartment building.
type Building struct {
	ID                int64      `json:"id"`
	NormalizedName    string     `json:"normalized_name"`
	CanonicalName     string     `json:"canonical_name"`
	Address           *string    `json:"address,omitempty"`
	NormalizedAddress *string    `json:"normalized_address,omitempty"`
	TotalFloors       *int       `json:"total_floors,omitempty"`
	BasementFloors    *int       `json:"basement_floors,omitempty"`
	TotalUnits        *int       `json:"total_units,omitempty"`
	BuiltYear         *int       `json:"built_year,omitempty"`
	BuiltMonth        *int       `json:"built_month,omitempty"`
	ConstructionType  *string    `json:"construction_type,omitempty"`
	LandRights        *string    `json:"land_rights,omitempty"`
	StationInfo       *string    `json:"station_info,omitempty"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	GeocodedAt        *time.Time `json:"geocoded_at,omitempty"`
	IsValidName       bool       `json:"is_valid_name"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// BuildingListingName records every distinct name a building has appeared
// under across sources. The union of these names is the searchable alias set.
type BuildingListingName struct {
	ID              int64     `json:"id"`
	BuildingID      int64     `json:"building_id"`
	NormalizedName  string    `json:"normalized_name"`
	CanonicalName   string    `json:"canonical_name"`
	SourceSites     string    `json:"source_sites"` // comma-joined
	OccurrenceCount int       `json:"occurrence_count"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// MasterProperty is the deduplicated unit identity across sources.
// When RoomNumber is nil, identity is the composite
// (building_id, floor_number, area, layout, direction); a partial unique
// index enforces it.
type MasterProperty struct {
	ID                  int64      `json:"id"`
	BuildingID          int64      `json:"building_id"`
	RoomNumber          *string    `json:"room_number,omitempty"`
	FloorNumber         *int       `json:"floor_number,omitempty"`
	Area                *float64   `json:"area,omitempty"`
	BalconyArea         *float64   `json:"balcony_area,omitempty"`
	Layout              *string    `json:"layout,omitempty"`
	Direction           *string    `json:"direction,omitempty"`
	DisplayBuildingName *string    `json:"display_building_name,omitempty"`
	CurrentPrice        *int       `json:"current_price,omitempty"` // 万円
	ManagementFee       *int       `json:"management_fee,omitempty"`
	RepairFund          *int       `json:"repair_fund,omitempty"`
	StationInfo         *string    `json:"station_info,omitempty"`
	ParkingInfo         *string    `json:"parking_info,omitempty"`
	SoldAt              *time.Time `json:"sold_at,omitempty"`
	FinalPrice          *int       `json:"final_price,omitempty"`
	FinalPriceUpdatedAt *time.Time `json:"final_price_updated_at,omitempty"`
	EarliestListingDate *time.Time `json:"earliest_listing_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Listing is one source's advertisement for a master property.
// The listing_* columns preserve the raw per-source attributes for voting.
type Listing struct {
	ID               int64      `json:"id"`
	MasterPropertyID int64      `json:"master_property_id"`
	SourceSite       SourceSite `json:"source_site"`
	SitePropertyID   string     `json:"site_property_id"`
	URL              string     `json:"url"`
	IsActive         bool       `json:"is_active"`

	ListingBuildingName      string   `json:"listing_building_name"`
	ListingAddress           *string  `json:"listing_address,omitempty"`
	ListingFloorNumber       *int     `json:"listing_floor_number,omitempty"`
	ListingArea              *float64 `json:"listing_area,omitempty"`
	ListingBalconyArea       *float64 `json:"listing_balcony_area,omitempty"`
	ListingLayout            *string  `json:"listing_layout,omitempty"`
	ListingDirection         *string  `json:"listing_direction,omitempty"`
	ListingTotalFloors       *int     `json:"listing_total_floors,omitempty"`
	ListingBasementFloors    *int     `json:"listing_basement_floors,omitempty"`
	ListingTotalUnits        *int     `json:"listing_total_units,omitempty"`
	ListingBuiltYear         *int     `json:"listing_built_year,omitempty"`
	ListingBuiltMonth        *int     `json:"listing_built_month,omitempty"`
	ListingLandRights        *string  `json:"listing_land_rights,omitempty"`
	ListingStationInfo       *string  `json:"listing_station_info,omitempty"`
	ListingBuildingStructure *string  `json:"listing_building_structure,omitempty"`

	CurrentPrice  *int    `json:"current_price,omitempty"` // 万円
	ManagementFee *int    `json:"management_fee,omitempty"`
	RepairFund    *int    `json:"repair_fund,omitempty"`
	AgencyName    *string `json:"agency_name,omitempty"`
	AgencyTel     *string `json:"agency_tel,omitempty"`
	RoomNumber    *string `json:"room_number,omitempty"`
	HasUpdateMark bool    `json:"has_update_mark"`

	FirstSeenAt      time.Time  `json:"first_seen_at"`
	FirstPublishedAt *time.Time `json:"first_published_at,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	LastScrapedAt    *time.Time `json:"last_scraped_at,omitempty"`
	LastConfirmedAt  *time.Time `json:"last_confirmed_at,omitempty"`
	LastFetchedAt    *time.Time `json:"last_fetched_at,omitempty"`
	PriceUpdatedAt   *time.Time `json:"price_updated_at,omitempty"`
	DelistedAt       *time.Time `json:"delisted_at,omitempty"`
	DetailFetchedAt  *time.Time `json:"detail_fetched_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ListingPriceHistory is one observed price point for a listing.
type ListingPriceHistory struct {
	ID         int64     `json:"id"`
	ListingID  int64     `json:"listing_id"`
	Price      int       `json:"price"` // 万円
	RecordedAt time.Time `json:"recorded_at"`
}

// PropertyPriceChange is a derived per-property price-change event. The full
// set for a property is recomputable from its listings' price history.
type PropertyPriceChange struct {
	ID               int64     `json:"id"`
	MasterPropertyID int64     `json:"master_property_id"`
	ChangeDate       time.Time `json:"change_date"`
	OldPrice         int       `json:"old_price"`
	NewPrice         int       `json:"new_price"`
	PriceDiff        int       `json:"price_diff"`
	PriceDiffRate    float64   `json:"price_diff_rate"`
	NewPriceVotes    int       `json:"new_price_votes"`
	OldPriceVotes    int       `json:"old_price_votes"`
	CreatedAt        time.Time `json:"created_at"`
}

// Queue item statuses for property price-change recomputation.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

// PropertyPriceChangeQueue is a pending recomputation work item.
// Priority 0 is highest.
type PropertyPriceChangeQueue struct {
	ID               int64      `json:"id"`
	MasterPropertyID int64      `json:"master_property_id"`
	Status           string     `json:"status"`
	Priority         int        `json:"priority"`
	Reason           string     `json:"reason"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// BuildingMergeHistory is the audit + redirection record for a building
// merge. DirectPrimary is the target at merge time and never changes;
// FinalPrimary is kept pointing at the current end of the chain so
// redirection is one hop.
type BuildingMergeHistory struct {
	ID                      int64           `json:"id"`
	MergedBuildingID        int64           `json:"merged_building_id"`
	DirectPrimaryBuildingID int64           `json:"direct_primary_building_id"`
	FinalPrimaryBuildingID  int64           `json:"final_primary_building_id"`
	MergeDepth              int             `json:"merge_depth"`
	MergeDetails            json.RawMessage `json:"merge_details"`
	CreatedAt               time.Time       `json:"created_at"`
}

// BuildingMergeDetails is the snapshot stored in MergeDetails, sufficient to
// reconstitute the merged building on revert.
type BuildingMergeDetails struct {
	NormalizedName    string  `json:"normalized_name"`
	CanonicalName     string  `json:"canonical_name"`
	Address           *string `json:"address,omitempty"`
	NormalizedAddress *string `json:"normalized_address,omitempty"`
	TotalFloors       *int    `json:"total_floors,omitempty"`
	BasementFloors    *int    `json:"basement_floors,omitempty"`
	TotalUnits        *int    `json:"total_units,omitempty"`
	BuiltYear         *int    `json:"built_year,omitempty"`
	BuiltMonth        *int    `json:"built_month,omitempty"`
	ConstructionType  *string `json:"construction_type,omitempty"`
	IsValidName       bool    `json:"is_valid_name"`
	MovedPropertyIDs  []int64 `json:"moved_property_ids"`
}

// PropertyMergeHistory mirrors BuildingMergeHistory for master properties.
type PropertyMergeHistory struct {
	ID                      int64           `json:"id"`
	BuildingID              int64           `json:"building_id"`
	MergedPropertyID        int64           `json:"merged_property_id"`
	DirectPrimaryPropertyID int64           `json:"direct_primary_property_id"`
	FinalPrimaryPropertyID  int64           `json:"final_primary_property_id"`
	MergeDepth              int             `json:"merge_depth"`
	MergeDetails            json.RawMessage `json:"merge_details"`
	CreatedAt               time.Time       `json:"created_at"`
}

// PropertyMergeDetails snapshots the secondary property for revert.
type PropertyMergeDetails struct {
	RoomNumber          *string  `json:"room_number,omitempty"`
	FloorNumber         *int     `json:"floor_number,omitempty"`
	Area                *float64 `json:"area,omitempty"`
	BalconyArea         *float64 `json:"balcony_area,omitempty"`
	Layout              *string  `json:"layout,omitempty"`
	Direction           *string  `json:"direction,omitempty"`
	DisplayBuildingName *string  `json:"display_building_name,omitempty"`
	MovedListingIDs     []int64  `json:"moved_listing_ids"`
}

// BuildingMergeExclusion is an unordered building pair the duplicate
// detector must never propose again. Stored with BuildingID1 = min(id1, id2).
type BuildingMergeExclusion struct {
	ID          int64     `json:"id"`
	BuildingID1 int64     `json:"building_id_1"`
	BuildingID2 int64     `json:"building_id_2"`
	CreatedAt   time.Time `json:"created_at"`
}

// PropertyMergeExclusion mirrors BuildingMergeExclusion for properties.
type PropertyMergeExclusion struct {
	ID          int64     `json:"id"`
	PropertyID1 int64     `json:"property_id_1"`
	PropertyID2 int64     `json:"property_id_2"`
	CreatedAt   time.Time `json:"created_at"`
}

// AmbiguousPropertyMatch records a resolver decision made between two or
// more surviving candidates, for operator review.
type AmbiguousPropertyMatch struct {
	ID                   int64      `json:"id"`
	BuildingID           int64      `json:"building_id"`
	SourceSite           SourceSite `json:"source_site"`
	SitePropertyID       string     `json:"site_property_id"`
	SelectedPropertyID   int64      `json:"selected_property_id"`
	CandidatePropertyIDs []int64    `json:"candidate_property_ids"`
	Confidence           float64    `json:"confidence"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Scrape task statuses.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusPaused    = "paused"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
	TaskStatusError     = "error"
)

// IsTerminalTaskStatus reports whether a task in this status will never
// transition again.
func IsTerminalTaskStatus(s string) bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusError:
		return true
	}
	return false
}

// TaskLogEntry is one entry of a task's capped log buffers.
type TaskLogEntry struct {
	Timestamp time.Time  `json:"ts"`
	Scraper   SourceSite `json:"scraper,omitempty"`
	Area      string     `json:"area,omitempty"`
	Type      string     `json:"type"`
	URL       string     `json:"url,omitempty"`
	Message   string     `json:"message"`
}

// ScrapeTask is the durable state of one scraping run.
type ScrapeTask struct {
	TaskID           string       `json:"task_id"`
	Status           string       `json:"status"`
	Scrapers         []SourceSite `json:"scrapers"`
	AreaCodes        []string     `json:"area_codes"`
	MaxProperties    int          `json:"max_properties"`
	ForceDetailFetch bool         `json:"force_detail_fetch"`
	Parallel         bool         `json:"parallel"`

	TotalProcessed int     `json:"total_processed"`
	TotalNew       int     `json:"total_new"`
	TotalUpdated   int     `json:"total_updated"`
	TotalErrors    int     `json:"total_errors"`
	ElapsedTime    float64 `json:"elapsed_time"` // seconds

	Logs        []TaskLogEntry `json:"logs"`
	ErrorLogs   []TaskLogEntry `json:"error_logs"`
	WarningLogs []TaskLogEntry `json:"warning_logs"`

	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	PauseTimestamp *time.Time `json:"pause_timestamp,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ProgressKey builds the progress_detail map key for a scraper×area pair.
func ProgressKey(scraper SourceSite, area string) string {
	return string(scraper) + "_" + area
}

// ScrapeStats is the per-pair statistics counter block. Writers must never
// overwrite a nonzero persisted value with zero.
type ScrapeStats struct {
	PropertiesFound     int `json:"properties_found"`
	PropertiesAttempted int `json:"properties_attempted"`
	PropertiesProcessed int `json:"properties_processed"`
	DetailFetched       int `json:"detail_fetched"`
	DetailFetchFailed   int `json:"detail_fetch_failed"`
	DetailSkipped       int `json:"detail_skipped"`
	NewListings         int `json:"new_listings"`
	PriceUpdated        int `json:"price_updated"`
	OtherUpdates        int `json:"other_updates"`
	RefetchedUnchanged  int `json:"refetched_unchanged"`
	SaveFailed          int `json:"save_failed"`
	PriceMissing        int `json:"price_missing"`
	BuildingInfoMissing int `json:"building_info_missing"`
	OtherErrors         int `json:"other_errors"`
}

// Merge folds src into s without letting a zero overwrite a nonzero value.
func (s *ScrapeStats) Merge(src ScrapeStats) {
	max := func(a, b int) int {
		if a > b {
			return a
		}
		return b
	}
	s.PropertiesFound = max(s.PropertiesFound, src.PropertiesFound)
	s.PropertiesAttempted = max(s.PropertiesAttempted, src.PropertiesAttempted)
	s.PropertiesProcessed = max(s.PropertiesProcessed, src.PropertiesProcessed)
	s.DetailFetched = max(s.DetailFetched, src.DetailFetched)
	s.DetailFetchFailed = max(s.DetailFetchFailed, src.DetailFetchFailed)
	s.DetailSkipped = max(s.DetailSkipped, src.DetailSkipped)
	s.NewListings = max(s.NewListings, src.NewListings)
	s.PriceUpdated = max(s.PriceUpdated, src.PriceUpdated)
	s.OtherUpdates = max(s.OtherUpdates, src.OtherUpdates)
	s.RefetchedUnchanged = max(s.RefetchedUnchanged, src.RefetchedUnchanged)
	s.SaveFailed = max(s.SaveFailed, src.SaveFailed)
	s.PriceMissing = max(s.PriceMissing, src.PriceMissing)
	s.BuildingInfoMissing = max(s.BuildingInfoMissing, src.BuildingInfoMissing)
	s.OtherErrors = max(s.OtherErrors, src.OtherErrors)
}

// ResumeState is the orchestrator checkpoint for one scraper×area pair.
// The collected listing array itself is kept only in memory; after a crash
// the pair restarts from the list phase.
type ResumeState struct {
	Phase          string      `json:"phase"` // "list" or "detail"
	CurrentPage    int         `json:"current_page"`
	ProcessedCount int         `json:"processed_count"`
	CollectedCount int         `json:"collected_count"`
	Stats          ScrapeStats `json:"stats"`
}

// ScrapeTaskProgress is the per (task, scraper, area) detail row.
type ScrapeTaskProgress struct {
	ID          int64           `json:"id"`
	TaskID      string          `json:"task_id"`
	Scraper     SourceSite      `json:"scraper"`
	AreaCode    string          `json:"area_code"`
	Status      string          `json:"status"`
	Stats       ScrapeStats     `json:"stats"`
	ResumeState json.RawMessage `json:"resume_state,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Url404Retry tracks URLs that returned 404 so detail fetches back off.
type Url404Retry struct {
	ID             int64      `json:"id"`
	SourceSite     SourceSite `json:"source_site"`
	SitePropertyID string     `json:"site_property_id"`
	URL            string     `json:"url"`
	ErrorCount     int        `json:"error_count"`
	FirstErrorAt   time.Time  `json:"first_error_at"`
	LastErrorAt    time.Time  `json:"last_error_at"`
	RetryAfter     time.Time  `json:"retry_after"`
	IsResolved     bool       `json:"is_resolved"`
}

// PriceMismatchHistory tracks list-page vs detail-page price disagreements.
type PriceMismatchHistory struct {
	ID             int64      `json:"id"`
	SourceSite     SourceSite `json:"source_site"`
	SitePropertyID string     `json:"site_property_id"`
	ListPrice      int        `json:"list_price"`
	DetailPrice    int        `json:"detail_price"`
	ErrorCount     int        `json:"error_count"`
	FirstErrorAt   time.Time  `json:"first_error_at"`
	LastErrorAt    time.Time  `json:"last_error_at"`
	RetryAfter     time.Time  `json:"retry_after"`
	IsResolved     bool       `json:"is_resolved"`
}

// RawListing is the scraper plug-in output: one listing as observed on a
// portal site, before identity resolution.
type RawListing struct {
	SourceSite     SourceSite `json:"source_site"`
	SitePropertyID string     `json:"site_property_id"`
	URL            string     `json:"url"`
	BuildingName   string     `json:"building_name"`

	ListingAddress           *string  `json:"listing_address,omitempty"`
	ListingFloorNumber       *int     `json:"listing_floor_number,omitempty"`
	ListingArea              *float64 `json:"listing_area,omitempty"`
	ListingBalconyArea       *float64 `json:"listing_balcony_area,omitempty"`
	ListingLayout            *string  `json:"listing_layout,omitempty"`
	ListingDirection         *string  `json:"listing_direction,omitempty"`
	ListingTotalFloors       *int     `json:"listing_total_floors,omitempty"`
	ListingBasementFloors    *int     `json:"listing_basement_floors,omitempty"`
	ListingTotalUnits        *int     `json:"listing_total_units,omitempty"`
	ListingBuiltYear         *int     `json:"listing_built_year,omitempty"`
	ListingBuiltMonth        *int     `json:"listing_built_month,omitempty"`
	ListingBuildingStructure *string  `json:"listing_building_structure,omitempty"`
	ListingStationInfo       *string  `json:"listing_station_info,omitempty"`
	ListingLandRights        *string  `json:"listing_land_rights,omitempty"`

	CurrentPrice     *int       `json:"current_price,omitempty"` // 万円
	ManagementFee    *int       `json:"management_fee,omitempty"`
	RepairFund       *int       `json:"repair_fund,omitempty"`
	AgencyName       *string    `json:"agency_name,omitempty"`
	AgencyTel        *string    `json:"agency_tel,omitempty"`
	FirstPublishedAt *time.Time `json:"first_published_at,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	HasUpdateMark    bool       `json:"has_update_mark"`
	RoomNumber       *string    `json:"room_number,omitempty"`

	// DetailFetchedAt is stamped by the engine when this observation's
	// detail page was fetched and parsed.
	DetailFetchedAt *time.Time `json:"detail_fetched_at,omitempty"`
}

// RecentPriceChange is one price-change row of the recent-updates
// projection, joined with its property and building display fields.
type RecentPriceChange struct {
	MasterPropertyID int64     `json:"master_property_id"`
	BuildingName     string    `json:"building_name"`
	Ward             string    `json:"ward"`
	ChangeDate       time.Time `json:"change_date"`
	OldPrice         int       `json:"old_price"`
	NewPrice         int       `json:"new_price"`
	PriceDiff        int       `json:"price_diff"`
	PriceDiffRate    float64   `json:"price_diff_rate"`
}

// RecentNewListing is one new-listing row of the recent-updates projection.
type RecentNewListing struct {
	MasterPropertyID int64      `json:"master_property_id"`
	BuildingName     string     `json:"building_name"`
	Ward             string     `json:"ward"`
	Price            *int       `json:"price,omitempty"`
	FirstSeenAt      time.Time  `json:"first_seen_at"`
	SourceSite       SourceSite `json:"source_site"`
}

// RecentUpdates is the ward-bucketed aggregate served by the read API.
type RecentUpdates struct {
	Hours        int                            `json:"hours"`
	PriceChanges map[string][]RecentPriceChange `json:"price_changes"`
	NewListings  map[string][]RecentNewListing  `json:"new_listings"`
	GeneratedAt  time.Time                      `json:"generated_at"`
}

// RecentUpdateCounts is the cheap counts-only companion of RecentUpdates.
type RecentUpdateCounts struct {
	Hours        int            `json:"hours"`
	PriceChanges map[string]int `json:"price_changes"`
	NewListings  map[string]int `json:"new_listings"`
	GeneratedAt  time.Time      `json:"generated_at"`
}
