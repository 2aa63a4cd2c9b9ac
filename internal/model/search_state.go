package model

import "slices"

// SortDirection orders results.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Valid reports whether d is asc or desc.
func (d SortDirection) Valid() bool {
	return d == SortAsc || d == SortDesc
}

// Page size bounds applied by every pagination transition.
const (
	MinPageSize = 1
	MaxPageSize = 500
)

// MaxPage is the highest page a pagination transition accepts. It keeps
// (MaxPage-1)*MaxPageSize well inside the range of a 32-bit offset.
const MaxPage = 1_000_000

// SearchState is the canonical description of what one view is searching
// for. Values are treated as immutable; transitions return a new state.
type SearchState struct {
	View View `json:"view"`

	Name       string `json:"name,omitempty"`
	OracleText string `json:"oracle_text,omitempty"`
	Artist     string `json:"artist,omitempty"`

	Colors        ColorFilter     `json:"colors"`
	Types         IncludeExclude  `json:"types"`
	Rarities      IncludeExclude  `json:"rarities"`
	Layouts       IncludeExclude  `json:"layouts"`
	SetCategories IncludeExclude  `json:"set_categories"`
	SetTypes      IncludeExclude  `json:"set_types"`
	Stats         []StatCondition `json:"stats,omitempty"`
	Reserved      TriState        `json:"reserved,omitempty"`

	Completion CompletionStatus `json:"completion,omitempty"`

	Page     int `json:"page"`
	PageSize int `json:"page_size"`

	SortBy        string        `json:"sort_by"`
	SortDirection SortDirection `json:"sort_direction"`

	GoalID                int  `json:"goal_id,omitempty"`
	LocationID            int  `json:"location_id,omitempty"`
	IncludeChildLocations bool `json:"include_child_locations,omitempty"`
	IncludeSubsetsInSets  bool `json:"include_subsets_in_sets,omitempty"`
	OneResultPerCardName  bool `json:"one_result_per_card_name,omitempty"`

	ViewMode ViewMode `json:"view_mode,omitempty"`
}

// Clone returns a deep copy so that transitions never share slices.
func (s SearchState) Clone() SearchState {
	c := s
	c.Colors.Colors = slices.Clone(s.Colors.Colors)
	c.Types = s.Types.Clone()
	c.Rarities = s.Rarities.Clone()
	c.Layouts = s.Layouts.Clone()
	c.SetCategories = s.SetCategories.Clone()
	c.SetTypes = s.SetTypes.Clone()
	c.Stats = slices.Clone(s.Stats)
	return c
}

// ViewRules describes the per-view vocabulary: legal sort keys and stat
// attributes, and which of them require a collection in scope.
type ViewRules struct {
	DefaultSortBy        string
	DefaultSortDirection SortDirection
	DefaultPageSize      int

	SortKeys           []string
	CollectionSortKeys []string

	StatAttributes           []string
	CollectionStatAttributes []string
}

var cardRules = ViewRules{
	DefaultSortBy:        "name",
	DefaultSortDirection: SortAsc,
	DefaultPageSize:      24,
	SortKeys: []string{
		"name", "releasedAt", "collectorNumber", "mtgcbCollectorNumber",
		"rarityNumeric", "convertedManaCost", "powerNumeric", "toughnessNumeric",
		"loyaltyNumeric", "market", "low", "average", "high", "foil",
	},
	CollectionSortKeys: []string{"quantityAll", "quantityReg", "quantityFoil"},
	StatAttributes:     []string{"convertedManaCost", "powerNumeric", "toughnessNumeric", "loyaltyNumeric"},
	CollectionStatAttributes: []string{
		"quantityAll", "quantityReg", "quantityFoil",
	},
}

var setRules = ViewRules{
	DefaultSortBy:        "releasedAt",
	DefaultSortDirection: SortDesc,
	DefaultPageSize:      20,
	SortKeys: []string{
		"name", "releasedAt", "code", "cardCount", "category", "setType",
	},
	CollectionSortKeys:       []string{"percentageCollected", "totalValue", "costToComplete"},
	StatAttributes:           []string{"cardCount"},
	CollectionStatAttributes: []string{"percentageCollected", "uniqueCardsCollected"},
}

// RulesFor returns the vocabulary of view. Unknown views use card rules.
func RulesFor(view View) ViewRules {
	if view == ViewSets {
		return setRules
	}
	return cardRules
}

// IsSortKey reports whether key is legal for the view in any scope.
func (r ViewRules) IsSortKey(key string) bool {
	return slices.Contains(r.SortKeys, key) || r.IsCollectionSortKey(key)
}

// IsCollectionSortKey reports whether key needs a collection in scope.
func (r ViewRules) IsCollectionSortKey(key string) bool {
	return slices.Contains(r.CollectionSortKeys, key)
}

// IsStatAttribute reports whether attr may appear in a stat condition.
func (r ViewRules) IsStatAttribute(attr string) bool {
	return slices.Contains(r.StatAttributes, attr) || r.IsCollectionStatAttribute(attr)
}

// IsCollectionStatAttribute reports whether attr needs a collection in scope.
func (r ViewRules) IsCollectionStatAttribute(attr string) bool {
	return slices.Contains(r.CollectionStatAttributes, attr)
}

// NewSearchState returns the default state for view with the given page
// size. A non-positive page size selects the view default.
func NewSearchState(view View, pageSize int) SearchState {
	r := RulesFor(view)
	if pageSize <= 0 {
		pageSize = r.DefaultPageSize
	}
	return SearchState{
		View:          view,
		Colors:        ColorFilter{MatchType: ColorMatchExactly},
		Page:          1,
		PageSize:      ClampPageSize(pageSize),
		SortBy:        r.DefaultSortBy,
		SortDirection: r.DefaultSortDirection,
		ViewMode:      ViewModeGrid,
	}
}

// ClampPageSize bounds n to [MinPageSize, MaxPageSize].
func ClampPageSize(n int) int {
	return min(max(n, MinPageSize), MaxPageSize)
}
