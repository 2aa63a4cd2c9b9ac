package catalog

import (
	"cmp"
	"net/url"
	"slices"
	"strconv"

	"github.com/sells-group/catalogsync/internal/model"
)

// Request is one call to the catalog API. Payload is sent as the JSON body
// of POST endpoints; Query is appended to the URL.
type Request struct {
	Endpoint Endpoint
	Payload  any
	Query    url.Values
	// GoalID is the goal the request is scoped to, 0 for none.
	GoalID int
}

// ListFilter is the wire form of an include/exclude facet.
type ListFilter struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// ColorPayload is the wire form of a color filter.
type ColorPayload struct {
	Colors    []string `json:"colors"`
	MatchType string   `json:"matchType"`
}

// StatPayload is the wire form of one stat condition.
type StatPayload struct {
	Attribute string  `json:"attribute"`
	Operator  string  `json:"operator"`
	Value     float64 `json:"value"`
}

// SearchPayload is the body of a search request. It holds exactly the
// fields that change what the server returns, with set-like lists sorted.
type SearchPayload struct {
	Name          string        `json:"name,omitempty"`
	OracleText    string        `json:"oracleText,omitempty"`
	Artist        string        `json:"artist,omitempty"`
	Colors        *ColorPayload `json:"colors,omitempty"`
	Types         *ListFilter   `json:"types,omitempty"`
	Rarities      *ListFilter   `json:"rarities,omitempty"`
	Layouts       *ListFilter   `json:"layouts,omitempty"`
	SetCategories *ListFilter   `json:"setCategories,omitempty"`
	SetTypes      *ListFilter   `json:"setTypes,omitempty"`
	Stats         []StatPayload `json:"stats,omitempty"`
	Reserved      *bool         `json:"isReserved,omitempty"`
	Completion    string        `json:"completionStatus,omitempty"`

	UserID                int  `json:"userId,omitempty"`
	GoalID                int  `json:"goalId,omitempty"`
	LocationID            int  `json:"locationId,omitempty"`
	IncludeChildLocations bool `json:"includeChildLocations,omitempty"`
	IncludeSubsetsInSets  bool `json:"includeSubsetsInSets,omitempty"`
	OneResultPerCardName  bool `json:"oneResultPerCardName,omitempty"`

	SortBy        string `json:"sortBy"`
	SortDirection string `json:"sortDirection"`
	Limit         int    `json:"limit"`
	Offset        int    `json:"offset"`
}

// NewSearchPayload converts an already scope-filtered state into a request body.
func NewSearchPayload(s model.SearchState, scope model.ScopeContext) SearchPayload {
	p := SearchPayload{
		Name:                  s.Name,
		OracleText:            s.OracleText,
		Artist:                s.Artist,
		Types:                 listFilter(s.Types),
		Rarities:              listFilter(s.Rarities),
		Layouts:               listFilter(s.Layouts),
		SetCategories:         listFilter(s.SetCategories),
		SetTypes:              listFilter(s.SetTypes),
		Completion:            string(s.Completion),
		GoalID:                s.GoalID,
		LocationID:            s.LocationID,
		IncludeChildLocations: s.IncludeChildLocations,
		IncludeSubsetsInSets:  s.IncludeSubsetsInSets,
		OneResultPerCardName:  s.OneResultPerCardName,
		SortBy:                s.SortBy,
		SortDirection:         string(s.SortDirection),
		Limit:                 s.PageSize,
		Offset:                offset(s.Page, s.PageSize),
	}
	if scope.IsCollection {
		p.UserID = scope.UserID
	}
	if len(s.Colors.Colors) > 0 {
		colors := slices.Clone(s.Colors.Colors)
		slices.Sort(colors)
		p.Colors = &ColorPayload{Colors: colors, MatchType: string(s.Colors.MatchType)}
	}
	for _, c := range s.Stats {
		p.Stats = append(p.Stats, StatPayload{Attribute: c.Attribute, Operator: string(c.Operator), Value: c.Value})
	}
	slices.SortStableFunc(p.Stats, func(a, b StatPayload) int {
		return cmp.Or(
			cmp.Compare(a.Attribute, b.Attribute),
			cmp.Compare(a.Operator, b.Operator),
			cmp.Compare(a.Value, b.Value),
		)
	})
	switch s.Reserved {
	case model.TriTrue:
		p.Reserved = new(bool)
		*p.Reserved = true
	case model.TriFalse:
		p.Reserved = new(bool)
	}
	return p
}

func listFilter(ie model.IncludeExclude) *ListFilter {
	if ie.Empty() {
		return nil
	}
	lf := &ListFilter{Include: slices.Clone(ie.Include), Exclude: slices.Clone(ie.Exclude)}
	slices.Sort(lf.Include)
	slices.Sort(lf.Exclude)
	return lf
}

// NewSearchRequest builds the search request of an already scope-filtered state.
func NewSearchRequest(s model.SearchState, scope model.ScopeContext) Request {
	return Request{
		Endpoint: SearchEndpoint(s.View),
		Payload:  NewSearchPayload(s, scope),
		GoalID:   s.GoalID,
	}
}

// NewCostToCompleteRequest asks what completing a set would cost at priceType.
func NewCostToCompleteRequest(setID int, priceType string, scope model.ScopeContext) Request {
	q := url.Values{}
	q.Set("setId", strconv.Itoa(setID))
	if priceType != "" {
		q.Set("priceType", priceType)
	}
	if scope.IsCollection {
		q.Set("userId", strconv.Itoa(scope.UserID))
	}
	return Request{Endpoint: EndpointCostToComplete, Query: q}
}

// NewGoalsRequest lists the goals of userID.
func NewGoalsRequest(userID int) Request {
	q := url.Values{}
	q.Set("userId", strconv.Itoa(userID))
	return Request{Endpoint: EndpointGoals, Query: q}
}

// offset is the row offset of page. Out-of-range pages and sizes are
// bounded so the product cannot overflow.
func offset(page, pageSize int) int {
	page = min(max(page, 1), model.MaxPage)
	pageSize = min(max(pageSize, 0), model.MaxPageSize)
	return (page - 1) * pageSize
}
