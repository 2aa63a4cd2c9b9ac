// Package search implements the transitions of the canonical search state
// and its projection onto a browse or collection scope.
package search

import "github.com/sells-group/catalogsync/internal/model"

// Facet names one filterable field of a SearchState.
type Facet string

const (
	FacetName                  Facet = "name"
	FacetOracleText            Facet = "oracleText"
	FacetArtist                Facet = "artist"
	FacetColors                Facet = "colors"
	FacetTypes                 Facet = "types"
	FacetRarities              Facet = "rarities"
	FacetLayouts               Facet = "layouts"
	FacetSetCategories         Facet = "setCategories"
	FacetSetTypes              Facet = "setTypes"
	FacetStats                 Facet = "stats"
	FacetReserved              Facet = "reserved"
	FacetCompletion            Facet = "completion"
	FacetGoal                  Facet = "goalId"
	FacetLocation              Facet = "locationId"
	FacetIncludeChildLocations Facet = "includeChildLocations"
	FacetIncludeSubsets        Facet = "includeSubsetsInSets"
	FacetOneResultPerCardName  Facet = "oneResultPerCardName"
	FacetViewMode              Facet = "viewMode"
)

// listFacet returns a pointer to the include/exclude pair for f, or nil
// when f is not a list facet.
func listFacet(s *model.SearchState, f Facet) *model.IncludeExclude {
	switch f {
	case FacetTypes:
		return &s.Types
	case FacetRarities:
		return &s.Rarities
	case FacetLayouts:
		return &s.Layouts
	case FacetSetCategories:
		return &s.SetCategories
	case FacetSetTypes:
		return &s.SetTypes
	}
	return nil
}

// IsListFacet reports whether f holds include/exclude lists.
func IsListFacet(f Facet) bool {
	var s model.SearchState
	return listFacet(&s, f) != nil
}

// affectsResults reports whether changing f changes what the server returns.
func affectsResults(f Facet) bool {
	return f != FacetViewMode
}
