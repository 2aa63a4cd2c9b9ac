package search

import (
	"slices"

	"github.com/sells-group/catalogsync/internal/model"
)

// FilterForContext projects s onto scope. Outside a collection it clears
// the collection-only fields of view and falls back to the view's default
// sort when the current key needs a collection. The input is not modified
// and the projection is idempotent.
func FilterForContext(s model.SearchState, scope model.ScopeContext, view model.View) model.SearchState {
	out := s.Clone()
	if scope.IsCollection {
		return out
	}

	rules := model.RulesFor(view)
	out.GoalID = 0
	out.LocationID = 0
	out.IncludeChildLocations = false
	out.Completion = model.CompletionAny
	out.Stats = slices.DeleteFunc(out.Stats, func(c model.StatCondition) bool {
		return rules.IsCollectionStatAttribute(c.Attribute)
	})
	if len(out.Stats) == 0 {
		out.Stats = nil
	}
	if rules.IsCollectionSortKey(out.SortBy) {
		out.SortBy = rules.DefaultSortBy
		out.SortDirection = rules.DefaultSortDirection
	}
	return out
}

// StrippedFields names the fields FilterForContext would clear from s.
// It is empty in collection scope.
func StrippedFields(s model.SearchState, scope model.ScopeContext, view model.View) []string {
	if scope.IsCollection {
		return nil
	}
	rules := model.RulesFor(view)
	var fields []string
	if s.GoalID != 0 {
		fields = append(fields, string(FacetGoal))
	}
	if s.LocationID != 0 {
		fields = append(fields, string(FacetLocation))
	}
	if s.IncludeChildLocations {
		fields = append(fields, string(FacetIncludeChildLocations))
	}
	if s.Completion != model.CompletionAny {
		fields = append(fields, string(FacetCompletion))
	}
	for _, c := range s.Stats {
		if rules.IsCollectionStatAttribute(c.Attribute) {
			fields = append(fields, "stats."+c.Attribute)
		}
	}
	if rules.IsCollectionSortKey(s.SortBy) {
		fields = append(fields, "sortBy")
	}
	return fields
}
