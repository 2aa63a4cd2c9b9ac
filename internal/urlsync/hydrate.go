package urlsync

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/search"
)

// PageSizeFunc returns the page size a view starts with when the query
// does not name one, usually the remembered preference.
type PageSizeFunc func(view model.View) int

// Hydrate builds the state described by raw. contentType selects the view,
// falling back to view. Each recognized parameter is applied as a
// transition; one that does not parse or is rejected is skipped without
// affecting the others.
func Hydrate(raw string, view model.View, pageSize PageSizeFunc) (model.SearchState, Query) {
	q := ParseQuery(raw)
	if v := model.View(q.Params[ParamContentType]); v.Valid() {
		view = v
	}
	if !view.Valid() {
		view = model.ViewCards
	}
	size := 0
	if pageSize != nil {
		size = pageSize(view)
	}
	s := model.NewSearchState(view, size)
	rules := model.RulesFor(view)

	apply := func(param string, a search.Action) {
		next, err := search.Reduce(s, a)
		if err != nil {
			zap.L().Debug("urlsync: ignoring parameter", zap.String("param", param), zap.Error(err))
			return
		}
		s = next
	}
	param := func(name string) (string, bool) {
		v, ok := q.Params[name]
		return v, ok && v != ""
	}

	for _, p := range []struct {
		name  string
		facet search.Facet
	}{
		{ParamName, search.FacetName},
		{ParamOracleText, search.FacetOracleText},
		{ParamArtist, search.FacetArtist},
	} {
		if v, ok := param(p.name); ok {
			apply(p.name, search.SetFilter{Facet: p.facet, Value: v})
		}
	}

	colors, hasColors := param(ParamColors)
	match, hasMatch := param(ParamColorMatchType)
	if hasColors || hasMatch {
		apply(ParamColors, search.SetFilter{Facet: search.FacetColors, Value: model.ColorFilter{
			Colors:    splitList(colors),
			MatchType: model.ColorMatchType(match),
		}})
	}

	for _, lp := range listParams {
		inc, hasInc := param(lp.include)
		exc, hasExc := param(lp.exclude)
		if hasInc || hasExc {
			apply(lp.include, search.SetFilter{Facet: lp.facet, Value: model.IncludeExclude{
				Include: splitList(inc),
				Exclude: splitList(exc),
			}})
		}
	}

	if v, ok := param(ParamStats); ok {
		var conds []model.StatCondition
		for _, c := range DecodeStats(v) {
			if rules.IsStatAttribute(c.Attribute) {
				conds = append(conds, c)
			}
		}
		if len(conds) > 0 {
			apply(ParamStats, search.SetFilter{Facet: search.FacetStats, Value: conds})
		}
	}

	if v, ok := param(ParamReserved); ok {
		apply(ParamReserved, search.SetFilter{Facet: search.FacetReserved, Value: model.TriState(v)})
	}
	if v, ok := param(ParamCompletion); ok {
		apply(ParamCompletion, search.SetFilter{Facet: search.FacetCompletion, Value: model.CompletionStatus(v)})
	}

	for _, p := range []struct {
		name  string
		facet search.Facet
	}{
		{ParamGoalID, search.FacetGoal},
		{ParamLocationID, search.FacetLocation},
	} {
		if v, ok := param(p.name); ok {
			if id, err := strconv.Atoi(v); err == nil && id > 0 {
				apply(p.name, search.SetFilter{Facet: p.facet, Value: id})
			}
		}
	}

	for _, p := range []struct {
		name  string
		facet search.Facet
	}{
		{ParamIncludeChildLocations, search.FacetIncludeChildLocations},
		{ParamOneResultPerCardName, search.FacetOneResultPerCardName},
		{ParamIncludeSubsetsInSets, search.FacetIncludeSubsets},
	} {
		if v, ok := param(p.name); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				apply(p.name, search.SetFilter{Facet: p.facet, Value: b})
			}
		}
	}

	sortBy, hasSort := param(ParamSortBy)
	dir, hasDir := param(ParamSortDirection)
	if hasSort || hasDir {
		if !hasSort {
			sortBy = s.SortBy
		}
		apply(ParamSortBy, search.SetSort{Key: sortBy, Direction: model.SortDirection(dir)})
	}

	var page, perPage int
	if v, ok := param(ParamPage); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= model.MaxPage {
			page = n
		}
	}
	if v, ok := param(ParamPageSize); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			perPage = n
		}
	}
	if page > 0 || perPage > 0 {
		apply(ParamPage, search.SetPagination{Page: page, PageSize: perPage})
	}

	return s, q
}
