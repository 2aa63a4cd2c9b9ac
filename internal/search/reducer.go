package search

import (
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/catalogsync/internal/model"
)

// ErrInvalidAction is wrapped by every rejected transition.
var ErrInvalidAction = eris.New("search: invalid action")

// Action is a transition of a SearchState.
type Action interface {
	apply(s model.SearchState) (model.SearchState, error)
}

// Reduce applies a to s. A rejected action returns s unchanged together
// with an error wrapping ErrInvalidAction; it never panics.
func Reduce(s model.SearchState, a Action) (model.SearchState, error) {
	if a == nil {
		return s, eris.Wrap(ErrInvalidAction, "nil action")
	}
	next, err := a.apply(s.Clone())
	if err != nil {
		return s, err
	}
	return next, nil
}

// Equal reports whether two states are identical.
func Equal(a, b model.SearchState) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// SetFilter replaces the value of one facet. Value must have the type the
// facet holds (string, model.ColorFilter, model.IncludeExclude,
// []model.StatCondition, model.TriState, model.CompletionStatus, int, bool
// or model.ViewMode).
type SetFilter struct {
	Facet Facet
	Value any
}

func (a SetFilter) apply(s model.SearchState) (model.SearchState, error) {
	prev := s.Clone()
	switch a.Facet {
	case FacetName, FacetOracleText, FacetArtist:
		v, ok := a.Value.(string)
		if !ok {
			return s, invalid(a.Facet, "expected string")
		}
		v = norm.NFC.String(v)
		switch a.Facet {
		case FacetName:
			s.Name = v
		case FacetOracleText:
			s.OracleText = v
		default:
			s.Artist = v
		}
	case FacetColors:
		v, ok := a.Value.(model.ColorFilter)
		if !ok {
			return s, invalid(a.Facet, "expected color filter")
		}
		cf, err := validateColors(v)
		if err != nil {
			return s, err
		}
		s.Colors = cf
	case FacetTypes, FacetRarities, FacetLayouts, FacetSetCategories, FacetSetTypes:
		v, ok := a.Value.(model.IncludeExclude)
		if !ok {
			return s, invalid(a.Facet, "expected include/exclude lists")
		}
		ie := model.IncludeExclude{Include: uniq(v.Include), Exclude: uniq(v.Exclude)}
		if slices.Contains(ie.Include, "") || slices.Contains(ie.Exclude, "") {
			return s, invalid(a.Facet, "empty value")
		}
		if !ie.Disjoint() {
			return s, invalid(a.Facet, "value both included and excluded")
		}
		*listFacet(&s, a.Facet) = ie
	case FacetStats:
		v, ok := a.Value.([]model.StatCondition)
		if !ok {
			return s, invalid(a.Facet, "expected stat conditions")
		}
		stats, err := validateStats(s.View, v)
		if err != nil {
			return s, err
		}
		s.Stats = stats
	case FacetReserved:
		v, ok := a.Value.(model.TriState)
		if !ok || !v.Valid() {
			return s, invalid(a.Facet, "expected tri-state")
		}
		s.Reserved = v
	case FacetCompletion:
		v, ok := a.Value.(model.CompletionStatus)
		if !ok || !v.Valid() {
			return s, invalid(a.Facet, "expected completion status")
		}
		s.Completion = v
	case FacetGoal, FacetLocation:
		v, ok := a.Value.(int)
		if !ok || v < 0 {
			return s, invalid(a.Facet, "expected non-negative id")
		}
		if a.Facet == FacetGoal {
			s.GoalID = v
		} else {
			s.LocationID = v
			if v == 0 {
				s.IncludeChildLocations = false
			}
		}
	case FacetIncludeChildLocations, FacetIncludeSubsets, FacetOneResultPerCardName:
		v, ok := a.Value.(bool)
		if !ok {
			return s, invalid(a.Facet, "expected bool")
		}
		switch a.Facet {
		case FacetIncludeChildLocations:
			s.IncludeChildLocations = v
		case FacetIncludeSubsets:
			s.IncludeSubsetsInSets = v
		default:
			s.OneResultPerCardName = v
		}
	case FacetViewMode:
		v, ok := a.Value.(model.ViewMode)
		if !ok || !v.Valid() {
			return s, invalid(a.Facet, "expected grid or table")
		}
		s.ViewMode = v
	default:
		return s, invalid(a.Facet, "unknown facet")
	}

	if affectsResults(a.Facet) && !Equal(prev, s) {
		s.Page = 1
	}
	return s, nil
}

// ToggleInclude flips Value in the include list of a list facet, removing
// it from the exclude list.
type ToggleInclude struct {
	Facet Facet
	Value string
}

func (a ToggleInclude) apply(s model.SearchState) (model.SearchState, error) {
	ie := listFacet(&s, a.Facet)
	if ie == nil {
		return s, invalid(a.Facet, "not a list facet")
	}
	if a.Value == "" {
		return s, invalid(a.Facet, "empty value")
	}
	ie.Exclude = remove(ie.Exclude, a.Value)
	if slices.Contains(ie.Include, a.Value) {
		ie.Include = remove(ie.Include, a.Value)
	} else {
		ie.Include = append(ie.Include, a.Value)
	}
	s.Page = 1
	return s, nil
}

// ToggleExclude flips Value in the exclude list of a list facet, removing
// it from the include list.
type ToggleExclude struct {
	Facet Facet
	Value string
}

func (a ToggleExclude) apply(s model.SearchState) (model.SearchState, error) {
	ie := listFacet(&s, a.Facet)
	if ie == nil {
		return s, invalid(a.Facet, "not a list facet")
	}
	if a.Value == "" {
		return s, invalid(a.Facet, "empty value")
	}
	ie.Include = remove(ie.Include, a.Value)
	if slices.Contains(ie.Exclude, a.Value) {
		ie.Exclude = remove(ie.Exclude, a.Value)
	} else {
		ie.Exclude = append(ie.Exclude, a.Value)
	}
	s.Page = 1
	return s, nil
}

// SetPagination changes the page and/or page size. Zero leaves a field
// unchanged and pages above model.MaxPage are rejected. A new page size is
// clamped and, unless Page is also given, returns to the first page.
type SetPagination struct {
	Page     int
	PageSize int
}

func (a SetPagination) apply(s model.SearchState) (model.SearchState, error) {
	if a.Page < 0 || a.Page > model.MaxPage {
		return s, eris.Wrapf(ErrInvalidAction, "page %d", a.Page)
	}
	if a.PageSize < 0 {
		return s, eris.Wrapf(ErrInvalidAction, "page size %d", a.PageSize)
	}
	if a.PageSize > 0 {
		size := model.ClampPageSize(a.PageSize)
		if size != s.PageSize {
			s.PageSize = size
			s.Page = 1
		}
	}
	if a.Page > 0 {
		s.Page = a.Page
	}
	return s, nil
}

// SetSort changes the sort key and direction. An empty direction keeps the
// current one.
type SetSort struct {
	Key       string
	Direction model.SortDirection
}

func (a SetSort) apply(s model.SearchState) (model.SearchState, error) {
	if !model.RulesFor(s.View).IsSortKey(a.Key) {
		return s, eris.Wrapf(ErrInvalidAction, "sort key %q", a.Key)
	}
	dir := a.Direction
	if dir == "" {
		dir = s.SortDirection
	}
	if !dir.Valid() {
		return s, eris.Wrapf(ErrInvalidAction, "sort direction %q", a.Direction)
	}
	if s.SortBy != a.Key || s.SortDirection != dir {
		s.SortBy = a.Key
		s.SortDirection = dir
		s.Page = 1
	}
	return s, nil
}

// ResetSearch returns to the view defaults, keeping display options and,
// on request, the selected goal and location.
type ResetSearch struct {
	PreserveGoal     bool
	PreserveLocation bool
}

func (a ResetSearch) apply(s model.SearchState) (model.SearchState, error) {
	next := model.NewSearchState(s.View, s.PageSize)
	next.ViewMode = s.ViewMode
	if a.PreserveGoal {
		next.GoalID = s.GoalID
		next.OneResultPerCardName = s.OneResultPerCardName
	}
	if a.PreserveLocation {
		next.LocationID = s.LocationID
		next.IncludeChildLocations = s.IncludeChildLocations
	}
	return next, nil
}

func validateColors(cf model.ColorFilter) (model.ColorFilter, error) {
	if cf.MatchType == "" {
		cf.MatchType = model.ColorMatchExactly
	}
	if !cf.MatchType.Valid() {
		return cf, invalid(FacetColors, "unknown match type "+string(cf.MatchType))
	}
	colors := uniq(cf.Colors)
	for i, c := range colors {
		colors[i] = strings.ToUpper(c)
		if !slices.Contains(model.KnownColors, colors[i]) {
			return cf, invalid(FacetColors, "unknown color "+c)
		}
	}
	colors = uniq(colors)
	if len(colors) > 1 && slices.Contains(colors, model.Colorless) {
		return cf, invalid(FacetColors, "colorless cannot be combined")
	}
	cf.Colors = colors
	return cf, nil
}

func validateStats(view model.View, conds []model.StatCondition) ([]model.StatCondition, error) {
	rules := model.RulesFor(view)
	var out []model.StatCondition
	for _, c := range conds {
		if !rules.IsStatAttribute(c.Attribute) {
			return nil, invalid(FacetStats, "unknown attribute "+c.Attribute)
		}
		if !c.Operator.Valid() {
			return nil, invalid(FacetStats, "unknown operator "+string(c.Operator))
		}
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return nil, invalid(FacetStats, "value is not finite")
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func invalid(f Facet, reason string) error {
	return eris.Wrapf(ErrInvalidAction, "facet %s: %s", f, reason)
}

// uniq drops duplicates keeping first occurrence; an empty result is nil.
func uniq(vs []string) []string {
	var out []string
	for _, v := range vs {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func remove(vs []string, v string) []string {
	out := slices.DeleteFunc(slices.Clone(vs), func(x string) bool { return x == v })
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalize(s model.SearchState) model.SearchState {
	s = s.Clone()
	for _, ie := range []*model.IncludeExclude{&s.Types, &s.Rarities, &s.Layouts, &s.SetCategories, &s.SetTypes} {
		if len(ie.Include) == 0 {
			ie.Include = nil
		}
		if len(ie.Exclude) == 0 {
			ie.Exclude = nil
		}
	}
	if len(s.Colors.Colors) == 0 {
		s.Colors.Colors = nil
	}
	if len(s.Stats) == 0 {
		s.Stats = nil
	}
	return s
}
