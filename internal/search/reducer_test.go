package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalogsync/internal/model"
)

func cards() model.SearchState {
	return model.NewSearchState(model.ViewCards, 0)
}

func TestReduce_SetTextFilterResetsPage(t *testing.T) {
	s := cards()
	s.Page = 4

	next, err := Reduce(s, SetFilter{Facet: FacetName, Value: "Bolt"})
	require.NoError(t, err)
	assert.Equal(t, "Bolt", next.Name)
	assert.Equal(t, 1, next.Page)
	assert.Equal(t, 4, s.Page, "input state must not change")
}

func TestReduce_SameValueKeepsPage(t *testing.T) {
	s := cards()
	s.Name = "Bolt"
	s.Page = 3

	next, err := Reduce(s, SetFilter{Facet: FacetName, Value: "Bolt"})
	require.NoError(t, err)
	assert.Equal(t, 3, next.Page)
}

func TestReduce_NameIsNFCNormalized(t *testing.T) {
	decomposed := "Se\u0301ance"
	next, err := Reduce(cards(), SetFilter{Facet: FacetName, Value: decomposed})
	require.NoError(t, err)
	assert.Equal(t, "S\u00e9ance", next.Name)
}

func TestReduce_ViewModeDoesNotResetPage(t *testing.T) {
	s := cards()
	s.Page = 5
	next, err := Reduce(s, SetFilter{Facet: FacetViewMode, Value: model.ViewModeTable})
	require.NoError(t, err)
	assert.Equal(t, model.ViewModeTable, next.ViewMode)
	assert.Equal(t, 5, next.Page)
}

func TestReduce_RejectsWrongValueType(t *testing.T) {
	s := cards()
	s.Name = "keep"

	next, err := Reduce(s, SetFilter{Facet: FacetName, Value: 42})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.True(t, Equal(s, next))
}

func TestReduce_RejectsUnknownFacet(t *testing.T) {
	_, err := Reduce(cards(), SetFilter{Facet: "flavor", Value: "x"})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestReduce_NilAction(t *testing.T) {
	s := cards()
	next, err := Reduce(s, nil)
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.True(t, Equal(s, next))
}

func TestReduce_Colors(t *testing.T) {
	t.Run("normalizes case and duplicates", func(t *testing.T) {
		next, err := Reduce(cards(), SetFilter{Facet: FacetColors, Value: model.ColorFilter{
			Colors: []string{"w", "U", "W"}, MatchType: model.ColorMatchIncludes,
		}})
		require.NoError(t, err)
		assert.Equal(t, []string{"W", "U"}, next.Colors.Colors)
		assert.Equal(t, model.ColorMatchIncludes, next.Colors.MatchType)
	})

	t.Run("defaults match type", func(t *testing.T) {
		next, err := Reduce(cards(), SetFilter{Facet: FacetColors, Value: model.ColorFilter{Colors: []string{"R"}}})
		require.NoError(t, err)
		assert.Equal(t, model.ColorMatchExactly, next.Colors.MatchType)
	})

	t.Run("rejects unknown color", func(t *testing.T) {
		_, err := Reduce(cards(), SetFilter{Facet: FacetColors, Value: model.ColorFilter{Colors: []string{"P"}}})
		assert.ErrorIs(t, err, ErrInvalidAction)
	})

	t.Run("rejects colorless combined", func(t *testing.T) {
		_, err := Reduce(cards(), SetFilter{Facet: FacetColors, Value: model.ColorFilter{Colors: []string{"C", "G"}}})
		assert.ErrorIs(t, err, ErrInvalidAction)
	})
}

func TestReduce_ListFacetMustBeDisjoint(t *testing.T) {
	s := cards()
	next, err := Reduce(s, SetFilter{Facet: FacetTypes, Value: model.IncludeExclude{
		Include: []string{"Creature", "Creature"},
		Exclude: []string{"Land"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Creature"}, next.Types.Include)
	assert.Equal(t, []string{"Land"}, next.Types.Exclude)

	_, err = Reduce(s, SetFilter{Facet: FacetTypes, Value: model.IncludeExclude{
		Include: []string{"Creature"},
		Exclude: []string{"Creature"},
	}})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestReduce_ToggleKeepsListsDisjoint(t *testing.T) {
	s := cards()

	s, err := Reduce(s, ToggleExclude{Facet: FacetRarities, Value: "mythic"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mythic"}, s.Rarities.Exclude)

	s, err = Reduce(s, ToggleInclude{Facet: FacetRarities, Value: "mythic"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mythic"}, s.Rarities.Include)
	assert.Empty(t, s.Rarities.Exclude)
	assert.True(t, s.Rarities.Disjoint())

	s, err = Reduce(s, ToggleInclude{Facet: FacetRarities, Value: "mythic"})
	require.NoError(t, err)
	assert.True(t, s.Rarities.Empty())
}

func TestReduce_ToggleRejectsScalarFacet(t *testing.T) {
	_, err := Reduce(cards(), ToggleInclude{Facet: FacetName, Value: "x"})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestReduce_Stats(t *testing.T) {
	t.Run("accepts known attribute and operator", func(t *testing.T) {
		next, err := Reduce(cards(), SetFilter{Facet: FacetStats, Value: []model.StatCondition{
			{Attribute: "convertedManaCost", Operator: model.OpGTE, Value: 2},
			{Attribute: "convertedManaCost", Operator: model.OpGTE, Value: 2},
			{Attribute: "powerNumeric", Operator: model.OpNE, Value: 0},
		}})
		require.NoError(t, err)
		assert.Len(t, next.Stats, 2)
	})

	t.Run("rejects unknown operator and keeps prior state", func(t *testing.T) {
		s := cards()
		s.Stats = []model.StatCondition{{Attribute: "powerNumeric", Operator: model.OpGT, Value: 1}}
		next, err := Reduce(s, SetFilter{Facet: FacetStats, Value: []model.StatCondition{
			{Attribute: "powerNumeric", Operator: "between", Value: 1},
		}})
		assert.ErrorIs(t, err, ErrInvalidAction)
		assert.Equal(t, s.Stats, next.Stats)
	})

	t.Run("rejects attribute of another view", func(t *testing.T) {
		_, err := Reduce(model.NewSearchState(model.ViewSets, 0), SetFilter{Facet: FacetStats, Value: []model.StatCondition{
			{Attribute: "powerNumeric", Operator: model.OpGT, Value: 1},
		}})
		assert.ErrorIs(t, err, ErrInvalidAction)
	})

	t.Run("rejects non-finite value", func(t *testing.T) {
		_, err := Reduce(cards(), SetFilter{Facet: FacetStats, Value: []model.StatCondition{
			{Attribute: "powerNumeric", Operator: model.OpGT, Value: math.Inf(1)},
		}})
		assert.ErrorIs(t, err, ErrInvalidAction)
	})
}

func TestReduce_ScalarFacets(t *testing.T) {
	s := cards()
	steps := []SetFilter{
		{Facet: FacetReserved, Value: model.TriTrue},
		{Facet: FacetCompletion, Value: model.CompletionPartial},
		{Facet: FacetGoal, Value: 7},
		{Facet: FacetLocation, Value: 3},
		{Facet: FacetIncludeChildLocations, Value: true},
		{Facet: FacetIncludeSubsets, Value: true},
		{Facet: FacetOneResultPerCardName, Value: true},
	}
	for _, a := range steps {
		var err error
		s, err = Reduce(s, a)
		require.NoError(t, err, a.Facet)
	}
	assert.Equal(t, model.TriTrue, s.Reserved)
	assert.Equal(t, model.CompletionPartial, s.Completion)
	assert.Equal(t, 7, s.GoalID)
	assert.Equal(t, 3, s.LocationID)
	assert.True(t, s.IncludeChildLocations)
	assert.True(t, s.IncludeSubsetsInSets)
	assert.True(t, s.OneResultPerCardName)

	s, err := Reduce(s, SetFilter{Facet: FacetLocation, Value: 0})
	require.NoError(t, err)
	assert.False(t, s.IncludeChildLocations, "clearing location clears child flag")

	_, err = Reduce(s, SetFilter{Facet: FacetGoal, Value: -1})
	assert.ErrorIs(t, err, ErrInvalidAction)
	_, err = Reduce(s, SetFilter{Facet: FacetReserved, Value: model.TriState("maybe")})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestReduce_Pagination(t *testing.T) {
	s := cards()

	s, err := Reduce(s, SetPagination{Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Page)
	assert.Equal(t, 24, s.PageSize)

	s, err = Reduce(s, SetPagination{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, model.MaxPageSize, s.PageSize)
	assert.Equal(t, 1, s.Page, "new page size returns to first page")

	s, err = Reduce(s, SetPagination{Page: 2, PageSize: 60})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Page)
	assert.Equal(t, 60, s.PageSize)

	s, err = Reduce(s, SetPagination{PageSize: 60})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Page, "unchanged page size keeps page")

	_, err = Reduce(s, SetPagination{Page: -1})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestReduce_PaginationRejectsHugePage(t *testing.T) {
	s := cards()

	next, err := Reduce(s, SetPagination{Page: model.MaxPage})
	require.NoError(t, err)
	assert.Equal(t, model.MaxPage, next.Page)

	for _, page := range []int{model.MaxPage + 1, math.MaxInt} {
		_, err = Reduce(s, SetPagination{Page: page})
		assert.ErrorIs(t, err, ErrInvalidAction, "page %d", page)
	}
}

func TestReduce_Sort(t *testing.T) {
	s := cards()
	s.Page = 2

	next, err := Reduce(s, SetSort{Key: "releasedAt", Direction: model.SortDesc})
	require.NoError(t, err)
	assert.Equal(t, "releasedAt", next.SortBy)
	assert.Equal(t, model.SortDesc, next.SortDirection)
	assert.Equal(t, 1, next.Page)

	next, err = Reduce(next, SetSort{Key: "name"})
	require.NoError(t, err)
	assert.Equal(t, model.SortDesc, next.SortDirection, "empty direction keeps current")

	_, err = Reduce(s, SetSort{Key: "percentageCollected"})
	assert.ErrorIs(t, err, ErrInvalidAction, "set sort key on cards view")

	_, err = Reduce(s, SetSort{Key: "name", Direction: "sideways"})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestReduce_ResetSearch(t *testing.T) {
	s := cards()
	s.Name = "Bolt"
	s.PageSize = 60
	s.Page = 4
	s.GoalID = 9
	s.LocationID = 2
	s.IncludeChildLocations = true
	s.ViewMode = model.ViewModeTable

	t.Run("plain", func(t *testing.T) {
		next, err := Reduce(s, ResetSearch{})
		require.NoError(t, err)
		assert.Empty(t, next.Name)
		assert.Equal(t, 1, next.Page)
		assert.Equal(t, 60, next.PageSize)
		assert.Equal(t, model.ViewModeTable, next.ViewMode)
		assert.Zero(t, next.GoalID)
		assert.Zero(t, next.LocationID)
	})

	t.Run("preserving goal and location", func(t *testing.T) {
		next, err := Reduce(s, ResetSearch{PreserveGoal: true, PreserveLocation: true})
		require.NoError(t, err)
		assert.Equal(t, 9, next.GoalID)
		assert.Equal(t, 2, next.LocationID)
		assert.True(t, next.IncludeChildLocations)
		assert.Empty(t, next.Name)
	})
}

func TestEqual_TreatsEmptyAndNilListsAlike(t *testing.T) {
	a := cards()
	b := cards()
	b.Types.Include = []string{}
	b.Stats = []model.StatCondition{}
	assert.True(t, Equal(a, b))

	b.Name = "x"
	assert.False(t, Equal(a, b))
}
