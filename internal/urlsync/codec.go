// Package urlsync keeps the address bar and the search state in step:
// Hydrate reads a query string into a state once, and the Reflector writes
// the state back, debounced and only when the text would change.
package urlsync

import (
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/search"
)

// Query parameter names, in the order Encode writes them.
const (
	ParamName                  = "name"
	ParamOracleText            = "oracleText"
	ParamArtist                = "artist"
	ParamColors                = "colors"
	ParamColorMatchType        = "colorMatchType"
	ParamIncludeTypes          = "includeTypes"
	ParamExcludeTypes          = "excludeTypes"
	ParamIncludeRarities       = "includeRarities"
	ParamExcludeRarities       = "excludeRarities"
	ParamIncludeLayouts        = "includeLayouts"
	ParamExcludeLayouts        = "excludeLayouts"
	ParamIncludeSetCategories  = "includeSetCategories"
	ParamExcludeSetCategories  = "excludeSetCategories"
	ParamIncludeSetTypes       = "includeSetTypes"
	ParamExcludeSetTypes       = "excludeSetTypes"
	ParamStats                 = "stats"
	ParamReserved              = "isReserved"
	ParamCompletion            = "completionStatus"
	ParamOneResultPerCardName  = "oneResultPerCardName"
	ParamIncludeSubsetsInSets  = "includeSubsetsInSets"
	ParamGoalID                = "goalId"
	ParamLocationID            = "locationId"
	ParamIncludeChildLocations = "includeChildLocations"
	ParamSortBy                = "sortBy"
	ParamSortDirection         = "sortDirection"
	ParamPage                  = "page"
	ParamPageSize              = "pageSize"
	ParamContentType           = "contentType"
)

type listParam struct {
	facet            search.Facet
	include, exclude string
	get              func(*model.SearchState) *model.IncludeExclude
}

var listParams = []listParam{
	{search.FacetTypes, ParamIncludeTypes, ParamExcludeTypes, func(s *model.SearchState) *model.IncludeExclude { return &s.Types }},
	{search.FacetRarities, ParamIncludeRarities, ParamExcludeRarities, func(s *model.SearchState) *model.IncludeExclude { return &s.Rarities }},
	{search.FacetLayouts, ParamIncludeLayouts, ParamExcludeLayouts, func(s *model.SearchState) *model.IncludeExclude { return &s.Layouts }},
	{search.FacetSetCategories, ParamIncludeSetCategories, ParamExcludeSetCategories, func(s *model.SearchState) *model.IncludeExclude { return &s.SetCategories }},
	{search.FacetSetTypes, ParamIncludeSetTypes, ParamExcludeSetTypes, func(s *model.SearchState) *model.IncludeExclude { return &s.SetTypes }},
}

var known = func() map[string]bool {
	m := map[string]bool{}
	for _, p := range []string{
		ParamName, ParamOracleText, ParamArtist, ParamColors, ParamColorMatchType,
		ParamStats, ParamReserved, ParamCompletion, ParamOneResultPerCardName,
		ParamIncludeSubsetsInSets, ParamGoalID, ParamLocationID, ParamIncludeChildLocations,
		ParamSortBy, ParamSortDirection, ParamPage, ParamPageSize, ParamContentType,
	} {
		m[p] = true
	}
	for _, lp := range listParams {
		m[lp.include] = true
		m[lp.exclude] = true
	}
	return m
}()

// IsKnownParam reports whether name is read by Hydrate.
func IsKnownParam(name string) bool { return known[name] }

// Query is a parsed query string: the recognized parameters by name and
// the unrecognized pairs in their original order and spelling.
type Query struct {
	Params  map[string]string
	Unknown []string
}

// ParseQuery splits raw (with or without a leading '?'). The first
// occurrence of a recognized parameter wins.
func ParseQuery(raw string) Query {
	q := Query{Params: map[string]string{}}
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return q
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil || !known[key] {
			q.Unknown = append(q.Unknown, pair)
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			zap.L().Debug("urlsync: ignoring malformed parameter", zap.String("param", key), zap.Error(err))
			continue
		}
		if _, dup := q.Params[key]; !dup {
			q.Params[key] = val
		}
	}
	return q
}

var unescapeSeparators = strings.NewReplacer("%2C", ",", "%7C", "|", "%3D", "=")

func escape(v string) string {
	return unescapeSeparators.Replace(url.QueryEscape(v))
}

// Encode renders s as a canonical query string without the leading '?'.
// Values equal to the view defaults are omitted, with defaultPageSize
// standing in for the page-size default, and contentType is always written
// last among the recognized parameters. unknown pairs are appended as given.
func Encode(s model.SearchState, defaultPageSize int, unknown []string) string {
	rules := model.RulesFor(s.View)
	var parts []string
	add := func(k, v string) {
		parts = append(parts, k+"="+escape(v))
	}

	if s.Name != "" {
		add(ParamName, s.Name)
	}
	if s.OracleText != "" {
		add(ParamOracleText, s.OracleText)
	}
	if s.Artist != "" {
		add(ParamArtist, s.Artist)
	}
	if len(s.Colors.Colors) > 0 {
		add(ParamColors, strings.Join(s.Colors.Colors, ","))
	}
	if s.Colors.MatchType != "" && s.Colors.MatchType != model.ColorMatchExactly {
		add(ParamColorMatchType, string(s.Colors.MatchType))
	}
	for _, lp := range listParams {
		ie := lp.get(&s)
		if len(ie.Include) > 0 {
			add(lp.include, strings.Join(ie.Include, ","))
		}
		if len(ie.Exclude) > 0 {
			add(lp.exclude, strings.Join(ie.Exclude, ","))
		}
	}
	if len(s.Stats) > 0 {
		add(ParamStats, EncodeStats(s.Stats))
	}
	if s.Reserved != model.TriAny {
		add(ParamReserved, string(s.Reserved))
	}
	if s.Completion != model.CompletionAny {
		add(ParamCompletion, string(s.Completion))
	}
	if s.OneResultPerCardName {
		add(ParamOneResultPerCardName, "true")
	}
	if s.IncludeSubsetsInSets {
		add(ParamIncludeSubsetsInSets, "true")
	}
	if s.GoalID > 0 {
		add(ParamGoalID, strconv.Itoa(s.GoalID))
	}
	if s.LocationID > 0 {
		add(ParamLocationID, strconv.Itoa(s.LocationID))
	}
	if s.IncludeChildLocations {
		add(ParamIncludeChildLocations, "true")
	}
	if s.SortBy != "" && s.SortBy != rules.DefaultSortBy {
		add(ParamSortBy, s.SortBy)
	}
	if s.SortDirection != "" && s.SortDirection != rules.DefaultSortDirection {
		add(ParamSortDirection, string(s.SortDirection))
	}
	if s.Page > 1 {
		add(ParamPage, strconv.Itoa(s.Page))
	}
	if defaultPageSize <= 0 {
		defaultPageSize = rules.DefaultPageSize
	}
	if s.PageSize > 0 && s.PageSize != defaultPageSize {
		add(ParamPageSize, strconv.Itoa(s.PageSize))
	}
	add(ParamContentType, string(s.View))

	parts = append(parts, unknown...)
	return strings.Join(parts, "&")
}

// EncodeStats renders conditions as attr=op1v1|op2v2,attr2=..., grouping
// by attribute in order of first appearance.
func EncodeStats(conds []model.StatCondition) string {
	var order []string
	groups := map[string][]string{}
	for _, c := range conds {
		if _, ok := groups[c.Attribute]; !ok {
			order = append(order, c.Attribute)
		}
		groups[c.Attribute] = append(groups[c.Attribute],
			string(c.Operator)+strconv.FormatFloat(c.Value, 'f', -1, 64))
	}
	out := make([]string, 0, len(order))
	for _, attr := range order {
		out = append(out, attr+"="+strings.Join(groups[attr], "|"))
	}
	return strings.Join(out, ",")
}

// operator tokens, longest first so "gte" is not read as "gt".
var opTokens = []model.StatOperator{model.OpGTE, model.OpLTE, model.OpGT, model.OpLT, model.OpEQ, model.OpNE}

// DecodeStats parses the compact stats form, dropping conditions that do
// not parse.
func DecodeStats(raw string) []model.StatCondition {
	var out []model.StatCondition
	for _, group := range strings.Split(raw, ",") {
		attr, rest, ok := strings.Cut(group, "=")
		if !ok || attr == "" {
			continue
		}
		for _, tok := range strings.Split(rest, "|") {
			c, ok := decodeCondition(attr, tok)
			if ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func decodeCondition(attr, tok string) (model.StatCondition, bool) {
	for _, op := range opTokens {
		num, ok := strings.CutPrefix(tok, string(op))
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return model.StatCondition{}, false
		}
		c := model.StatCondition{Attribute: attr, Operator: op, Value: v}
		return c, c.Finite()
	}
	return model.StatCondition{}, false
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
