package model

import (
	"math"
	"slices"
)

// ColorMatchType controls how the selected colors are compared.
type ColorMatchType string

const (
	ColorMatchExactly  ColorMatchType = "exactly"
	ColorMatchIncludes ColorMatchType = "includes"
	ColorMatchAtMost   ColorMatchType = "atMost"
)

// Valid reports whether c is a known match type.
func (c ColorMatchType) Valid() bool {
	switch c {
	case ColorMatchExactly, ColorMatchIncludes, ColorMatchAtMost:
		return true
	}
	return false
}

// ColorFilter selects cards by color identity.
type ColorFilter struct {
	Colors    []string       `json:"colors,omitempty"`
	MatchType ColorMatchType `json:"match_type,omitempty"`
}

// Colorless may only be selected on its own.
const Colorless = "C"

// KnownColors are the single-letter color codes accepted in a ColorFilter.
var KnownColors = []string{"W", "U", "B", "R", "G", Colorless}

// IncludeExclude is a pair of disjoint value lists for one facet.
type IncludeExclude struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Empty reports whether neither list has values.
func (ie IncludeExclude) Empty() bool {
	return len(ie.Include) == 0 && len(ie.Exclude) == 0
}

// Disjoint reports whether no value appears in both lists.
func (ie IncludeExclude) Disjoint() bool {
	for _, v := range ie.Include {
		if slices.Contains(ie.Exclude, v) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (ie IncludeExclude) Clone() IncludeExclude {
	return IncludeExclude{Include: slices.Clone(ie.Include), Exclude: slices.Clone(ie.Exclude)}
}

// TriState is an optional boolean filter.
type TriState string

const (
	TriAny   TriState = ""
	TriTrue  TriState = "true"
	TriFalse TriState = "false"
)

// Valid reports whether t is a known tri-state value.
func (t TriState) Valid() bool {
	return t == TriAny || t == TriTrue || t == TriFalse
}

// CompletionStatus filters sets by how much of them a collection holds.
type CompletionStatus string

const (
	CompletionAny          CompletionStatus = ""
	CompletionComplete     CompletionStatus = "complete"
	CompletionPartial      CompletionStatus = "partial"
	CompletionNotCollected CompletionStatus = "notCollected"
)

// Valid reports whether c is a known completion status.
func (c CompletionStatus) Valid() bool {
	switch c {
	case CompletionAny, CompletionComplete, CompletionPartial, CompletionNotCollected:
		return true
	}
	return false
}

// StatOperator compares a numeric card or set attribute.
type StatOperator string

const (
	OpGTE StatOperator = "gte"
	OpGT  StatOperator = "gt"
	OpLTE StatOperator = "lte"
	OpLT  StatOperator = "lt"
	OpEQ  StatOperator = "eq"
	OpNE  StatOperator = "not"
)

// AllStatOperators lists operators in URL-token order.
func AllStatOperators() []StatOperator {
	return []StatOperator{OpGTE, OpGT, OpLTE, OpLT, OpEQ, OpNE}
}

// Valid reports whether op is one of the fixed operators.
func (op StatOperator) Valid() bool {
	return slices.Contains(AllStatOperators(), op)
}

// Symbol returns the mathematical symbol for op.
func (op StatOperator) Symbol() string {
	switch op {
	case OpGTE:
		return "≥"
	case OpGT:
		return ">"
	case OpLTE:
		return "≤"
	case OpLT:
		return "<"
	case OpEQ:
		return "="
	case OpNE:
		return "≠"
	default:
		return "?"
	}
}

// StatCondition is one (attribute, operator, value) triple.
type StatCondition struct {
	Attribute string       `json:"attribute"`
	Operator  StatOperator `json:"operator"`
	Value     float64      `json:"value"`
}

// Finite reports whether the condition's value is a usable number.
func (c StatCondition) Finite() bool {
	return !math.IsNaN(c.Value) && !math.IsInf(c.Value, 0)
}
