package search

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalogsync/internal/model"
)

// wireAction is the JSON form of an Action.
type wireAction struct {
	Type             string              `json:"type"`
	Facet            Facet               `json:"facet,omitempty"`
	Value            json.RawMessage     `json:"value,omitempty"`
	Page             int                 `json:"page,omitempty"`
	PageSize         int                 `json:"pageSize,omitempty"`
	Key              string              `json:"key,omitempty"`
	Direction        model.SortDirection `json:"direction,omitempty"`
	PreserveGoal     bool                `json:"preserveGoal,omitempty"`
	PreserveLocation bool                `json:"preserveLocation,omitempty"`
}

// DecodeAction parses a JSON action such as
// {"type":"setFilter","facet":"name","value":"Bolt"}.
func DecodeAction(data []byte) (Action, error) {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, eris.Wrap(err, "search: decode action")
	}

	switch w.Type {
	case "setFilter":
		v, err := decodeFacetValue(w.Facet, w.Value)
		if err != nil {
			return nil, err
		}
		return SetFilter{Facet: w.Facet, Value: v}, nil
	case "toggleInclude", "toggleExclude":
		var v string
		if err := json.Unmarshal(w.Value, &v); err != nil {
			return nil, eris.Wrapf(ErrInvalidAction, "%s value: %v", w.Type, err)
		}
		if w.Type == "toggleInclude" {
			return ToggleInclude{Facet: w.Facet, Value: v}, nil
		}
		return ToggleExclude{Facet: w.Facet, Value: v}, nil
	case "setPagination":
		return SetPagination{Page: w.Page, PageSize: w.PageSize}, nil
	case "setSort":
		return SetSort{Key: w.Key, Direction: w.Direction}, nil
	case "resetSearch":
		return ResetSearch{PreserveGoal: w.PreserveGoal, PreserveLocation: w.PreserveLocation}, nil
	default:
		return nil, eris.Wrapf(ErrInvalidAction, "unknown action type %q", w.Type)
	}
}

func decodeFacetValue(f Facet, raw json.RawMessage) (any, error) {
	var (
		v   any
		err error
	)
	switch f {
	case FacetName, FacetOracleText, FacetArtist:
		v, err = decodeAs[string](raw)
	case FacetColors:
		v, err = decodeAs[model.ColorFilter](raw)
	case FacetTypes, FacetRarities, FacetLayouts, FacetSetCategories, FacetSetTypes:
		v, err = decodeAs[model.IncludeExclude](raw)
	case FacetStats:
		v, err = decodeAs[[]model.StatCondition](raw)
	case FacetReserved:
		v, err = decodeAs[model.TriState](raw)
	case FacetCompletion:
		v, err = decodeAs[model.CompletionStatus](raw)
	case FacetGoal, FacetLocation:
		v, err = decodeAs[int](raw)
	case FacetIncludeChildLocations, FacetIncludeSubsets, FacetOneResultPerCardName:
		v, err = decodeAs[bool](raw)
	case FacetViewMode:
		v, err = decodeAs[model.ViewMode](raw)
	default:
		return nil, invalid(f, "unknown facet")
	}
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidAction, "facet %s value: %v", f, err)
	}
	return v, nil
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, eris.New("missing value")
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}
