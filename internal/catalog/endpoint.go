// Package catalog is the network boundary: request payloads built from a
// search state, the endpoints they go to, and the tagged result the
// catalog API answers with.
package catalog

import (
	"net/http"

	"github.com/sells-group/catalogsync/internal/model"
)

// Endpoint names one catalog API operation.
type Endpoint string

const (
	EndpointCardsSearch    Endpoint = "cards-search"
	EndpointSetsSearch     Endpoint = "sets-search"
	EndpointCostToComplete Endpoint = "cost-to-complete"
	EndpointGoals          Endpoint = "goals"
)

// TTLClass groups endpoints by how long their results stay fresh.
type TTLClass int

const (
	// Paginated results change as collections change.
	Paginated TTLClass = iota
	// Reference data changes rarely.
	Reference
)

// SearchEndpoint returns the search endpoint of view.
func SearchEndpoint(view model.View) Endpoint {
	if view == model.ViewSets {
		return EndpointSetsSearch
	}
	return EndpointCardsSearch
}

// Path is the API path relative to the base URL.
func (e Endpoint) Path() string {
	switch e {
	case EndpointCardsSearch:
		return "/search/cards"
	case EndpointSetsSearch:
		return "/search/sets"
	case EndpointCostToComplete:
		return "/sets/cost-to-complete"
	case EndpointGoals:
		return "/goals"
	default:
		return "/" + string(e)
	}
}

// Method is the HTTP method of e.
func (e Endpoint) Method() string {
	switch e {
	case EndpointCardsSearch, EndpointSetsSearch:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

// Class returns the freshness class of e.
func (e Endpoint) Class() TTLClass {
	switch e {
	case EndpointCostToComplete, EndpointGoals:
		return Reference
	default:
		return Paginated
	}
}

// Known reports whether e is one of the catalog endpoints.
func (e Endpoint) Known() bool {
	switch e {
	case EndpointCardsSearch, EndpointSetsSearch, EndpointCostToComplete, EndpointGoals:
		return true
	}
	return false
}
