package catalog

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// statusCalculating marks a goal whose progress is still being compiled.
const statusCalculating = "calculating"

// Result is what a catalog request settles with: Ready or Compiling.
type Result interface {
	isResult()
}

// Ready carries a complete response body.
type Ready struct {
	Body json.RawMessage
	// TotalCount is the number of matching items across all pages, or -1
	// when the response does not say.
	TotalCount int
}

// Compiling reports that the server is still computing the response.
type Compiling struct {
	Message string
	// ETA is the server's hint of how long compilation will take, 0 if none.
	ETA time.Duration
}

func (Ready) isResult()     {}
func (Compiling) isResult() {}

type envelope struct {
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	ETASeconds float64         `json:"etaSeconds"`
	TotalCount *int            `json:"totalCount"`
	Data       json.RawMessage `json:"data"`
}

// ParseResult classifies a response body. A "still computing" marker may
// appear at the top level or inside a data envelope.
func ParseResult(body []byte) (Result, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Arrays and scalars are complete payloads.
		if json.Valid(body) {
			return Ready{Body: json.RawMessage(body), TotalCount: -1}, nil
		}
		return nil, eris.Wrap(err, "catalog: decode response")
	}

	inner := env
	if len(env.Data) > 0 && env.Data[0] == '{' {
		if err := json.Unmarshal(env.Data, &inner); err != nil {
			return nil, eris.Wrap(err, "catalog: decode response data")
		}
	}

	for _, e := range []envelope{env, inner} {
		if e.Status == statusCalculating {
			return Compiling{
				Message: e.Message,
				ETA:     time.Duration(e.ETASeconds * float64(time.Second)),
			}, nil
		}
	}

	total := -1
	switch {
	case inner.TotalCount != nil:
		total = *inner.TotalCount
	case env.TotalCount != nil:
		total = *env.TotalCount
	}
	return Ready{Body: json.RawMessage(body), TotalCount: total}, nil
}

// Goal is a user's collecting target.
type Goal struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"isActive"`
}

// DecodeGoals reads the goal list from a Ready goals response, accepting
// a bare array or a {"data": {"goals": [...]}} envelope.
func DecodeGoals(r Ready) ([]Goal, error) {
	var goals []Goal
	if err := json.Unmarshal(r.Body, &goals); err == nil {
		return goals, nil
	}
	var env struct {
		Goals []Goal `json:"goals"`
		Data  struct {
			Goals []Goal `json:"goals"`
		} `json:"data"`
	}
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return nil, eris.Wrap(err, "catalog: decode goals")
	}
	if env.Data.Goals != nil {
		return env.Data.Goals, nil
	}
	return env.Goals, nil
}
