// Package prefs is the preference store: namespaced JSON values kept in a
// durable (per-device) or session (per-tab) tier, with change notification
// to subscribers in the same context and, for the durable tier, to every
// other context sharing the same Bus.
package prefs

import (
	"fmt"

	"github.com/sells-group/catalogsync/internal/model"
)

// Tier selects where a preference lives.
type Tier int

const (
	// Durable values outlive the tab and are shared between tabs.
	Durable Tier = iota
	// Session values belong to one tab and are copied on duplication.
	Session
)

func (t Tier) String() string {
	switch t {
	case Durable:
		return "durable"
	case Session:
		return "session"
	default:
		return "unknown"
	}
}

// Key identifies a preference.
type Key struct {
	Name string
	Tier Tier
}

func (k Key) String() string { return fmt.Sprintf("%s(%s)", k.Name, k.Tier) }

// Keys read and written by the search core.
var (
	KeyDisplayPriceType    = Key{Name: "displayPriceType", Tier: Durable}
	KeyGoalsPagination     = Key{Name: "goalsPagination", Tier: Durable}
	KeyLocationsPagination = Key{Name: "locationsPagination", Tier: Durable}
	KeyGoalsCache          = Key{Name: "goalsCache", Tier: Durable}
	KeyDismissedMessages   = Key{Name: "dismissedMessages", Tier: Session}
)

// KeyPageSize is the remembered page size of a view.
func KeyPageSize(view model.View) Key {
	return Key{Name: "pageSize." + string(view), Tier: Durable}
}

// KeyViewMode is the remembered grid/table choice of a view.
func KeyViewMode(view model.View) Key {
	return Key{Name: "viewMode." + string(view), Tier: Durable}
}

// ListPagination is the stored shape of the goals and locations list pagination.
type ListPagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// LookupKey resolves the name of a well-known key, including the per-view
// page-size and view-mode keys.
func LookupKey(name string) (Key, bool) {
	for _, k := range []Key{
		KeyDisplayPriceType, KeyGoalsPagination, KeyLocationsPagination,
		KeyGoalsCache, KeyDismissedMessages,
	} {
		if k.Name == name {
			return k, true
		}
	}
	for _, v := range model.AllViews() {
		if k := KeyPageSize(v); k.Name == name {
			return k, true
		}
		if k := KeyViewMode(v); k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}
