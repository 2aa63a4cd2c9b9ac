package model

// View identifies which catalog a search runs against.
type View string

const (
	ViewCards View = "cards"
	ViewSets  View = "sets"
)

// AllViews returns every supported view.
func AllViews() []View {
	return []View{ViewCards, ViewSets}
}

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	return v == ViewCards || v == ViewSets
}

// ViewMode is how results are displayed. It never affects what is fetched.
type ViewMode string

const (
	ViewModeGrid  ViewMode = "grid"
	ViewModeTable ViewMode = "table"
)

// Valid reports whether m is a known display mode.
func (m ViewMode) Valid() bool {
	return m == ViewModeGrid || m == ViewModeTable
}

// ScopeContext is derived from the navigation location. Collection-only
// fields are legal only when IsCollection is true.
type ScopeContext struct {
	IsCollection bool `json:"is_collection"`
	UserID       int  `json:"user_id,omitempty"`
}

// BrowseScope is the scope of the public catalog.
func BrowseScope() ScopeContext {
	return ScopeContext{}
}

// CollectionScope is the scope of userID's collection.
func CollectionScope(userID int) ScopeContext {
	return ScopeContext{IsCollection: true, UserID: userID}
}
