package urlsync

import (
	"strconv"
	"strings"

	"github.com/sells-group/catalogsync/internal/model"
)

// collectionPrefix is the path under which a user's collection is browsed.
const collectionPrefix = "/collections/"

// ScopeFromPath derives the scope from a location path: /collections/{userID}
// and anything below it is that user's collection, everything else browses
// the public catalog.
func ScopeFromPath(path string) model.ScopeContext {
	rest, ok := strings.CutPrefix(path, collectionPrefix)
	if !ok {
		return model.BrowseScope()
	}
	idPart, _, _ := strings.Cut(rest, "/")
	id, err := strconv.Atoi(idPart)
	if err != nil || id <= 0 {
		return model.BrowseScope()
	}
	return model.CollectionScope(id)
}

// CollectionPath is the location of userID's collection.
func CollectionPath(userID int) string {
	return collectionPrefix + strconv.Itoa(userID)
}
