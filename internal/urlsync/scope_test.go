package urlsync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/catalogsync/internal/model"
)

func TestScopeFromPath(t *testing.T) {
	tests := []struct {
		path string
		want model.ScopeContext
	}{
		{"/browse", model.BrowseScope()},
		{"/", model.BrowseScope()},
		{"/collections/42", model.CollectionScope(42)},
		{"/collections/42/sets/7", model.CollectionScope(42)},
		{"/collections/abc", model.BrowseScope()},
		{"/collections/0", model.BrowseScope()},
		{"/collections/", model.BrowseScope()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScopeFromPath(tt.path), tt.path)
	}
	assert.Equal(t, "/collections/9", CollectionPath(9))
}

func TestMemoryAddressBar(t *testing.T) {
	bar := NewMemoryAddressBar("/browse", "?a=1")
	assert.Equal(t, "a=1", bar.Query())
	bar.Push("b=2")
	bar.Replace("?c=3")
	assert.Equal(t, []string{"a=1", "c=3"}, bar.History())
	assert.Equal(t, "/browse?c=3", bar.URL())
	assert.Equal(t, 1, bar.Replaces())

	bar.Replace("")
	assert.Equal(t, "/browse", bar.URL())
}
