// Package reqcache is the fingerprinted request cache: at most one request in
// flight per fingerprint, entries with status and fulfillment time, TTL
// classes per endpoint, and speculative next-page prefetch.
package reqcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sells-group/catalogsync/internal/catalog"
	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/search"
)

// Fingerprint returns the cache key of the search request that s would make
// against endpoint in scope. Collection-only fields are removed first, so a
// state and its scope-filtered projection share a fingerprint.
func Fingerprint(s model.SearchState, endpoint catalog.Endpoint, scope model.ScopeContext) string {
	filtered := search.FilterForContext(s, scope, s.View)
	return RequestFingerprint(catalog.Request{
		Endpoint: endpoint,
		Payload:  catalog.NewSearchPayload(filtered, scope),
	})
}

// RequestFingerprint returns the cache key of req.
func RequestFingerprint(req catalog.Request) string {
	sum := sha256.Sum256([]byte(Canonical(req)))
	return string(req.Endpoint) + ":" + hex.EncodeToString(sum[:12])
}

// Canonical is the deterministic text a fingerprint is hashed from: the
// endpoint, the payload with object keys sorted, and the encoded query.
func Canonical(req catalog.Request) string {
	doc := map[string]any{"endpoint": string(req.Endpoint)}
	if req.Payload != nil {
		doc["payload"] = canonicalValue(req.Payload)
	}
	if len(req.Query) > 0 {
		// Encode sorts by key.
		doc["query"] = req.Query.Encode()
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return string(req.Endpoint)
	}
	return string(out)
}

// canonicalValue round-trips v through a generic JSON tree; maps marshal
// with sorted keys, so the result no longer depends on field or insertion order.
func canonicalValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil
	}
	return tree
}
