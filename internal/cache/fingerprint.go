// Package cache implements the three-level read-through cache: an in-process
// LRU, an optional shared redis layer, and an optional sqlite disk layer.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Purposes with time-sensitive payloads carry an hour bucket in their key so
// entries age out of relevance at most an hour late.
var timeSensitive = map[string]bool{
	"news":   true,
	"market": true,
	"quote":  true,
	"search": true,
}

// TimeSensitive reports whether a purpose embeds the hour bucket in its key.
func TimeSensitive(purpose string) bool { return timeSensitive[purpose] }

// Fingerprint builds a deterministic cache key:
// {purpose}:{qhash}:{hourBucket?}:{paramhash}. The query is normalized
// (trimmed, lower-cased, whitespace collapsed) before hashing so trivial
// variants share an entry.
func Fingerprint(purpose, query string, params map[string]any, now time.Time) string {
	parts := []string{purpose, shortHash(normalizeQuery(query))}
	if TimeSensitive(purpose) {
		parts = append(parts, now.UTC().Format("2006010215"))
	}
	parts = append(parts, shortHash(canonicalParams(params)))
	return strings.Join(parts, ":")
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(q))), " ")
}

// canonicalParams renders params with sorted keys so map iteration order can
// never split the cache.
func canonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		v, err := json.Marshal(params[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%q", fmt.Sprint(params[k])))
		}
		fmt.Fprintf(&sb, "%q:%s", k, v)
	}
	sb.WriteByte('}')
	return sb.String()
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
