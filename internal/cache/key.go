package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Namespace separates cached value kinds; each has its own TTL.
type Namespace string

const (
	NamespaceEmbedding Namespace = "embedding"
	NamespaceSearch    Namespace = "search"
	NamespaceContent   Namespace = "content"
)

// Key hashes the namespace, model and parts into a stable cache key. Parts
// are lower-cased and trimmed so trivially different queries share an entry.
func Key(ns Namespace, model string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(ns))
	h.Write([]byte{0})
	h.Write([]byte(model))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
	}
	return string(ns) + ":" + hex.EncodeToString(h.Sum(nil))
}
