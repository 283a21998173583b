// Package manifest implements the path-manifest resolver (spec §4.9): a
// strict JSON schema mapping sub-paths of a manifest transaction to
// individual content transaction ids.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned when a path has no entry, no fallback, and (for
// the empty path) no index.
var ErrNotFound = errors.New("manifest path not found")

// ErrInvalidManifest is returned when the JSON body doesn't match the
// "arweave/paths" schema.
var ErrInvalidManifest = errors.New("invalid path manifest")

type pathEntry struct {
	ID string `json:"id"`
}

// indexEntry names a key in paths by its path string, per the
// "arweave/paths" manifest schema ({"index":{"path":"index.html"}}) — it
// does not carry a txid of its own.
type indexEntry struct {
	Path string `json:"path"`
}

type wireManifest struct {
	Manifest string               `json:"manifest"`
	Version  string               `json:"version"`
	Index    *indexEntry          `json:"index,omitempty"`
	Fallback *pathEntry           `json:"fallback,omitempty"`
	Paths    map[string]pathEntry `json:"paths"`
}

// Manifest is the parsed, verified representation of a manifest body.
type Manifest struct {
	TxID     string
	Version  string
	IndexID  string
	HasIndex bool
	FallbackID string
	HasFallback bool
	Paths    map[string]string
}

// Parse strictly decodes and validates raw JSON bytes as a path manifest.
func Parse(txid string, raw []byte) (*Manifest, error) {
	var w wireManifest
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if w.Manifest != "arweave/paths" {
		return nil, fmt.Errorf("%w: unexpected manifest field %q", ErrInvalidManifest, w.Manifest)
	}
	if w.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrInvalidManifest)
	}
	if w.Paths == nil {
		return nil, fmt.Errorf("%w: missing paths", ErrInvalidManifest)
	}

	m := &Manifest{
		TxID:    txid,
		Version: w.Version,
		Paths:   make(map[string]string, len(w.Paths)),
	}
	for p, e := range w.Paths {
		m.Paths[normalizePath(p)] = e.ID
	}
	if w.Index != nil && w.Index.Path != "" {
		if id, ok := m.Paths[normalizePath(w.Index.Path)]; ok {
			m.IndexID = id
			m.HasIndex = true
		}
	}
	if w.Fallback != nil && w.Fallback.ID != "" {
		m.FallbackID = w.Fallback.ID
		m.HasFallback = true
	}
	return m, nil
}

// normalizePath strips a leading slash and, for non-root paths, a trailing
// slash, so "/a/b/" and "a/b" key the same entry.
func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p != "" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// Resolve finds the content txid and index-ness for a requested sub-path,
// following the resolution order: index (for the empty path), exact match,
// fallback, error.
func (m *Manifest) Resolve(requestedPath string) (contentTxID string, isIndex bool, err error) {
	p := normalizePath(requestedPath)

	if p == "" {
		if m.HasIndex {
			return m.IndexID, true, nil
		}
		if m.HasFallback {
			return m.FallbackID, false, nil
		}
		return "", false, ErrNotFound
	}

	if id, ok := m.Paths[p]; ok {
		return id, false, nil
	}
	if m.HasFallback {
		return m.FallbackID, false, nil
	}
	return "", false, ErrNotFound
}

// Cache holds verified, parsed manifests, keyed by their (immutable)
// transaction id — once a manifest is parsed it never needs to be
// re-fetched or re-verified.
type Cache struct {
	mu    sync.RWMutex
	byTx  map[string]*Manifest
}

// NewCache creates an empty manifest cache.
func NewCache() *Cache {
	return &Cache{byTx: make(map[string]*Manifest)}
}

func (c *Cache) Get(txid string) (*Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byTx[txid]
	return m, ok
}

func (c *Cache) Put(m *Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byTx[m.TxID] = m
}
