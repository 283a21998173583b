// Package cache implements the two-tier (memory + disk) verified-content
// cache (spec §4.12): a byte-budgeted LRU in memory backed by a
// crash-safe, atomically-written disk tier.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar-io/wayfinder-router/lru"
)

// Entry is one cached, verified content response. TxID and Path are the
// cache key's components as passed to Set; ContentTxID is the verified
// content's own true txid. The request pipeline stores every entry under
// (ContentTxID, ""), so there TxID equals ContentTxID and Path is empty.
// ManifestTxID is the manifest document's txid, set only when the entry
// was reached via manifest path resolution.
type Entry struct {
	TxID         string
	Path         string
	ContentType  string
	Data         []byte
	Headers      http.Header
	Digest       string
	VerifiedBy   []string
	VerifiedAt   time.Time
	ContentTxID  string
	ManifestTxID string
	GatewayURL   string
}

// Size satisfies lru.Sized; an entry's weight is its body size.
func (e *Entry) Size() int64 { return int64(len(e.Data)) }

type diskMeta struct {
	Key          string
	TxID         string
	Path         string
	ContentType  string
	Digest       string
	VerifiedBy   []string
	VerifiedAt   time.Time
	ContentTxID  string
	ManifestTxID string
	GatewayURL   string
	ByteSize     int64
}

func (d diskMeta) Size() int64 { return d.ByteSize }

// Config configures the cache's budgets and disk persistence.
type Config struct {
	MemoryMaxBytes int64
	DiskMaxBytes   int64
	MaxItemBytes   int64
	DiskEnabled    bool
	DiskPath       string
}

// Cache is the verified-content cache. Gets check memory then disk,
// promoting disk hits back into memory. Sets write through both tiers.
type Cache struct {
	cfg    Config
	logger zerolog.Logger

	memory *lru.Cache[string, *Entry]
	disk   *lru.Cache[string, diskMeta]

	mu      sync.Mutex
	txIndex map[string]map[string]struct{}

	hits   int64
	misses int64
}

func cacheKey(txid, path string) string {
	return txid + "\x00" + path
}

func diskHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// New builds a Cache per cfg, performing a crash-safe disk reindex when
// disk persistence is enabled.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	c := &Cache{
		cfg:     cfg,
		logger:  logger.With().Str("component", "content_cache").Logger(),
		txIndex: make(map[string]map[string]struct{}),
	}
	c.memory = lru.New[string, *Entry](0, cfg.MemoryMaxBytes, c.onMemoryEvict)

	if cfg.DiskEnabled {
		if cfg.DiskPath == "" {
			cfg.DiskPath = "./cache-data"
			c.cfg.DiskPath = cfg.DiskPath
		}
		if err := os.MkdirAll(cfg.DiskPath, 0o755); err != nil {
			return nil, err
		}
		c.disk = lru.New[string, diskMeta](0, cfg.DiskMaxBytes, c.onDiskEvict)
		if err := c.reindex(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// reindex rebuilds the disk index from the files on disk, run once at
// startup so a crash between writes never leaves a stale in-memory index.
func (c *Cache) reindex() error {
	entries, err := os.ReadDir(c.cfg.DiskPath)
	if err != nil {
		return err
	}

	var metas []diskMeta
	for _, de := range entries {
		name := de.Name()
		if strings.HasSuffix(name, ".tmp") {
			_ = os.Remove(filepath.Join(c.cfg.DiskPath, name))
			continue
		}
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(c.cfg.DiskPath, name))
		if err != nil {
			continue
		}
		var m diskMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			c.logger.Warn().Str("file", name).Msg("dropping unreadable cache meta file")
			continue
		}
		metas = append(metas, m)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].VerifiedAt.After(metas[j].VerifiedAt) })

	var total int64
	for _, m := range metas {
		hash := diskHash(m.Key)
		binPath := c.binPath(hash)
		if _, err := os.Stat(binPath); err != nil {
			_ = os.Remove(c.metaPath(hash))
			continue
		}
		if c.cfg.DiskMaxBytes > 0 && total+m.ByteSize > c.cfg.DiskMaxBytes {
			_ = os.Remove(binPath)
			_ = os.Remove(c.metaPath(hash))
			continue
		}
		total += m.ByteSize
		c.disk.Set(m.Key, m)
		c.addIndex(m.TxID, m.Key)
	}

	c.logger.Info().Int("entries", len(c.disk.Keys())).Int64("bytes", total).Msg("reindexed content cache from disk")
	return nil
}

func (c *Cache) binPath(hash string) string  { return filepath.Join(c.cfg.DiskPath, hash+".bin") }
func (c *Cache) metaPath(hash string) string { return filepath.Join(c.cfg.DiskPath, hash+".meta.json") }

// Get returns the cached entry for (txid, path), promoting a disk hit into
// the memory tier. A missing .bin file for an indexed disk entry purges
// that stale index entry and reports a miss.
func (c *Cache) Get(txid, path string) (*Entry, bool) {
	key := cacheKey(txid, path)

	if e, ok := c.memory.Get(key); ok {
		atomic.AddInt64(&c.hits, 1)
		return e, true
	}

	if c.disk != nil {
		if m, ok := c.disk.Get(key); ok {
			hash := diskHash(key)
			data, err := os.ReadFile(c.binPath(hash))
			if err != nil {
				c.disk.Delete(key)
				atomic.AddInt64(&c.misses, 1)
				return nil, false
			}
			entry := &Entry{
				TxID: m.TxID, Path: m.Path, ContentType: m.ContentType,
				Data: data, Digest: m.Digest, VerifiedBy: m.VerifiedBy,
				VerifiedAt: m.VerifiedAt, ContentTxID: m.ContentTxID,
				ManifestTxID: m.ManifestTxID, GatewayURL: m.GatewayURL,
			}
			c.memory.Set(key, entry)
			atomic.AddInt64(&c.hits, 1)
			return entry, true
		}
	}

	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

// Has reports cache membership without promoting or reading bytes.
func (c *Cache) Has(txid, path string) bool {
	key := cacheKey(txid, path)
	if _, ok := c.memory.Peek(key); ok {
		return true
	}
	if c.disk != nil {
		if _, ok := c.disk.Peek(key); ok {
			return true
		}
	}
	return false
}

// Set admits entry under (txid, path). Oversized items (by MaxItemBytes)
// are rejected outright; otherwise the memory/disk tiers evict their own
// least-recently-used entries to fit.
func (c *Cache) Set(txid, path string, entry *Entry) bool {
	if c.cfg.MaxItemBytes > 0 && entry.Size() > c.cfg.MaxItemBytes {
		return false
	}
	entry.TxID = txid
	entry.Path = path

	key := cacheKey(txid, path)
	admittedMemory := c.memory.Set(key, entry)
	admittedDisk := false
	if c.disk != nil {
		if err := c.persist(key, entry); err != nil {
			c.logger.Warn().Err(err).Str("txid", txid).Msg("disk cache write failed")
		} else {
			admittedDisk = true
		}
	}
	if !admittedMemory && !admittedDisk {
		return false
	}
	c.addIndex(txid, key)
	return true
}

func (c *Cache) persist(key string, entry *Entry) error {
	hash := diskHash(key)
	binPath := c.binPath(hash)
	metaPath := c.metaPath(hash)

	if err := writeAtomic(binPath, entry.Data); err != nil {
		return err
	}

	m := diskMeta{
		Key: key, TxID: entry.TxID, Path: entry.Path, ContentType: entry.ContentType,
		Digest: entry.Digest, VerifiedBy: entry.VerifiedBy, VerifiedAt: entry.VerifiedAt,
		ContentTxID: entry.ContentTxID, ManifestTxID: entry.ManifestTxID,
		GatewayURL: entry.GatewayURL, ByteSize: entry.Size(),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := writeAtomic(metaPath, raw); err != nil {
		return err
	}

	c.disk.Set(key, m)
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Invalidate removes every cached path variant for txid from both tiers.
func (c *Cache) Invalidate(txid string) int {
	c.mu.Lock()
	keys := c.txIndex[txid]
	delete(c.txIndex, txid)
	c.mu.Unlock()

	count := 0
	for key := range keys {
		if _, ok := c.memory.Peek(key); ok {
			c.memory.Delete(key)
			count++
		}
		if c.disk != nil {
			if _, ok := c.disk.Peek(key); ok {
				c.disk.Delete(key)
				count++
			}
		}
	}
	return count
}

// Clear empties both tiers, deleting all disk files.
func (c *Cache) Clear() {
	c.memory.Clear()
	if c.disk != nil {
		c.disk.Clear()
	}
	c.mu.Lock()
	c.txIndex = make(map[string]map[string]struct{})
	c.mu.Unlock()
}

// Stats is a snapshot of cache performance counters (spec §6 /wayfinder/stats).
type Stats struct {
	Hits          int64
	Misses        int64
	HitRatePct    float64
	MemoryEntries int
	MemoryBytes   int64
	DiskEntries   int
	DiskBytes     int64
}

func (c *Cache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	s := Stats{
		Hits: hits, Misses: misses, HitRatePct: hitRate,
		MemoryEntries: c.memory.Len(), MemoryBytes: c.memory.Bytes(),
	}
	if c.disk != nil {
		s.DiskEntries = c.disk.Len()
		s.DiskBytes = c.disk.Bytes()
	}
	return s
}

func (c *Cache) addIndex(txid, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.txIndex[txid]
	if !ok {
		set = make(map[string]struct{})
		c.txIndex[txid] = set
	}
	set[key] = struct{}{}
}

func (c *Cache) removeIndex(txid, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.txIndex[txid]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(c.txIndex, txid)
	}
}

// onMemoryEvict only prunes the secondary index when there is no disk tier
// to still hold the entry; with a disk tier present the entry is still
// findable via Invalidate until the disk tier itself evicts it.
func (c *Cache) onMemoryEvict(key string, e *Entry) {
	if c.disk == nil {
		c.removeIndex(e.TxID, key)
	}
}

func (c *Cache) onDiskEvict(key string, m diskMeta) {
	c.removeIndex(m.TxID, key)
	hash := diskHash(key)
	_ = os.Remove(c.binPath(hash))
	_ = os.Remove(c.metaPath(hash))
}
