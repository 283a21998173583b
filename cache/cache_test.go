package cache

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newMemOnlyCache(t *testing.T, maxBytes, maxItem int64) *Cache {
	t.Helper()
	c, err := New(Config{MemoryMaxBytes: maxBytes, MaxItemBytes: maxItem}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func TestSetAndGetRoundTrip(t *testing.T) {
	c := newMemOnlyCache(t, 1<<20, 1<<20)
	entry := &Entry{Data: []byte("hello"), Digest: "abc", VerifiedBy: []string{"gw1"}, VerifiedAt: time.Now()}
	if ok := c.Set("TX1", "", entry); !ok {
		t.Fatalf("expected Set to succeed")
	}
	got, ok := c.Get("TX1", "")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if string(got.Data) != "hello" {
		t.Fatalf("unexpected data: %s", got.Data)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := newMemOnlyCache(t, 1<<20, 1<<20)
	if _, ok := c.Get("NOPE", ""); ok {
		t.Fatalf("expected cache miss")
	}
}

func TestSetRejectsOversizedItem(t *testing.T) {
	c := newMemOnlyCache(t, 1<<20, 4)
	entry := &Entry{Data: []byte("way too big"), VerifiedAt: time.Now()}
	if ok := c.Set("TX1", "", entry); ok {
		t.Fatalf("expected oversized item to be rejected")
	}
}

func TestInvalidateRemovesAllPathVariantsForTxID(t *testing.T) {
	c := newMemOnlyCache(t, 1<<20, 1<<20)
	c.Set("TX1", "", &Entry{Data: []byte("a"), VerifiedAt: time.Now()})
	c.Set("TX1", "other", &Entry{Data: []byte("b"), VerifiedAt: time.Now()})
	c.Set("TX2", "", &Entry{Data: []byte("c"), VerifiedAt: time.Now()})

	n := c.Invalidate("TX1")
	if n != 2 {
		t.Fatalf("expected 2 entries invalidated, got %d", n)
	}
	if _, ok := c.Get("TX1", ""); ok {
		t.Fatalf("expected TX1/\"\" to be gone")
	}
	if _, ok := c.Get("TX1", "other"); ok {
		t.Fatalf("expected TX1/other to be gone")
	}
	if _, ok := c.Get("TX2", ""); !ok {
		t.Fatalf("expected TX2 to remain untouched")
	}
}

func TestMemoryEvictionRespectsByteBudget(t *testing.T) {
	c := newMemOnlyCache(t, 10, 10)
	c.Set("TX1", "", &Entry{Data: []byte("0123456789"), VerifiedAt: time.Now()}) // exactly fills budget
	c.Set("TX2", "", &Entry{Data: []byte("abcdefghij"), VerifiedAt: time.Now()}) // evicts TX1

	if _, ok := c.Get("TX1", ""); ok {
		t.Fatalf("expected TX1 to have been evicted")
	}
	if _, ok := c.Get("TX2", ""); !ok {
		t.Fatalf("expected TX2 to be present")
	}
}

func TestDiskPersistenceSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{MemoryMaxBytes: 1, MaxItemBytes: 1 << 20, DiskEnabled: true, DiskMaxBytes: 1 << 20, DiskPath: dir}

	c1, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	entry := &Entry{Data: []byte("persisted"), Digest: "d1", VerifiedAt: time.Now()}
	if ok := c1.Set("TX1", "", entry); !ok {
		t.Fatalf("expected Set to succeed")
	}

	// A fresh cache over the same directory should reindex and serve TX1
	// without the caller ever having called Set again.
	c2, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new cache (reload): %v", err)
	}
	got, ok := c2.Get("TX1", "")
	if !ok {
		t.Fatalf("expected TX1 to survive reindex")
	}
	if string(got.Data) != "persisted" {
		t.Fatalf("unexpected data after reindex: %s", got.Data)
	}
}

func TestDiskReindexDropsDanglingTmpFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/stray.tmp", []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray tmp: %v", err)
	}
	cfg := Config{MemoryMaxBytes: 1 << 20, MaxItemBytes: 1 << 20, DiskEnabled: true, DiskMaxBytes: 1 << 20, DiskPath: dir}
	if _, err := New(cfg, zerolog.Nop()); err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if _, err := os.Stat(dir + "/stray.tmp"); err == nil {
		t.Fatalf("expected stray .tmp file to be removed on reindex")
	}
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := newMemOnlyCache(t, 1<<20, 1<<20)
	c.Set("TX1", "", &Entry{Data: []byte("a"), VerifiedAt: time.Now()})
	c.Get("TX1", "")
	c.Get("NOPE", "")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClearRemovesDiskFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{MemoryMaxBytes: 1 << 20, MaxItemBytes: 1 << 20, DiskEnabled: true, DiskMaxBytes: 1 << 20, DiskPath: dir}
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	c.Set("TX1", "", &Entry{Data: []byte("a"), VerifiedAt: time.Now()})
	c.Clear()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected disk directory to be empty after Clear, found %d entries", len(entries))
	}
}
