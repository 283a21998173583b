package manifest

import "testing"

const sampleManifest = `{
	"manifest": "arweave/paths",
	"version": "0.1.0",
	"index": {"path": "index.html"},
	"fallback": {"id": "FALLBACK_TX"},
	"paths": {
		"index.html": {"id": "INDEX_TX"},
		"a/b": {"id": "AB_TX"},
		"c": {"id": "C_TX"}
	}
}`

func TestParseValidManifest(t *testing.T) {
	m, err := Parse("MANIFEST_TX", []byte(sampleManifest))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.TxID != "MANIFEST_TX" || m.Version != "0.1.0" {
		t.Fatalf("unexpected manifest fields: %+v", m)
	}
}

func TestParseRejectsWrongManifestField(t *testing.T) {
	bad := `{"manifest": "arweave/other", "version": "1", "paths": {}}`
	if _, err := Parse("TX", []byte(bad)); err == nil {
		t.Fatalf("expected error for wrong manifest field")
	}
}

func TestResolveEmptyPathUsesIndex(t *testing.T) {
	m, _ := Parse("TX", []byte(sampleManifest))
	id, isIndex, err := m.Resolve("")
	if err != nil || id != "INDEX_TX" || !isIndex {
		t.Fatalf("expected index resolution, got id=%s isIndex=%v err=%v", id, isIndex, err)
	}
}

func TestResolveExactMatch(t *testing.T) {
	m, _ := Parse("TX", []byte(sampleManifest))
	id, isIndex, err := m.Resolve("/a/b/")
	if err != nil || id != "AB_TX" || isIndex {
		t.Fatalf("expected exact match AB_TX, got id=%s isIndex=%v err=%v", id, isIndex, err)
	}
}

func TestResolveFallsBackWhenNoExactMatch(t *testing.T) {
	m, _ := Parse("TX", []byte(sampleManifest))
	id, _, err := m.Resolve("nope")
	if err != nil || id != "FALLBACK_TX" {
		t.Fatalf("expected fallback resolution, got id=%s err=%v", id, err)
	}
}

func TestResolveIndexPathNamingMissingKeyLeavesNoIndex(t *testing.T) {
	dangling := `{"manifest": "arweave/paths", "version": "1", "index": {"path": "missing.html"}, "paths": {"x": {"id": "X_TX"}}}`
	m, err := Parse("TX", []byte(dangling))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if m.HasIndex {
		t.Fatalf("expected HasIndex false when index.path names no paths entry")
	}
}

func TestResolveErrorsWithoutFallbackOrMatch(t *testing.T) {
	noFallback := `{"manifest": "arweave/paths", "version": "1", "paths": {"x": {"id": "X_TX"}}}`
	m, err := Parse("TX", []byte(noFallback))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, _, err := m.Resolve("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
