package temperature

import (
	"testing"
	"time"
)

func TestUntrackedGatewayGetsDefaultScore(t *testing.T) {
	tr := New(0, 0)
	if s := tr.Score("https://unknown.example"); s != defaultScore {
		t.Fatalf("expected default score %v, got %v", defaultScore, s)
	}
}

func TestScoreStaysWithinBounds(t *testing.T) {
	tr := New(0, 0)
	g := "https://gw.example"
	for i := 0; i < 50; i++ {
		tr.RecordSuccess(g, 50)
	}
	if s := tr.Score(g); s < minScore || s > maxScore {
		t.Fatalf("score out of bounds: %v", s)
	}
	for i := 0; i < 50; i++ {
		tr.RecordFailure(g)
	}
	if s := tr.Score(g); s < minScore || s > maxScore {
		t.Fatalf("score out of bounds after failures: %v", s)
	}
}

func TestFastGatewayOutscoresSlowGateway(t *testing.T) {
	tr := New(0, 0)
	fast, slow := "https://fast.example", "https://slow.example"
	for i := 0; i < 10; i++ {
		tr.RecordSuccess(fast, 50)
		tr.RecordSuccess(slow, 2000)
	}
	if tr.Score(fast) <= tr.Score(slow) {
		t.Fatalf("expected fast gateway to outscore slow gateway: fast=%v slow=%v", tr.Score(fast), tr.Score(slow))
	}
}

func TestSelectWeightedHandlesEdgeCases(t *testing.T) {
	tr := New(0, 0)
	if _, ok := tr.SelectWeighted(nil); ok {
		t.Fatalf("expected empty candidate list to fail")
	}
	if g, ok := tr.SelectWeighted([]string{"solo"}); !ok || g != "solo" {
		t.Fatalf("expected singleton candidate returned deterministically, got %v %v", g, ok)
	}
}

func TestPruneRespectsMaxGateways(t *testing.T) {
	tr := New(time.Nanosecond, 2)
	tr.RecordSuccess("a", 10)
	time.Sleep(time.Millisecond)
	tr.RecordSuccess("b", 10)
	time.Sleep(time.Millisecond)
	tr.RecordSuccess("c", 10)
	if len(tr.records) > 2 {
		t.Fatalf("expected pruning to cap tracked gateways at 2, got %d", len(tr.records))
	}
}
