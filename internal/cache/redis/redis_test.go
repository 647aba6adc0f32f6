package redis

import (
	"strings"
	"testing"
)

func TestKeysAreNamespaced(t *testing.T) {
	for _, k := range []string{lockKey("sweep"), rateLimitKey("evidence:news"), roundKey("7:news:1700000000")} {
		if !strings.HasPrefix(k, keyPrefix) {
			t.Errorf("key %q lacks prefix %q", k, keyPrefix)
		}
	}
	if got := lockKey("settle:5"); got != "phantombet:lock:settle:5" {
		t.Errorf("lockKey = %q", got)
	}
}

func TestObservationsSortedByNode(t *testing.T) {
	obs := observations(map[string]string{"node-c": "x", "node-a": "y", "node-b": "x"})
	if len(obs) != 3 {
		t.Fatalf("len = %d", len(obs))
	}
	for i, want := range []string{"node-a", "node-b", "node-c"} {
		if obs[i].NodeID != want {
			t.Errorf("obs[%d] = %s, want %s", i, obs[i].NodeID, want)
		}
	}
	if obs[0].Content != "y" {
		t.Errorf("content not carried: %+v", obs[0])
	}
}

func TestStreamPayload(t *testing.T) {
	if p, ok := streamPayload(map[string]any{"payload": "abc"}); !ok || string(p) != "abc" {
		t.Errorf("string payload = %q, %v", p, ok)
	}
	if p, ok := streamPayload(map[string]any{"payload": []byte("b")}); !ok || string(p) != "b" {
		t.Errorf("bytes payload = %q, %v", p, ok)
	}
	if _, ok := streamPayload(map[string]any{"other": 1}); ok {
		t.Error("missing payload accepted")
	}
}

func TestPatternDetection(t *testing.T) {
	if !isPattern("ch:*") || isPattern("ch:settlement") {
		t.Error("isPattern misclassifies channels")
	}
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	if !strings.Contains(slidingWindowLua, "ZREMRANGEBYSCORE") {
		t.Error("sliding window script not embedded")
	}
}
