package redis

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestRkeySplitKey_RoundTrips(t *testing.T) {
	ns, key := splitKey(rkey("latch", "gate:1"))
	if ns != "latch" || key != "gate:1" {
		t.Fatalf("splitKey(rkey(...)) = %q, %q, want latch, gate:1", ns, key)
	}
}

func TestSplitKey_NoSeparatorReturnsWholeStringAsNamespace(t *testing.T) {
	ns, key := splitKey("noseparator")
	if ns != "noseparator" || key != "" {
		t.Fatalf("splitKey() = %q, %q, want noseparator, \"\"", ns, key)
	}
}

func TestWireEvent_JSONRoundTrip(t *testing.T) {
	ev := wireEvent{Namespace: "queuehdr", Key: "work", Value: []byte(`{"head":0}`), Removed: false, Existed: true, Origin: "node-a"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	var got wireEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if !reflect.DeepEqual(got, ev) {
		t.Fatalf("round-tripped event = %+v, want %+v", got, ev)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Address != "localhost:6379" {
		t.Fatalf("Address = %q, want localhost:6379", cfg.Address)
	}
	if !cfg.Mode.Transactional || !cfg.Mode.NearEnabled || !cfg.Mode.Partitioned {
		t.Fatalf("Mode = %+v, want a transactional, near-enabled, partitioned cache", cfg.Mode)
	}
	if cfg.LockTTL != 5*time.Second {
		t.Fatalf("LockTTL = %v, want 5s", cfg.LockTTL)
	}
}
