package griddata

import "testing"

func TestEffectiveCollocated(t *testing.T) {
	cases := []struct {
		name      string
		mode      CacheMode
		requested bool
		want      bool
	}{
		{"partitioned honors request=false", CacheMode{Partitioned: true}, false, false},
		{"partitioned honors request=true", CacheMode{Partitioned: true}, true, true},
		{"replicated forces collocated", CacheMode{Replicated: true}, false, true},
		{"local forces collocated", CacheMode{Local: true}, false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := effectiveCollocated(c.mode, c.requested); got != c.want {
				t.Fatalf("effectiveCollocated() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestQueueHeader_SizeAndEmpty(t *testing.T) {
	h := QueueHeader{Head: 3, Tail: 7}
	if h.Empty() {
		t.Fatalf("Empty() = true, want false")
	}
	if got := h.Size(); got != 4 {
		t.Fatalf("Size() = %d, want 4", got)
	}

	h2 := QueueHeader{Head: 5, Tail: 5}
	if !h2.Empty() {
		t.Fatalf("Empty() = false, want true")
	}
	if got := h2.Size(); got != 0 {
		t.Fatalf("Size() = %d, want 0", got)
	}
}

func TestQueueHeader_Size_PanicsOnCorruptInvariant(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Size() to panic on tail < head")
		}
	}()
	h := QueueHeader{Head: 5, Tail: 2}
	_ = h.Size()
}
