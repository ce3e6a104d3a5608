package griddata

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := newError(CacheFailure, "foo", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is(err, cause) to be true")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := newError(TypeMismatch, "foo", nil)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected errors.Is(err, ErrTypeMismatch) to be true")
	}
	if errors.Is(err, ErrQueueConflict) {
		t.Fatalf("did not expect errors.Is(err, ErrQueueConflict) to be true")
	}
}

func TestWrapCacheFailure_PassesGriddataErrorThrough(t *testing.T) {
	inner := newError(Removed, "foo", nil)
	got := wrapCacheFailure("foo", inner)
	if got != error(inner) {
		t.Fatalf("expected the same *Error to pass through unchanged, got %v", got)
	}
}

func TestWrapCacheFailure_WrapsForeignError(t *testing.T) {
	got := wrapCacheFailure("foo", fmt.Errorf("network blip"))
	var ge *Error
	if !errors.As(got, &ge) {
		t.Fatalf("expected *Error, got %T", got)
	}
	if ge.Code != CacheFailure {
		t.Fatalf("expected CacheFailure, got %v", ge.Code)
	}
}

func TestWrapCacheFailure_NilIsNil(t *testing.T) {
	if wrapCacheFailure("foo", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"foreign", fmt.Errorf("blip"), true},
		{"removed", newError(Removed, "x", nil), false},
		{"cacheFailure", newError(CacheFailure, "x", nil), true},
		{"typeMismatch", newError(TypeMismatch, "x", nil), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ShouldRetry(c.err); got != c.want {
				t.Fatalf("ShouldRetry(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
