package mcperrors

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(NotFound, "no such process")
	if !errors.Is(err, New(NotFound, "")) {
		t.Fatalf("expected errors.Is to match on Kind")
	}
	if errors.Is(err, New(AlreadyExists, "")) {
		t.Fatalf("did not expect errors.Is to match a different Kind")
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if got := KindOf(errors.New("plain error")); got != Internal {
		t.Fatalf("KindOf(plain) = %s, want Internal", got)
	}
	if got := KindOf(New(InvalidArgument, "bad")); got != InvalidArgument {
		t.Fatalf("KindOf(typed) = %s, want InvalidArgument", got)
	}
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, "spawn failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Wrap to preserve cause for errors.Is")
	}
	if err.Error() == "" {
		t.Fatalf("expected non-empty error string")
	}
}
