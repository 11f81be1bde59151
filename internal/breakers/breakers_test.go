package breakers

import (
	"errors"
	"testing"
)

func TestExecutePassesThroughSuccess(t *testing.T) {
	b := New("peer-a")
	v, err := b.Execute(func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(int) != 42 {
		t.Fatalf("got %v, want 42", v)
	}
	if b.State() != "closed" {
		t.Fatalf("state = %q, want closed", b.State())
	}
}

func TestExecuteTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("peer-b")
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, boom })
	}

	_, err := b.Execute(func() (any, error) { return "unreached", nil })
	if err == nil {
		t.Fatalf("expected the breaker to short-circuit after consecutive failures")
	}
	if b.State() != "open" {
		t.Fatalf("state = %q, want open", b.State())
	}
}
