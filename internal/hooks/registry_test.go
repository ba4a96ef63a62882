package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestEmitOrderAndErrors(t *testing.T) {
	t.Parallel()
	r := New[int]()
	var got []string
	r.On("ev", "a", func(ctx context.Context, v int) error { got = append(got, "a"); return nil })
	r.On("ev", "b", func(ctx context.Context, v int) error { got = append(got, "b"); return errors.New("boom") })
	r.On("ev", "c", func(ctx context.Context, v int) error { panic("kaboom") })
	r.On("ev", "d", func(ctx context.Context, v int) error { got = append(got, "d"); return nil })

	err := r.Emit(context.Background(), "ev", 1)
	if err == nil {
		t.Fatal("expected joined error")
	}
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError in %v", err)
	}
	if want := []string{"a", "b", "d"}; len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("run order = %v, want %v", got, want)
	}
}

func TestOnReplacesAndOff(t *testing.T) {
	t.Parallel()
	r := New[string]()
	var calls []string
	r.On("ev", "x", func(ctx context.Context, v string) error { calls = append(calls, "old"); return nil })
	r.On("ev", "y", func(ctx context.Context, v string) error { calls = append(calls, "y"); return nil })
	r.On("ev", "x", func(ctx context.Context, v string) error { calls = append(calls, "new"); return nil })

	if names := r.Handlers("ev"); len(names) != 2 || names[0] != "x" || names[1] != "y" {
		t.Fatalf("Handlers = %v", names)
	}
	if err := r.Emit(context.Background(), "ev", ""); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	if len(calls) != 2 || calls[0] != "new" {
		t.Fatalf("calls = %v", calls)
	}

	if !r.Off("ev", "x") || r.Off("ev", "x") {
		t.Fatal("Off should remove exactly once")
	}
	if err := r.Emit(context.Background(), "other", ""); err != nil {
		t.Fatalf("Emit on unknown event: %v", err)
	}
}
