package deconv

import (
	"context"
	"errors"
	"testing"
)

func TestForEachSample_Sequential(t *testing.T) {
	out := make([]int, 5)
	err := forEachSample(context.Background(), 5, 1, func(j int) error {
		out[j] = j * j
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for j, v := range out {
		if v != j*j {
			t.Errorf("index %d: got %d", j, v)
		}
	}
}

func TestForEachSample_ParallelWritesOwnSlot(t *testing.T) {
	const n = 100
	out := make([]int, n)
	err := forEachSample(context.Background(), n, 8, func(j int) error {
		out[j] = j + 1
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for j, v := range out {
		if v != j+1 {
			t.Errorf("index %d: got %d", j, v)
		}
	}
}

func TestForEachSample_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := forEachSample(context.Background(), 10, 4, func(j int) error {
		if j == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestForEachSample_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := forEachSample(ctx, 10, 1, func(j int) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
