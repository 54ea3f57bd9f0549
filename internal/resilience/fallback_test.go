package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("whisper", "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("openai", "openai")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newGroup()

	var called []string
	name, err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "whisper" || !slices.Equal(called, []string{"whisper"}) {
		t.Fatalf("name = %q called = %v, want whisper only", name, called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := newGroup()

	name, err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		if v == "whisper" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "openai" {
		t.Fatalf("name = %q, want openai", name)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newGroup()

	_, err := fg.Execute(context.Background(), func(context.Context, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, should wrap the last entry error", err)
	}
}

func TestFallbackGroup_SkipsOpenEntry(t *testing.T) {
	fg := newGroup()
	ctx := context.Background()

	for range 2 {
		_, _ = fg.Execute(ctx, func(_ context.Context, v string) error {
			if v == "whisper" {
				return errTest
			}
			return nil
		})
	}
	if got := fg.Breaker("whisper").State(); got != StateOpen {
		t.Fatalf("primary breaker = %v, want open", got)
	}

	var called []string
	if _, err := fg.Execute(ctx, func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(called, []string{"openai"}) {
		t.Errorf("called = %v, want only openai", called)
	}
}

func TestFallbackGroup_StopsOnCancelledContext(t *testing.T) {
	fg := newGroup()
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	_, err := fg.Execute(ctx, func(context.Context, string) error {
		calls++
		cancel()
		return errTest
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	fg := newGroup()
	if got := fg.Names(); !slices.Equal(got, []string{"whisper", "openai"}) {
		t.Errorf("Names() = %v", got)
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker(missing) should be nil")
	}
}
