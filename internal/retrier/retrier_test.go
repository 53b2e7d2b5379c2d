package retrier

import (
	"context"
	"errors"
	"testing"
	"time"
)

type tempErr struct{ msg string }

func (e tempErr) Error() string   { return e.msg }
func (e tempErr) Temporary() bool { return true }

func TestNewRejectsBadParameters(t *testing.T) {
	cases := []struct {
		name        string
		maxAttempts int
		baseDelay   time.Duration
		factor      float64
		jitter      float64
		want        error
	}{
		{"zero attempts", 0, time.Millisecond, 2, 0, ErrInvalidMaxAttempts},
		{"tiny delay", 3, time.Microsecond, 2, 0, ErrInvalidBaseDelay},
		{"shrinking factor", 3, time.Millisecond, 0.5, 0, ErrInvalidFactor},
		{"jitter over one", 3, time.Millisecond, 2, 1.5, ErrInvalidJitter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.maxAttempts, tc.baseDelay, time.Second, tc.factor, tc.jitter)
			if !errors.Is(err, tc.want) {
				t.Fatalf("New err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRunSucceedsFirstTry(t *testing.T) {
	r, err := New(3, time.Millisecond, 10*time.Millisecond, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	if err := r.Run(context.Background(), func() error {
		calls++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRunRetriesTemporaryErrors(t *testing.T) {
	r, err := New(3, time.Millisecond, 10*time.Millisecond, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	if err := r.Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return tempErr{"flaky"}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRunStopsOnPermanentError(t *testing.T) {
	r, err := New(3, time.Millisecond, 10*time.Millisecond, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	permanent := errors.New("bad request")
	calls := 0
	got := r.Run(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(got, permanent) {
		t.Fatalf("err = %v, want %v", got, permanent)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
}

func TestRunExhaustsAttemptBudget(t *testing.T) {
	r, err := New(3, time.Millisecond, 10*time.Millisecond, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	underlying := tempErr{"still down"}
	calls := 0
	got := r.Run(context.Background(), func() error {
		calls++
		return underlying
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if !errors.Is(got, underlying) {
		t.Fatalf("err = %v does not wrap %v", got, underlying)
	}
}

func TestRunHonorsTempErrorOverride(t *testing.T) {
	r, err := New(3, time.Millisecond, 10*time.Millisecond, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	r.TempErrorFunc = func(error) bool { return true }

	calls := 0
	_ = r.Run(context.Background(), func() error {
		calls++
		return errors.New("opaque but retried anyway")
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 with always-retry override", calls)
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	r, err := New(5, 50*time.Millisecond, time.Second, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	got := r.Run(ctx, func() error {
		calls++
		return tempErr{"down"}
	})
	if !errors.Is(got, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", got)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 before cancellation", calls)
	}
}
