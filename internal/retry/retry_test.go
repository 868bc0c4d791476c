package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var waits []time.Duration
	backoff := func(attempt int, _ error) time.Duration {
		waits = append(waits, time.Duration(attempt)*time.Millisecond)
		return time.Millisecond
	}

	err := Do(context.Background(), 3, backoff, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(waits) != 2 {
		t.Errorf("backoff called %d times, want 2", len(waits))
	}
}

func TestDo_NoWaitAfterLastAttempt(t *testing.T) {
	waits := 0
	boom := errors.New("boom")
	err := Do(context.Background(), 3, func(int, error) time.Duration { waits++; return 0 },
		func(context.Context, int) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Do() error = %v, want %v", err, boom)
	}
	if waits != 2 {
		t.Errorf("waits = %d, want 2", waits)
	}
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	stop := errors.New("stop")
	err := Do(context.Background(), 5, Linear(time.Millisecond), func(context.Context, int) error {
		calls++
		return Permanent(stop)
	})
	if err != stop {
		t.Errorf("Do() error = %v, want unwrapped %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 3, Linear(time.Hour), func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoffs(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{"linear 1", Linear(5 * time.Second), 1, 5 * time.Second},
		{"linear 3", Linear(5 * time.Second), 3, 15 * time.Second},
		{"exp 1", Exponential(time.Second, 0), 1, time.Second},
		{"exp 3", Exponential(time.Second, 0), 3, 4 * time.Second},
		{"exp capped", Exponential(2*time.Second, 30*time.Second), 10, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.backoff(tt.attempt, nil); got != tt.want {
				t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
}
