package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/credex-io/credex/internal/llm"
	"github.com/credex-io/credex/internal/schema"
)

// noSleep records requested backoff durations without waiting.
func noSleep(waits *[]time.Duration) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{&llm.RateLimitError{}, ClassRateLimit},
		{&schema.ValidationError{Violations: []string{"x"}}, ClassValidation},
		{errors.New("connection reset"), ClassOther},
		{errors.Join(errors.New("wrapped"), &llm.RateLimitError{}), ClassRateLimit},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	c := New(zap.NewNop())
	calls := 0
	v, ok, err := Do(context.Background(), c, func(_ context.Context, feedback string) (string, error) {
		calls++
		if feedback != "" {
			t.Errorf("first attempt got feedback %q", feedback)
		}
		return "result", nil
	})
	if err != nil || !ok || v != "result" {
		t.Fatalf("Do = (%q, %v, %v)", v, ok, err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestDo_ValidationBoundIsTotalAttempts(t *testing.T) {
	c := New(zap.NewNop())
	c.MaxValidationAttempts = 3

	calls := 0
	verr := &schema.ValidationError{Violations: []string{"at least one party is required"}}
	_, ok, err := Do(context.Background(), c, func(_ context.Context, feedback string) (int, error) {
		calls++
		if calls > 1 && !strings.Contains(feedback, "at least one party is required") {
			t.Errorf("retry %d feedback missing violation: %q", calls, feedback)
		}
		return 0, verr
	})
	if calls != 3 {
		t.Errorf("op called %d times, want exactly 3", calls)
	}
	if ok {
		t.Error("ok = true after exhaustion")
	}
	var got *schema.ValidationError
	if !errors.As(err, &got) {
		t.Errorf("err = %v, want the last validation error", err)
	}
}

func TestDo_ValidationSucceedsOnRetry(t *testing.T) {
	c := New(zap.NewNop())
	calls := 0
	v, ok, err := Do(context.Background(), c, func(_ context.Context, feedback string) (string, error) {
		calls++
		if calls == 1 {
			return "", &schema.ValidationError{Violations: []string{"currency must be a 3-letter code"}}
		}
		if !strings.Contains(feedback, "currency must be a 3-letter code") {
			t.Errorf("feedback = %q, want the violation text", feedback)
		}
		return "fixed", nil
	})
	if err != nil || !ok || v != "fixed" {
		t.Fatalf("Do = (%q, %v, %v)", v, ok, err)
	}
	if calls != 2 {
		t.Errorf("op called %d times, want 2", calls)
	}
}

func TestDo_RateLimitBackoffSequenceThenNoResult(t *testing.T) {
	var waits []time.Duration
	c := New(zap.NewNop())
	c.MaxRateLimitRetries = 5
	c.BackoffUnit = time.Second
	c.MaxBackoff = 60 * time.Second
	c.Sleep = noSleep(&waits)

	calls := 0
	_, ok, err := Do(context.Background(), c, func(context.Context, string) (int, error) {
		calls++
		return 0, &llm.RateLimitError{}
	})
	if err != nil {
		t.Fatalf("rate limit exhaustion returned error: %v", err)
	}
	if ok {
		t.Error("ok = true after rate limit exhaustion")
	}
	if calls != 6 {
		t.Errorf("op called %d times, want 6 (initial + 5 retries)", calls)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("got %d backoff waits %v, want %d", len(waits), waits, len(want))
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestDo_BackoffCappedAtMax(t *testing.T) {
	var waits []time.Duration
	c := New(zap.NewNop())
	c.MaxRateLimitRetries = 8
	c.BackoffUnit = time.Second
	c.MaxBackoff = 60 * time.Second
	c.Sleep = noSleep(&waits)

	Do(context.Background(), c, func(context.Context, string) (int, error) {
		return 0, &llm.RateLimitError{}
	})
	if len(waits) != 8 {
		t.Fatalf("got %d waits, want 8", len(waits))
	}
	for i := 5; i < 8; i++ {
		if waits[i] != 60*time.Second {
			t.Errorf("wait %d = %v, want capped 60s", i, waits[i])
		}
	}
}

func TestDo_HonorsLargerRetryAfter(t *testing.T) {
	var waits []time.Duration
	c := New(zap.NewNop())
	c.MaxRateLimitRetries = 1
	c.Sleep = noSleep(&waits)

	calls := 0
	Do(context.Background(), c, func(context.Context, string) (int, error) {
		calls++
		return 0, &llm.RateLimitError{RetryAfter: 45 * time.Second}
	})
	if len(waits) != 1 || waits[0] != 45*time.Second {
		t.Errorf("waits = %v, want [45s]", waits)
	}
}

func TestDo_RateLimitAndValidationCountersAreIndependent(t *testing.T) {
	var waits []time.Duration
	c := New(zap.NewNop())
	c.MaxValidationAttempts = 3
	c.MaxRateLimitRetries = 5
	c.Sleep = noSleep(&waits)

	// Alternate: rate limit, validation, rate limit, then succeed.
	seq := []error{
		&llm.RateLimitError{},
		&schema.ValidationError{Violations: []string{"missing facility"}},
		&llm.RateLimitError{},
		nil,
	}
	calls := 0
	v, ok, err := Do(context.Background(), c, func(context.Context, string) (string, error) {
		defer func() { calls++ }()
		if seq[calls] != nil {
			return "", seq[calls]
		}
		return "done", nil
	})
	if err != nil || !ok || v != "done" {
		t.Fatalf("Do = (%q, %v, %v)", v, ok, err)
	}
	if calls != 4 {
		t.Errorf("op called %d times, want 4", calls)
	}
	if len(waits) != 2 {
		t.Errorf("got %d backoff waits, want 2", len(waits))
	}
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(zap.NewNop())
	c.Sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	_, ok, err := Do(ctx, c, func(context.Context, string) (int, error) {
		calls++
		cancel()
		return 0, &llm.RateLimitError{}
	})
	if ok {
		t.Error("ok = true after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestFeedback_ListsViolations(t *testing.T) {
	err := &schema.ValidationError{Violations: []string{
		"at least one party is required",
		"maturity_date must be after effective_date",
	}}
	fb := Feedback(err)
	if !strings.Contains(fb, "failed validation") {
		t.Errorf("feedback missing preamble: %q", fb)
	}
	for _, v := range err.Violations {
		if !strings.Contains(fb, v) {
			t.Errorf("feedback missing violation %q", v)
		}
	}
}
