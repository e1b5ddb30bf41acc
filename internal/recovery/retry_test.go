package recovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassify_Patterns(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{errors.New("dial tcp 10.0.0.1:443: connection refused"), KindTransient},
		{errors.New("Temporary failure in name resolution"), KindTransient},
		{errors.New("rmdir: device or resource busy"), KindTransient},
		{errors.New("socket hang up"), KindTransient},
		{errors.New("open /var/cache: permission denied"), KindPermission},
		{errors.New("exit status 1"), KindFatal},
		{errors.New("fatal: repository not found"), KindFatal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestClassify_ExplicitTagWins(t *testing.T) {
	err := Tag(KindFatal, errors.New("connection refused"))
	if Classify(err) != KindFatal {
		t.Error("explicit tag should override pattern match")
	}

	wrapped := Tag(KindTransient, errors.New("exit status 1"))
	if Classify(wrapped) != KindTransient {
		t.Error("explicit transient tag should survive")
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_FatalAbortsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return errors.New("exit status 2")
	}, nil)

	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Fatal error should not retry, got %d calls", calls)
	}
}

func TestRetry_OnRetryHookRunsBetweenAttempts(t *testing.T) {
	hooks := 0
	_ = Retry(context.Background(), 3, time.Millisecond, func() error {
		return errors.New("permission denied")
	}, func(attempt int, err error) {
		hooks++
	})

	if hooks != 2 {
		t.Errorf("Expected onRetry between attempts (2), got %d", hooks)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, 10*time.Second, func() error {
		return errors.New("connection refused")
	}, nil)

	if err == nil || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation error, got %v", err)
	}
}
