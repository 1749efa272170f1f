package anvil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryTurnRetriesParseErrors(t *testing.T) {
	attempts := 0
	err := retryTurn(context.Background(), fastRetry(), isParseError, func() error {
		attempts++
		if attempts < 3 {
			return ErrToolCallMissingName
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryTurnDoesNotRetryOtherErrors(t *testing.T) {
	attempts := 0
	boom := &ErrHTTP{Status: 500, Body: "nope"}
	err := retryTurn(context.Background(), fastRetry(), isParseError, func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryTurnCapsAttempts(t *testing.T) {
	attempts := 0
	err := retryTurn(context.Background(), fastRetry(), isParseError, func() error {
		attempts++
		return &ErrToolCallParse{Message: "always broken"}
	})
	var parse *ErrToolCallParse
	if !errors.As(err, &parse) {
		t.Fatalf("err = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want max 3", attempts)
	}
}

func TestRetryTurnHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{InitialBackoff: time.Hour, Factor: 2, MaxAttempts: 3}
	err := retryTurn(ctx, policy, isParseError, func() error {
		return ErrToolCallMissingName
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBackoffGrowth(t *testing.T) {
	policy := RetryPolicy{InitialBackoff: 100 * time.Millisecond, Factor: 2, MaxAttempts: 5}
	for i := 0; i < 3; i++ {
		base := time.Duration(float64(100*time.Millisecond) * float64(int(1)<<i))
		delay := policy.backoff(i)
		if delay < base || delay > base+base/2 {
			t.Errorf("backoff(%d) = %v, want within [%v, %v]", i, delay, base, base+base/2)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&ErrToolCallParse{Message: "x"}, true},
		{&ErrToolCallArgument{Tool: "t", Message: "x"}, true},
		{ErrToolCallMissingName, true},
		{&ErrHTTP{Status: 500}, false},
		{&ErrLLM{Provider: "p", Message: "x"}, false},
		{&ErrAgentUndefined{AgentID: "a"}, false},
		{ErrNoProgress, false},
	}
	for _, tc := range cases {
		if got := isParseError(tc.err); got != tc.want {
			t.Errorf("isParseError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
