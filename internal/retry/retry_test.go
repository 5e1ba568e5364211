package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsEventually(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialWait: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), func(attempt int) error {
		attempts++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitialWait: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), func(attempt int) error {
		attempts++
		return errors.New("permanent failure")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialWait: time.Millisecond}
	attempts := 0
	wantErr := errors.New("not found")
	err := p.Do(context.Background(), func(attempt int) error {
		attempts++
		return &Permanent{Err: wantErr}
	})
	if err != wantErr {
		t.Fatalf("Do: got %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (should not retry permanent errors)", attempts)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialWait: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := p.Do(ctx, func(attempt int) error {
		attempts++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
	if attempts > 1 {
		t.Errorf("attempts = %d, want at most 1 after cancellation", attempts)
	}
}
