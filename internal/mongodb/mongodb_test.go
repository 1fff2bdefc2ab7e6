package mongodb

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"network-labeled command error", mongo.CommandError{Labels: []string{"NetworkError"}}, true},
		{"retryable-write-labeled command error", mongo.CommandError{Labels: []string{"RetryableWriteError"}}, true},
		{"unlabeled command error", mongo.CommandError{Code: 11000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}

	transient := mongo.CommandError{Labels: []string{"NetworkError"}}
	var ae *apperr.Error
	if err := classify(transient); !errors.As(err, &ae) || ae.Kind != apperr.KindUpstreamUnavailable {
		t.Errorf("classify(transient) = %v, want KindUpstreamUnavailable", err)
	}

	other := errors.New("some other failure")
	if err := classify(other); !errors.As(err, &ae) || ae.Kind != apperr.KindInternal {
		t.Errorf("classify(other) = %v, want KindInternal", err)
	}
}

func TestIsAlreadyExists(t *testing.T) {
	if isAlreadyExists(nil) {
		t.Error("isAlreadyExists(nil) should be false")
	}
	if !isAlreadyExists(mongo.CommandError{Code: 48}) {
		t.Error("expected code 48 to be recognised as already-exists")
	}
	if isAlreadyExists(mongo.CommandError{Code: 1}) {
		t.Error("expected a different code not to be recognised as already-exists")
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return mongo.CommandError{Labels: []string{"NetworkError"}}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry() = %v, want nil after a transient failure recovers", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestWithRetryGivesUpOnNonTransientError(t *testing.T) {
	attempts := 0
	sentinel := errors.New("permanent failure")
	err := withRetry(context.Background(), func() error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("withRetry() = %v, want to unwrap to the permanent error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on a non-transient error)", attempts)
	}
}

func TestWithRetryExhaustsRetriesOnPersistentTransientError(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return mongo.CommandError{Labels: []string{"NetworkError"}}
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindUpstreamUnavailable {
		t.Errorf("withRetry() exhausted = %v, want KindUpstreamUnavailable", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
}
