// internal/errors/errors_test.go
package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"authentication", &AuthenticationError{StatusCode: 401}, KindAuthentication},
		{"wrapped rate limit", fmt.Errorf("sync: %w", &RateLimitExceeded{ResetAt: time.Now()}), KindRateLimit},
		{"transient", &TransientFetchError{Op: "list commits", Attempts: 5, Err: errors.New("502")}, KindTransient},
		{"upstream not found", &UpstreamNotFound{Resource: "repos/a/b"}, KindNotFound},
		{"conflict", &ConflictError{AccountID: 1}, KindConflict},
		{"invalid repo", &ErrInvalidRepoFormat{Repo: "nope"}, KindInvalidArgument},
		{"invalid argument", &InvalidArgumentError{Field: "from", Reason: "not a date"}, KindInvalidArgument},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(fmt.Errorf("repo x: %w", &AuthenticationError{StatusCode: 403})))
	assert.True(t, IsFatal(&RateLimitExceeded{}))
	assert.False(t, IsFatal(&UpstreamNotFound{Resource: "x"}))
	assert.False(t, IsFatal(&TransientFetchError{Err: errors.New("x")}))
}
