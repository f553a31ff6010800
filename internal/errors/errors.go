// internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind is a stable machine-readable error classification stored in job error details.
type Kind string

const (
	KindAuthentication  Kind = "authentication"
	KindRateLimit       Kind = "rate_limit"
	KindTransient       Kind = "transient"
	KindNotFound        Kind = "upstream_not_found"
	KindDegraded        Kind = "classification_degraded"
	KindConflict        Kind = "conflict"
	KindInvalidArgument Kind = "invalid_argument"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
)

// ErrInvalidRepoFormat is returned when a repository full name is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// AuthenticationError means the stored credential was rejected (401/403). It is fatal for a job.
type AuthenticationError struct {
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("github authentication failed (status %d): %s", e.StatusCode, e.Message)
}

// RateLimitExceeded means the quota reset lies further away than the allowed wait.
type RateLimitExceeded struct {
	ResetAt time.Time
	MaxWait time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("github rate limit exhausted until %s (max wait %s)", e.ResetAt.UTC().Format(time.RFC3339), e.MaxWait)
}

// TransientFetchError is returned once retries for network or 5xx failures are exhausted.
type TransientFetchError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// UpstreamNotFound means a single upstream resource vanished (404). Jobs skip the repository.
type UpstreamNotFound struct {
	Resource string
}

func (e *UpstreamNotFound) Error() string {
	return fmt.Sprintf("upstream resource not found: %s", e.Resource)
}

// ClassificationDegraded describes why a classification fell back to unclassified.
type ClassificationDegraded struct {
	Attempts int
	Reason   string
}

func (e *ClassificationDegraded) Error() string {
	return fmt.Sprintf("classification degraded after %d attempts: %s", e.Attempts, e.Reason)
}

// ConflictError is returned when an account already has a pending or running sync job.
type ConflictError struct {
	AccountID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("account %d already has a sync job in progress", e.AccountID)
}

// NotFoundError is returned when a locally stored entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidArgumentError rejects a malformed request value.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsFatal reports whether err must abort a whole sync job.
func IsFatal(err error) bool {
	var authErr *AuthenticationError
	var rlErr *RateLimitExceeded
	return stderrors.As(err, &authErr) || stderrors.As(err, &rlErr)
}

// KindOf maps err onto the taxonomy.
func KindOf(err error) Kind {
	var (
		authErr     *AuthenticationError
		rlErr       *RateLimitExceeded
		transient   *TransientFetchError
		notFound    *UpstreamNotFound
		degraded    *ClassificationDegraded
		conflict    *ConflictError
		localAbsent *NotFoundError
		badRepo     *ErrInvalidRepoFormat
		badArg      *InvalidArgumentError
	)
	switch {
	case err == nil:
		return ""
	case stderrors.As(err, &authErr):
		return KindAuthentication
	case stderrors.As(err, &rlErr):
		return KindRateLimit
	case stderrors.As(err, &notFound), stderrors.As(err, &localAbsent):
		return KindNotFound
	case stderrors.As(err, &transient):
		return KindTransient
	case stderrors.As(err, &degraded):
		return KindDegraded
	case stderrors.As(err, &conflict):
		return KindConflict
	case stderrors.As(err, &badRepo), stderrors.As(err, &badArg):
		return KindInvalidArgument
	default:
		return KindInternal
	}
}
