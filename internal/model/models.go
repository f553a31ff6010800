// internal/model/models.go
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account is a dashboard user holding one encrypted GitHub credential.
type Account struct {
	ID              int64         `json:"id"`
	GithubLogin     string        `json:"github_login"`
	EncryptedToken  *string       `json:"-"`
	TokenConfigured bool          `json:"token_configured"`
	SyncInterval    time.Duration `json:"sync_interval"`
	AIEnabled       bool          `json:"ai_enabled"`
	Timezone        string        `json:"timezone"`
	LastSyncedAt    *time.Time    `json:"last_synced_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Location resolves the account timezone, falling back to UTC for unknown names.
func (a Account) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Cursor marks incremental sync progress for one repository and resource.
// Since/Until bound the window being fetched; Page > 0 means the window is
// partially fetched and the next run resumes from that page.
type Cursor struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until,omitzero"`
	Page  int       `json:"page,omitempty"`
}

// InProgress reports whether the cursor points into an unfinished window.
func (c Cursor) InProgress() bool { return c.Page > 0 }

// Repository is one tracked GitHub repository.
type Repository struct {
	ID              int64          `json:"id"`
	AccountID       int64          `json:"account_id"`
	GithubRepoID    int64          `json:"github_repo_id"`
	FullName        string         `json:"full_name"`
	Description     *string        `json:"description,omitempty"`
	PrimaryLanguage *string        `json:"primary_language,omitempty"`
	IsPrivate       bool           `json:"is_private"`
	IsFork          bool           `json:"is_fork"`
	IsActive        bool           `json:"is_active"`
	Metadata        map[string]any `json:"metadata"`
	CommitCursor    *Cursor        `json:"commit_cursor,omitempty"`
	PRCursor        *Cursor        `json:"pr_cursor,omitempty"`
	LastSyncedAt    *time.Time     `json:"last_synced_at,omitempty"`
	PushedAt        *time.Time     `json:"pushed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Owner returns the owner part of the full name.
func (r Repository) Owner() string {
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

// Name returns the name part of the full name.
func (r Repository) Name() string {
	_, name, _ := strings.Cut(r.FullName, "/")
	return name
}

// Metadata keys stored on repositories.
const (
	MetaLanguages    = "languages"
	MetaManifests    = "manifests"
	MetaTechAnalysis = "tech_analysis"
)

// WorkCategory is the AI-assigned kind of work a commit represents.
type WorkCategory string

const (
	CategoryFeature      WorkCategory = "feature"
	CategoryBugfix       WorkCategory = "bugfix"
	CategoryRefactor     WorkCategory = "refactor"
	CategoryTest         WorkCategory = "test"
	CategoryDocs         WorkCategory = "docs"
	CategoryCI           WorkCategory = "ci"
	CategoryStyle        WorkCategory = "style"
	CategoryPerformance  WorkCategory = "performance"
	CategorySecurity     WorkCategory = "security"
	CategoryDependency   WorkCategory = "dependency"
	CategoryUnclassified WorkCategory = "unclassified"
)

// WorkCategories lists the categories the classifier may assign.
var WorkCategories = []WorkCategory{
	CategoryFeature, CategoryBugfix, CategoryRefactor, CategoryTest, CategoryDocs,
	CategoryCI, CategoryStyle, CategoryPerformance, CategorySecurity, CategoryDependency,
}

// Valid reports whether c is a known category, including unclassified.
func (c WorkCategory) Valid() bool {
	if c == CategoryUnclassified {
		return true
	}
	for _, known := range WorkCategories {
		if c == known {
			return true
		}
	}
	return false
}

// FileChange is a truncated per-file summary kept with a commit.
type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// CommitDetails is the raw payload retained for classification.
type CommitDetails struct {
	Files []FileChange `json:"files,omitempty"`
}

// Commit is one commit of one repository. (RepositoryID, SHA) is unique.
type Commit struct {
	ID           int64         `json:"id"`
	RepositoryID int64         `json:"repository_id"`
	SHA          string        `json:"sha"`
	AuthorLogin  string        `json:"author_login,omitempty"`
	AuthorName   string        `json:"author_name"`
	AuthorEmail  string        `json:"author_email"`
	Message      string        `json:"message"`
	URL          string        `json:"url"`
	CommittedAt  time.Time     `json:"committed_at"`
	Additions    int           `json:"additions"`
	Deletions    int           `json:"deletions"`
	FilesChanged int           `json:"files_changed"`
	Details      CommitDetails `json:"details"`
	TechTags     []string      `json:"tech_tags,omitempty"`
	WorkCategory *WorkCategory `json:"work_category,omitempty"`
	ClassifiedAt *time.Time    `json:"classified_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// PullRequest is one pull request keyed by (RepositoryID, Number).
type PullRequest struct {
	ID           int64          `json:"id"`
	RepositoryID int64          `json:"repository_id"`
	GithubPRID   int64          `json:"github_pr_id"`
	Number       int            `json:"number"`
	Title        string         `json:"title"`
	State        PRState        `json:"state"`
	Additions    int            `json:"additions"`
	Deletions    int            `json:"deletions"`
	ChangedFiles int            `json:"changed_files"`
	PRCreatedAt  time.Time      `json:"pr_created_at"`
	PRUpdatedAt  time.Time      `json:"pr_updated_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	MergedAt     *time.Time     `json:"merged_at,omitempty"`
	RawData      map[string]any `json:"raw_data,omitempty"`
}

// JobType distinguishes full from incremental syncs.
type JobType string

const (
	JobTypeFull        JobType = "full"
	JobTypeIncremental JobType = "incremental"
)

// JobStatus is a SyncJob state: pending -> running -> completed | failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// RepositoryError records a per-repository failure that did not abort the job.
type RepositoryError struct {
	RepositoryID int64  `json:"repository_id"`
	FullName     string `json:"full_name"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
}

// ErrorDetail is the structured error stored on a job. It never contains credentials.
type ErrorDetail struct {
	Kind         string            `json:"kind,omitempty"`
	Message      string            `json:"message,omitempty"`
	Repositories []RepositoryError `json:"repositories,omitempty"`
}

// SyncJob is one ingestion run. Jobs are never deleted.
type SyncJob struct {
	ID            uuid.UUID    `json:"id"`
	AccountID     int64        `json:"account_id"`
	JobType       JobType      `json:"job_type"`
	Status        JobStatus    `json:"status"`
	TargetRepoIDs []int64      `json:"target_repo_ids,omitempty"`
	ItemsFetched  int          `json:"items_fetched"`
	ErrorDetail   *ErrorDetail `json:"error_detail,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}
