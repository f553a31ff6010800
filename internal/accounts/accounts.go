// internal/accounts/accounts.go

// Package accounts manages account settings, tokens and tracked repositories.
package accounts

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github-activity-sync/internal/database"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/model"
)

const minSyncInterval = 15 * time.Minute

// TokenSetter encrypts and stores a GitHub token.
type TokenSetter interface {
	SetToken(ctx context.Context, accountID int64, token string) error
}

// Recomputer rebuilds rollups after a setting that changes bucketing.
type Recomputer interface {
	Recompute(ctx context.Context, accountID int64, affected model.DateRange) error
}

type Service struct {
	db         database.Querier
	tokens     TokenSetter
	recomputer Recomputer
	logger     *slog.Logger
}

func NewService(db database.Querier, tokens TokenSetter, recomputer Recomputer, logger *slog.Logger) *Service {
	return &Service{db: db, tokens: tokens, recomputer: recomputer, logger: logger}
}

type CreateRequest struct {
	GithubLogin  string `json:"github_login"`
	Token        string `json:"token,omitempty"`
	SyncInterval string `json:"sync_interval,omitempty"`
	AIEnabled    bool   `json:"ai_enabled"`
	Timezone     string `json:"timezone,omitempty"`
}

// SettingsUpdate changes only the non-nil fields.
type SettingsUpdate struct {
	GithubLogin  *string `json:"github_login,omitempty"`
	SyncInterval *string `json:"sync_interval,omitempty"`
	AIEnabled    *bool   `json:"ai_enabled,omitempty"`
	Timezone     *string `json:"timezone,omitempty"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Account, error) {
	login := strings.TrimSpace(req.GithubLogin)
	if login == "" {
		return model.Account{}, &apperrors.InvalidArgumentError{Field: "github_login", Reason: "required"}
	}
	interval, err := parseInterval(req.SyncInterval)
	if err != nil {
		return model.Account{}, err
	}
	tz := cmp.Or(req.Timezone, "UTC")
	if err := validateTimezone(tz); err != nil {
		return model.Account{}, err
	}

	account, err := s.db.CreateAccount(ctx, database.CreateAccountParams{
		GithubLogin:  login,
		SyncInterval: interval,
		AIEnabled:    req.AIEnabled,
		Timezone:     tz,
	})
	if err != nil {
		return model.Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	if req.Token != "" {
		if err := s.tokens.SetToken(ctx, account.ID, req.Token); err != nil {
			return model.Account{}, fmt.Errorf("failed to store token: %w", err)
		}
		account.TokenConfigured = true
	}
	s.logger.Info("Account created", "account_id", account.ID, "github_login", login)
	return account, nil
}

func (s *Service) Get(ctx context.Context, id int64) (model.Account, error) {
	return s.db.GetAccount(ctx, id)
}

// UpdateSettings applies the update. A timezone change moves every commit to
// a different local day, so all rollups are rebuilt.
func (s *Service) UpdateSettings(ctx context.Context, id int64, upd SettingsUpdate) (model.Account, error) {
	current, err := s.db.GetAccount(ctx, id)
	if err != nil {
		return model.Account{}, err
	}
	params := database.UpdateAccountSettingsParams{ID: id, AIEnabled: upd.AIEnabled}
	if upd.GithubLogin != nil {
		login := strings.TrimSpace(*upd.GithubLogin)
		if login == "" {
			return model.Account{}, &apperrors.InvalidArgumentError{Field: "github_login", Reason: "must not be empty"}
		}
		params.GithubLogin = &login
	}
	if upd.SyncInterval != nil {
		interval, err := parseInterval(*upd.SyncInterval)
		if err != nil {
			return model.Account{}, err
		}
		params.SyncInterval = &interval
	}
	if upd.Timezone != nil {
		if err := validateTimezone(*upd.Timezone); err != nil {
			return model.Account{}, err
		}
		params.Timezone = upd.Timezone
	}

	account, err := s.db.UpdateAccountSettings(ctx, params)
	if err != nil {
		return model.Account{}, err
	}
	if account.Timezone != current.Timezone {
		s.logger.Info("Timezone changed, rebuilding rollups", "account_id", id, "from", current.Timezone, "to", account.Timezone)
		if err := s.recomputer.Recompute(ctx, id, model.DateRange{}); err != nil {
			return account, fmt.Errorf("failed to rebuild rollups: %w", err)
		}
	}
	return account, nil
}

// RotateToken replaces the stored token.
func (s *Service) RotateToken(ctx context.Context, id int64, token string) error {
	if strings.TrimSpace(token) == "" {
		return &apperrors.InvalidArgumentError{Field: "token", Reason: "required"}
	}
	if _, err := s.db.GetAccount(ctx, id); err != nil {
		return err
	}
	if err := s.tokens.SetToken(ctx, id, token); err != nil {
		return err
	}
	s.logger.Info("GitHub token rotated", "account_id", id)
	return nil
}

func (s *Service) Repositories(ctx context.Context, accountID int64) ([]model.Repository, error) {
	if _, err := s.db.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.db.ListRepositories(ctx, accountID, false)
}

// SetRepositoryActive includes or excludes a repository from syncing and from
// every rollup. Changing the flag rebuilds the account's rollups.
func (s *Service) SetRepositoryActive(ctx context.Context, accountID, repoID int64, active bool) (model.Repository, error) {
	before, err := s.db.GetRepository(ctx, repoID)
	if err != nil {
		return model.Repository{}, err
	}
	repo, err := s.db.SetRepositoryActive(ctx, accountID, repoID, active)
	if err != nil {
		return model.Repository{}, err
	}
	if before.IsActive != active {
		if err := s.recomputer.Recompute(ctx, accountID, model.DateRange{}); err != nil {
			return repo, fmt.Errorf("failed to rebuild rollups: %w", err)
		}
	}
	return repo, nil
}

// parseInterval accepts Go durations ("6h", "90m"); empty means the service default.
func parseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &apperrors.InvalidArgumentError{Field: "sync_interval", Reason: err.Error()}
	}
	if d < minSyncInterval {
		return 0, &apperrors.InvalidArgumentError{Field: "sync_interval", Reason: "must be at least " + minSyncInterval.String()}
	}
	return d, nil
}

func validateTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil || tz == "" || strings.EqualFold(tz, "local") {
		return &apperrors.InvalidArgumentError{Field: "timezone", Reason: fmt.Sprintf("unknown timezone %q", tz)}
	}
	return nil
}
