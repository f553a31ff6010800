// internal/accounts/accounts_test.go
package accounts

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-activity-sync/internal/credentials"
	"github-activity-sync/internal/database"
	"github-activity-sync/internal/database/memdb"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/model"
)

// MockRecomputer is a mock type for the Recomputer interface
type MockRecomputer struct {
	mock.Mock
}

func (m *MockRecomputer) Recompute(ctx context.Context, accountID int64, affected model.DateRange) error {
	args := m.Called(ctx, accountID, affected)
	return args.Error(0)
}

func setupService(t *testing.T) (*Service, *memdb.DB, *credentials.Store, *MockRecomputer) {
	t.Helper()
	db := memdb.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	enc, err := credentials.NewTokenEncryptor(base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	require.NoError(t, err)
	creds := credentials.NewStore(db, enc, logger)
	rec := new(MockRecomputer)
	return NewService(db, creds, rec, logger), db, creds, rec
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the token encrypted", func(t *testing.T) {
		svc, db, creds, _ := setupService(t)
		acct, err := svc.Create(ctx, CreateRequest{GithubLogin: " octo ", Token: "ghp_abc", SyncInterval: "2h", Timezone: "Europe/Berlin"})
		require.NoError(t, err)
		assert.Equal(t, "octo", acct.GithubLogin)
		assert.Equal(t, 2*time.Hour, acct.SyncInterval)
		assert.True(t, acct.TokenConfigured)

		stored, err := db.GetAccount(ctx, acct.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "ghp_abc", *stored.EncryptedToken)
		token, err := creds.GetDecryptedToken(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, "ghp_abc", token)
	})

	t.Run("defaults to UTC", func(t *testing.T) {
		svc, _, _, _ := setupService(t)
		acct, err := svc.Create(ctx, CreateRequest{GithubLogin: "octo"})
		require.NoError(t, err)
		assert.Equal(t, "UTC", acct.Timezone)
		assert.False(t, acct.TokenConfigured)
	})

	testCases := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"missing login", CreateRequest{}, "github_login"},
		{"unknown timezone", CreateRequest{GithubLogin: "octo", Timezone: "Mars/Olympus"}, "timezone"},
		{"bad interval", CreateRequest{GithubLogin: "octo", SyncInterval: "soon"}, "sync_interval"},
		{"interval too short", CreateRequest{GithubLogin: "octo", SyncInterval: "1m"}, "sync_interval"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _, _ := setupService(t)
			_, err := svc.Create(ctx, tc.req)
			var invalid *apperrors.InvalidArgumentError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.field, invalid.Field)
		})
	}
}

func TestService_UpdateSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("timezone change rebuilds rollups", func(t *testing.T) {
		svc, _, _, rec := setupService(t)
		acct, err := svc.Create(ctx, CreateRequest{GithubLogin: "octo"})
		require.NoError(t, err)
		rec.On("Recompute", mock.Anything, acct.ID, model.DateRange{}).Return(nil).Once()

		tz := "Asia/Tokyo"
		updated, err := svc.UpdateSettings(ctx, acct.ID, SettingsUpdate{Timezone: &tz})
		require.NoError(t, err)
		assert.Equal(t, "Asia/Tokyo", updated.Timezone)
		rec.AssertExpectations(t)
	})

	t.Run("other settings leave rollups alone", func(t *testing.T) {
		svc, _, _, rec := setupService(t)
		acct, err := svc.Create(ctx, CreateRequest{GithubLogin: "octo"})
		require.NoError(t, err)

		on, interval, tz := true, "12h", "UTC"
		updated, err := svc.UpdateSettings(ctx, acct.ID, SettingsUpdate{AIEnabled: &on, SyncInterval: &interval, Timezone: &tz})
		require.NoError(t, err)
		assert.True(t, updated.AIEnabled)
		assert.Equal(t, 12*time.Hour, updated.SyncInterval)
		rec.AssertNotCalled(t, "Recompute", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown account", func(t *testing.T) {
		svc, _, _, _ := setupService(t)
		_, err := svc.UpdateSettings(ctx, 404, SettingsUpdate{})
		var nf *apperrors.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})
}

func TestService_RotateToken(t *testing.T) {
	ctx := context.Background()
	svc, _, creds, _ := setupService(t)
	acct, err := svc.Create(ctx, CreateRequest{GithubLogin: "octo", Token: "ghp_old"})
	require.NoError(t, err)

	require.NoError(t, svc.RotateToken(ctx, acct.ID, "ghp_new"))
	token, err := creds.GetDecryptedToken(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "ghp_new", token)

	var invalid *apperrors.InvalidArgumentError
	assert.ErrorAs(t, svc.RotateToken(ctx, acct.ID, "  "), &invalid)
}

func TestService_SetRepositoryActive(t *testing.T) {
	ctx := context.Background()
	svc, db, _, rec := setupService(t)
	acct, err := svc.Create(ctx, CreateRequest{GithubLogin: "octo"})
	require.NoError(t, err)
	repo, _, err := db.UpsertRepository(ctx, database.UpsertRepositoryParams{AccountID: acct.ID, GithubRepoID: 1, FullName: "octo/app"})
	require.NoError(t, err)
	require.True(t, repo.IsActive)

	rec.On("Recompute", mock.Anything, acct.ID, model.DateRange{}).Return(nil).Once()
	updated, err := svc.SetRepositoryActive(ctx, acct.ID, repo.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	// no change, no rebuild
	_, err = svc.SetRepositoryActive(ctx, acct.ID, repo.ID, false)
	require.NoError(t, err)
	rec.AssertNumberOfCalls(t, "Recompute", 1)

	repos, err := svc.Repositories(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.False(t, repos[0].IsActive)

	other, err := svc.Create(ctx, CreateRequest{GithubLogin: "someone"})
	require.NoError(t, err)
	_, err = svc.SetRepositoryActive(ctx, other.ID, repo.ID, true)
	var nf *apperrors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
