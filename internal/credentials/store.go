// internal/credentials/store.go
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github-activity-sync/internal/database"
)

// ErrTokenNotConfigured is returned when an account has no usable token.
var ErrTokenNotConfigured = errors.New("github token not configured")

// Store decrypts, rotates and invalidates account tokens. Plaintext tokens
// never leave this package except as the return value of GetDecryptedToken.
type Store struct {
	db     database.Querier
	enc    *TokenEncryptor
	logger *slog.Logger
}

func NewStore(db database.Querier, enc *TokenEncryptor, logger *slog.Logger) *Store {
	return &Store{db: db, enc: enc, logger: logger}
}

// GetDecryptedToken returns the plaintext token of an account.
func (s *Store) GetDecryptedToken(ctx context.Context, accountID int64) (string, error) {
	acct, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acct.EncryptedToken == nil || *acct.EncryptedToken == "" {
		return "", ErrTokenNotConfigured
	}
	token, err := s.enc.Decrypt(*acct.EncryptedToken)
	if err != nil {
		return "", fmt.Errorf("account %d: %w", accountID, err)
	}
	return token, nil
}

// InvalidateToken clears the stored token after the provider rejected it.
func (s *Store) InvalidateToken(ctx context.Context, accountID int64) error {
	if err := s.db.ClearAccountToken(ctx, accountID); err != nil {
		return err
	}
	s.logger.Warn("GitHub token invalidated", "account_id", accountID)
	return nil
}

// SetToken encrypts and stores a new token, replacing any previous one.
func (s *Store) SetToken(ctx context.Context, accountID int64, token string) error {
	if token == "" {
		return ErrTokenNotConfigured
	}
	sealed, err := s.enc.Encrypt(token)
	if err != nil {
		return err
	}
	return s.db.SetAccountToken(ctx, accountID, sealed)
}
