package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
)

func newOOBTestFixture(t *testing.T) (*OutOfBandTokenRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := NewOutOfBandTokenRepository(mock)
	return repo, mock
}

func TestOutOfBandTokenRepository_MarkUsed_Success(t *testing.T) {
	repo, mock := newOOBTestFixture(t)
	defer mock.Close()

	usedAt := time.Now().UTC()
	ip := "203.0.113.7"
	ua := "Mozilla/5.0"

	mock.ExpectExec("UPDATE out_of_band_tokens").
		WithArgs(usedAt, &ip, &ua, "token-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.MarkUsed(context.Background(), "token-id", usedAt, ip, ua)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutOfBandTokenRepository_MarkUsed_AlreadyUsed(t *testing.T) {
	repo, mock := newOOBTestFixture(t)
	defer mock.Close()

	usedAt := time.Now().UTC()

	// The WHERE used = FALSE guard makes a second consumption a no-op.
	mock.ExpectExec("UPDATE out_of_band_tokens").
		WithArgs(usedAt, (*string)(nil), (*string)(nil), "token-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.MarkUsed(context.Background(), "token-id", usedAt, "", "")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutOfBandTokenRepository_DeleteUnused(t *testing.T) {
	repo, mock := newOOBTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM out_of_band_tokens").
		WithArgs("user-1", domain.TokenKindMagicLink).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	err := repo.DeleteUnused(context.Background(), "user-1", domain.TokenKindMagicLink)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutOfBandTokenRepository_SweepUsedMagicLinks(t *testing.T) {
	repo, mock := newOOBTestFixture(t)
	defer mock.Close()

	cutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)

	mock.ExpectExec("DELETE FROM out_of_band_tokens").
		WithArgs(domain.TokenKindMagicLink, cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := repo.SweepUsedMagicLinks(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
