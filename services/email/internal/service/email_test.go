package service

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/karaca/identity/pkg/clock"
	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/email/internal/client"
	"github.com/karaca/identity/services/email/internal/domain"
	mocksender "github.com/karaca/identity/services/email/internal/sender/mock"
	"github.com/karaca/identity/services/email/internal/template"
	"github.com/karaca/identity/services/email/internal/token"
)

// --- In-memory fakes ---

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*domain.User{}}
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeUserRepo) MarkEmailVerified(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperrors.NotFound("user", userID)
	}
	u.EmailVerified = true
	return nil
}

func (f *fakeUserRepo) ApplyPasswordReset(_ context.Context, userID, newPasswordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperrors.NotFound("user", userID)
	}
	u.PasswordHash = newPasswordHash
	u.FailedLoginAttempts = 0
	u.AccountLockedUntil = nil
	u.TokenVersion++
	return nil
}

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.OutOfBandToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: map[string]*domain.OutOfBandToken{}}
}

func (f *fakeTokenRepo) Create(_ context.Context, t *domain.OutOfBandToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[t.Token]; ok {
		return apperrors.Conflict("token already exists")
	}
	cp := *t
	f.tokens[t.Token] = &cp
	return nil
}

func (f *fakeTokenRepo) GetByToken(_ context.Context, token string) (*domain.OutOfBandToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTokenRepo) DeleteUnused(_ context.Context, userID, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, t := range f.tokens {
		if t.UserID == userID && t.Kind == kind && !t.Used {
			delete(f.tokens, token)
		}
	}
	return nil
}

func (f *fakeTokenRepo) MarkUsed(_ context.Context, id string, usedAt time.Time, ip, userAgent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id {
			if t.Used {
				return apperrors.Conflict("token already used")
			}
			t.Used = true
			t.UsedAt = &usedAt
			return nil
		}
	}
	return apperrors.Conflict("token already used")
}

func (f *fakeTokenRepo) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, t := range f.tokens {
		if t.ID == id {
			delete(f.tokens, token)
		}
	}
	return nil
}

func (f *fakeTokenRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for token, t := range f.tokens {
		if t.ExpiresAt.Before(now) {
			delete(f.tokens, token)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) SweepUsedMagicLinks(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for token, t := range f.tokens {
		if t.Kind == domain.TokenKindMagicLink && t.Used && t.UsedAt != nil && t.UsedAt.Before(cutoff) {
			delete(f.tokens, token)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) byUser(userID, kind string) []domain.OutOfBandToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OutOfBandToken
	for _, t := range f.tokens {
		if t.UserID == userID && t.Kind == kind {
			out = append(out, *t)
		}
	}
	return out
}

type fakeCredentialRepo struct {
	mu                 sync.Mutex
	refreshWipes       []string
	sessionDeactivates []string
}

func (f *fakeCredentialRepo) DeleteRefreshTokensForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshWipes = append(f.refreshWipes, userID)
	return 2, nil
}

func (f *fakeCredentialRepo) DeactivateSessionsForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionDeactivates = append(f.sessionDeactivates, userID)
	return 2, nil
}

type fakeTxManager struct{}

func (fakeTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (fakeTxManager) WithSerializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAuditReporter struct {
	mu      sync.Mutex
	entries []client.AuditEntry
}

func (f *fakeAuditReporter) Record(_ context.Context, entry client.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeAuditReporter) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

// --- Fixture ---

type fixture struct {
	users       *fakeUserRepo
	tokens      *fakeTokenRepo
	credentials *fakeCredentialRepo
	audit       *fakeAuditReporter
	sender      *mocksender.Sender
	clk         *clock.Fixed
	signer      *token.Signer
	svc         *EmailService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	renderer, err := template.NewRenderer()
	require.NoError(t, err)

	f := &fixture{
		users:       newFakeUserRepo(),
		tokens:      newFakeTokenRepo(),
		credentials: &fakeCredentialRepo{},
		audit:       &fakeAuditReporter{},
		sender:      mocksender.New(logger),
		clk:         clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}

	f.signer = token.NewSigner("email-secret-for-tests", f.clk)
	f.svc = NewEmailService(
		f.users, f.tokens, f.credentials, fakeTxManager{}, f.signer,
		f.sender, renderer, f.audit, logger, f.clk,
		"https://app.example.com", TTLConfig{},
	)

	return f
}

func (f *fixture) seedUser(t *testing.T, email string, verified bool) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("Str0ngPass!"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &domain.User{
		ID:            uuid.New().String(),
		Email:         email,
		PasswordHash:  string(hash),
		EmailVerified: verified,
	}
	f.users.mu.Lock()
	f.users.users[user.ID] = user
	f.users.mu.Unlock()
	return user
}

func rc() domain.RequestContext {
	return domain.RequestContext{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0"}
}

// --- Verification flow ---

func TestSendVerification_MintsTokenAndSends(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", false)

	require.NoError(t, f.svc.SendVerification(context.Background(), user.ID, ""))

	tokens := f.tokens.byUser(user.ID, domain.TokenKindVerification)
	require.Len(t, tokens, 1)
	assert.Equal(t, f.clk.Now().Add(domain.VerificationTokenTTL), tokens[0].ExpiresAt)

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Contains(t, sent[0].HTML, "verify-email?token=")

	assert.Contains(t, f.audit.actions(), domain.AuditVerificationEmailSent)
}

func TestSendVerification_ReplacesPriorToken(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", false)

	require.NoError(t, f.svc.SendVerification(context.Background(), user.ID, ""))
	require.NoError(t, f.svc.SendVerification(context.Background(), user.ID, ""))

	tokens := f.tokens.byUser(user.ID, domain.TokenKindVerification)
	assert.Len(t, tokens, 1)
}

func verificationToken(t *testing.T, f *fixture, userID string) string {
	t.Helper()
	require.NoError(t, f.svc.SendVerification(context.Background(), userID, ""))
	tokens := f.tokens.byUser(userID, domain.TokenKindVerification)
	require.Len(t, tokens, 1)
	return tokens[0].Token
}

func TestVerifyEmail_ConsumesByDeletion(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", false)
	tokenString := verificationToken(t, f, user.ID)

	require.NoError(t, f.svc.VerifyEmail(context.Background(), tokenString, rc()))

	updated, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, updated.EmailVerified)

	// The token row is gone; replay fails.
	assert.Empty(t, f.tokens.byUser(user.ID, domain.TokenKindVerification))
	err = f.svc.VerifyEmail(context.Background(), tokenString, rc())
	require.Error(t, err)

	assert.Contains(t, f.audit.actions(), domain.AuditEmailVerified)
}

func TestVerifyEmail_AlreadyVerified(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", false)
	tokenString := verificationToken(t, f, user.ID)

	require.NoError(t, f.users.MarkEmailVerified(context.Background(), user.ID))

	err := f.svc.VerifyEmail(context.Background(), tokenString, rc())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestVerifyEmail_Expired(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", false)
	tokenString := verificationToken(t, f, user.ID)

	f.clk.Advance(25 * time.Hour)

	err := f.svc.VerifyEmail(context.Background(), tokenString, rc())
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VERIFICATION_EXPIRED", appErr.Code)
}

func TestResendVerification_RequiresUnverifiedUser(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice@example.com", true)

	err := f.svc.ResendVerification(context.Background(), "alice@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	err = f.svc.ResendVerification(context.Background(), "ghost@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- Password reset flow ---

func TestSendPasswordReset_EnumerationResistant(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice@example.com", true)

	known, err := f.svc.SendPasswordReset(context.Background(), "alice@example.com", rc())
	require.NoError(t, err)

	unknown, err := f.svc.SendPasswordReset(context.Background(), "ghost@example.com", rc())
	require.NoError(t, err)

	// Identical responses; only the known address produced a mail.
	assert.Equal(t, known, unknown)
	assert.Len(t, f.sender.Sent(), 1)
}

func resetToken(t *testing.T, f *fixture, email string) string {
	t.Helper()
	_, err := f.svc.SendPasswordReset(context.Background(), email, rc())
	require.NoError(t, err)

	user, err := f.users.GetByEmail(context.Background(), email)
	require.NoError(t, err)

	tokens := f.tokens.byUser(user.ID, domain.TokenKindPasswordReset)
	require.Len(t, tokens, 1)
	return tokens[0].Token
}

func TestResetPassword_BumpsEpochAndWipesSessions(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "alice@example.com", true)
	oldHash := user.PasswordHash
	tokenString := resetToken(t, f, "alice@example.com")

	message, err := f.svc.ResetPassword(context.Background(), tokenString, "N3wPassword!", rc())
	require.NoError(t, err)
	assert.Contains(t, message, "terminated")

	updated, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, updated.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("N3wPassword!")))
	assert.Equal(t, 1, updated.TokenVersion, "epoch must bump exactly once")
	assert.Zero(t, updated.FailedLoginAttempts)
	assert.Nil(t, updated.AccountLockedUntil)

	// Every refresh token and session was wiped.
	assert.Equal(t, []string{user.ID}, f.credentials.refreshWipes)
	assert.Equal(t, []string{user.ID}, f.credentials.sessionDeactivates)

	assert.Contains(t, f.audit.actions(), domain.AuditPasswordResetCompleted)
}

func TestResetPassword_OneShot(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice@example.com", true)
	tokenString := resetToken(t, f, "alice@example.com")

	_, err := f.svc.ResetPassword(context.Background(), tokenString, "N3wPassword!", rc())
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(context.Background(), tokenString, "An0therPass!", rc())
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "RESET_USED", appErr.Code)
}

func TestResetPassword_Expired(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice@example.com", true)
	tokenString := resetToken(t, f, "alice@example.com")

	f.clk.Advance(2 * time.Hour)

	_, err := f.svc.ResetPassword(context.Background(), tokenString, "N3wPassword!", rc())
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "RESET_EXPIRED", appErr.Code)
}

func TestResetPassword_UnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ResetPassword(context.Background(), "garbage", "N3wPassword!", rc())
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "RESET_INVALID", appErr.Code)
}

// --- Magic link dispatch ---

func TestSendMagicLink_GreetsNewUsersDifferently(t *testing.T) {
	f := newFixture(t)

	link := "https://app.example.com/magic-link?token=abc"

	require.NoError(t, f.svc.SendMagicLink(context.Background(), "user-1", "carol@example.com", link, true))
	require.NoError(t, f.svc.SendMagicLink(context.Background(), "user-2", "dave@example.com", link, false))

	sent := f.sender.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Subject, "Welcome")
	assert.Contains(t, sent[0].HTML, "account has been created")
	assert.NotContains(t, sent[1].HTML, "account has been created")
	assert.True(t, strings.Contains(sent[1].HTML, link))
}
