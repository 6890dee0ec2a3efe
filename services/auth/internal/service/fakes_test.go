package service

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	apperrors "github.com/karaca/identity/pkg/errors"
	"github.com/karaca/identity/services/auth/internal/domain"
)

// In-memory fakes for the repository interfaces. They implement just enough
// semantics (unique lookups, counters) for the service-level state machine
// tests to exercise real flows without a database.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*domain.User{}}
}

func (f *fakeUserRepo) Create(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
	}
	cp := *u
	f.users[u.ID] = &cp
	return nil
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

func (f *fakeUserRepo) Update(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[u.ID]
	if !ok {
		return apperrors.NotFound("user", u.ID)
	}
	cp := *u
	// Mirror the repository's monotonic epoch guard.
	if cp.TokenVersion < stored.TokenVersion {
		cp.TokenVersion = stored.TokenVersion
	}
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return apperrors.NotFound("user", id)
	}
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) List(_ context.Context, offset, limit int) ([]domain.User, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []domain.User
	for _, u := range f.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []domain.User{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (f *fakeUserRepo) DeleteAllNonAdmins(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, u := range f.users {
		if u.Role != domain.RoleAdmin {
			delete(f.users, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeUserRepo) DeleteAllExcept(_ context.Context, keepID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id := range f.users {
		if id != keepID {
			delete(f.users, id)
			n++
		}
	}
	return n, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*domain.Session{}}
}

func (f *fakeSessionRepo) Create(_ context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.RefreshToken == s.RefreshToken {
			return apperrors.Conflict("session refresh token already exists")
		}
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionRepo) GetByID(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) GetByRefreshToken(_ context.Context, token string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.RefreshToken == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeSessionRepo) ListActive(_ context.Context, userID string, now time.Time) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.IsActive && !s.ExpiresAt.Before(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	return out, nil
}

func (f *fakeSessionRepo) ListByUserID(_ context.Context, userID string) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return apperrors.NotFound("session", id)
	}
	s.IsActive = false
	return nil
}

func (f *fakeSessionRepo) DeactivateByRefreshToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.RefreshToken == token {
			s.IsActive = false
		}
	}
	return nil
}

func (f *fakeSessionRepo) DeactivateAllForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) DeactivateOthers(_ context.Context, userID, keepRefreshToken string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.UserID == userID && s.IsActive && s.RefreshToken != keepRefreshToken {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) DeleteForUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if s.ExpiresAt.Before(now) {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

type fakeRefreshTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken // keyed by token value
}

func newFakeRefreshTokenRepo() *fakeRefreshTokenRepo {
	return &fakeRefreshTokenRepo{tokens: map[string]*domain.RefreshToken{}}
}

func (f *fakeRefreshTokenRepo) Create(_ context.Context, t *domain.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[t.Token]; ok {
		return apperrors.Conflict("refresh token already exists")
	}
	cp := *t
	f.tokens[t.Token] = &cp
	return nil
}

func (f *fakeRefreshTokenRepo) GetByToken(_ context.Context, token string) (*domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRefreshTokenRepo) DeleteByToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

func (f *fakeRefreshTokenRepo) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for token, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, token)
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshTokenRepo) DeleteOthers(_ context.Context, userID, keepToken string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for token, t := range f.tokens {
		if t.UserID == userID && token != keepToken {
			delete(f.tokens, token)
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshTokenRepo) ListByUserID(_ context.Context, userID string) ([]domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RefreshToken
	for _, t := range f.tokens {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeRefreshTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
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

func (f *fakeRefreshTokenRepo) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tokens {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

type fakeOOBTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.OutOfBandToken // keyed by token value
}

func newFakeOOBTokenRepo() *fakeOOBTokenRepo {
	return &fakeOOBTokenRepo{tokens: map[string]*domain.OutOfBandToken{}}
}

func (f *fakeOOBTokenRepo) Create(_ context.Context, t *domain.OutOfBandToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[t.Token]; ok {
		return apperrors.Conflict("token already exists")
	}
	cp := *t
	f.tokens[t.Token] = &cp
	return nil
}

func (f *fakeOOBTokenRepo) GetByToken(_ context.Context, token string) (*domain.OutOfBandToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeOOBTokenRepo) DeleteUnused(_ context.Context, userID, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, t := range f.tokens {
		if t.UserID == userID && t.Kind == kind && !t.Used {
			delete(f.tokens, token)
		}
	}
	return nil
}

func (f *fakeOOBTokenRepo) MarkUsed(_ context.Context, id string, usedAt time.Time, ip, userAgent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id {
			if t.Used {
				return apperrors.Conflict("token already used")
			}
			t.Used = true
			t.UsedAt = &usedAt
			if ip != "" {
				t.IPAddress = &ip
			}
			if userAgent != "" {
				t.UserAgent = &userAgent
			}
			return nil
		}
	}
	return apperrors.Conflict("token already used")
}

func (f *fakeOOBTokenRepo) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, t := range f.tokens {
		if t.ID == id {
			delete(f.tokens, token)
		}
	}
	return nil
}

func (f *fakeOOBTokenRepo) DeleteAllForUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, token)
		}
	}
	return nil
}

func (f *fakeOOBTokenRepo) ListByUserID(_ context.Context, userID string) ([]domain.OutOfBandToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OutOfBandToken
	for _, t := range f.tokens {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeOOBTokenRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
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

func (f *fakeOOBTokenRepo) SweepUsedMagicLinks(_ context.Context, cutoff time.Time) (int64, error) {
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

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (f *fakeAuditRepo) Append(_ context.Context, e *domain.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAuditRepo) ListByUser(ctx context.Context, userID string, offset, limit int) ([]domain.AuditLog, int, error) {
	return f.Query(ctx, domain.AuditFilter{UserID: userID}, offset, limit)
}

func (f *fakeAuditRepo) Query(_ context.Context, filter domain.AuditFilter, offset, limit int) ([]domain.AuditLog, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []domain.AuditLog
	for _, e := range f.entries {
		if filter.UserID != "" && (e.UserID == nil || *e.UserID != filter.UserID) {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Success != nil && e.Success != *filter.Success {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	if offset >= total {
		return []domain.AuditLog{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (f *fakeAuditRepo) AnonymizeForUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sentinel := domain.AnonymizedSentinel
	for i := range f.entries {
		if f.entries[i].UserID != nil && *f.entries[i].UserID == userID {
			f.entries[i].Resource = &sentinel
			f.entries[i].IPAddress = &sentinel
			f.entries[i].UserAgent = &sentinel
			f.entries[i].Metadata = map[string]any{"anonymized": true}
		}
	}
	return nil
}

func (f *fakeAuditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.AuditLog
	var n int64
	for _, e := range f.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return n, nil
}

func (f *fakeAuditRepo) actions(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		if userID == "" || (e.UserID != nil && *e.UserID == userID) {
			out = append(out, e.Action)
		}
	}
	return out
}

func (f *fakeAuditRepo) countAction(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// fakeTxManager runs the function inline; the fakes apply writes immediately.
type fakeTxManager struct{}

func (fakeTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (fakeTxManager) WithSerializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeEmailDispatcher records dispatches and can be told to fail.
type fakeEmailDispatcher struct {
	mu            sync.Mutex
	verifications []string
	magicLinks    []string
	failNext      bool
}

func (f *fakeEmailDispatcher) SendVerification(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return apperrors.Dependency("smtp down", nil)
	}
	f.verifications = append(f.verifications, userID)
	return nil
}

func (f *fakeEmailDispatcher) SendMagicLink(_ context.Context, userID, _, link string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return apperrors.Dependency("smtp down", nil)
	}
	f.magicLinks = append(f.magicLinks, link)
	return nil
}

// fakeEventPublisher swallows every event.
type fakeEventPublisher struct{}

func (fakeEventPublisher) PublishUserRegistered(context.Context, *domain.User, bool) error { return nil }
func (fakeEventPublisher) PublishUserLogin(context.Context, *domain.User, string, bool) error {
	return nil
}
func (fakeEventPublisher) PublishUserPasswordReset(context.Context, string, string) error { return nil }
func (fakeEventPublisher) PublishUserDeleted(context.Context, string, bool) error         { return nil }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}
