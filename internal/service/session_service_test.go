package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"student-registry/internal/credential"
	"student-registry/internal/model"
	"student-registry/internal/repository"
	"student-registry/internal/token"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sessionFixture struct {
	store    *repository.MemoryStore
	codec    *token.Codec
	hasher   *credential.Hasher
	audit    *AuditService
	sessions *SessionManager
	clock    *testClock
}

func newSessionFixture(t *testing.T, store StudentStore) *sessionFixture {
	t.Helper()

	codec, err := token.NewCodec(token.SigningConfig{
		AccessSecret:          "access-secret",
		RefreshSecret:         "refresh-secret",
		ResetPasswordSecret:   "reset-secret",
		ActivateAccountSecret: "activate-secret",
	})
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	codec = codec.WithClock(clock.Now)

	memory := repository.NewMemoryStore()
	if store == nil {
		store = memory
	}

	audit := NewAuditService(memory)
	audit.now = clock.Now

	hasher := credential.NewHasher(credential.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1})
	sessions := NewSessionManager(store, codec, hasher, audit, SessionConfig{})
	sessions.now = clock.Now

	return &sessionFixture{
		store:    memory,
		codec:    codec,
		hasher:   hasher,
		audit:    audit,
		sessions: sessions,
		clock:    clock,
	}
}

func (f *sessionFixture) seed(t *testing.T, store interface {
	Create(context.Context, model.Student) error
}, controlNumber string, email string, password string) model.Student {
	t.Helper()

	hashed, err := f.hasher.Hash(password)
	require.NoError(t, err)

	student := model.Student{
		ControlNumber: controlNumber,
		Email:         email,
		CURP:          "CURP" + controlNumber,
		PasswordHash:  hashed,
		Names:         "Ana",
		CreatedAt:     f.clock.Now(),
	}
	require.NoError(t, store.Create(context.Background(), student))
	return student
}

// captureDeliverer records the last refresh token handed out.
type captureDeliverer struct {
	token     string
	expiresAt time.Time
	calls     int
}

func (c *captureDeliverer) DeliverRefreshToken(token string, expiresAt time.Time) {
	c.token = token
	c.expiresAt = expiresAt
	c.calls++
}

func TestLoginIssuesAccessAndDeliversRefresh(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")

	var got captureDeliverer
	pair, err := f.sessions.Login(context.Background(), "ana@example.com", "pw-1234", &got)
	require.NoError(t, err)
	require.Equal(t, 1, got.calls)
	require.Equal(t, pair.RefreshToken, got.token)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, int64(420), pair.ExpiresIn)
	require.True(t, got.expiresAt.Equal(f.clock.Now().Add(365*24*time.Hour)))

	claims, err := f.sessions.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "266P000001", claims.UserID)
	require.Equal(t, "ana@example.com", claims.Email)

	refreshClaims, err := f.codec.Verify(token.KindRefresh, got.token)
	require.NoError(t, err)
	version, ok := refreshClaims.Int(token.ClaimTokenVersion)
	require.True(t, ok)
	require.Equal(t, 0, version)

	_, err = f.sessions.ValidateAccessToken(got.token)
	require.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestLoginFailures(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")

	t.Run("unknown email", func(t *testing.T) {
		var got captureDeliverer
		_, err := f.sessions.Login(context.Background(), "nobody@example.com", "pw-1234", &got)
		require.ErrorIs(t, err, model.ErrStudentNotFound)
		require.Zero(t, got.calls)
	})

	t.Run("wrong password", func(t *testing.T) {
		var got captureDeliverer
		_, err := f.sessions.Login(context.Background(), "ana@example.com", "nope", &got)
		require.ErrorIs(t, err, model.ErrInvalidCredentials)
		require.Zero(t, got.calls)
	})

	events, _, err := f.store.Query(context.Background(), model.AuthEventQuery{Action: model.AuthEventLogin})
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		require.Equal(t, model.AuthStatusFailure, e.Status)
		require.NotEmpty(t, e.Reason)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	legacy, err := bcrypt.GenerateFromPassword([]byte("old-pw"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.store.Create(context.Background(), model.Student{
		ControlNumber: "266P000001",
		Email:         "ana@example.com",
		CURP:          "CURP1",
		PasswordHash:  string(legacy),
	}))

	_, err = f.sessions.Login(context.Background(), "ana@example.com", "old-pw", nil)
	require.NoError(t, err)

	s, err := f.store.FindByControlNumber(context.Background(), "266P000001")
	require.NoError(t, err)
	require.False(t, f.hasher.NeedsRehash(s.PasswordHash))
	require.True(t, f.hasher.Verify(s.PasswordHash, "old-pw"))
}

func TestRefreshRotatesTokens(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
	ctx := context.Background()

	var first captureDeliverer
	_, err := f.sessions.Login(ctx, "ana@example.com", "pw-1234", &first)
	require.NoError(t, err)

	var second captureDeliverer
	pair, err := f.sessions.RefreshSession(ctx, first.token, &second)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.Equal(t, 1, second.calls)
	require.NotEqual(t, first.token, second.token)

	// The pre-rotation token shares the lineage's version and stays usable
	// until the lineage is revoked.
	var replay captureDeliverer
	_, err = f.sessions.RefreshSession(ctx, first.token, &replay)
	require.NoError(t, err)
}

func TestRefreshRejections(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
	ctx := context.Background()

	var issued captureDeliverer
	pair, err := f.sessions.Login(ctx, "ana@example.com", "pw-1234", &issued)
	require.NoError(t, err)

	ghost, _, err := f.codec.Sign(token.KindRefresh, map[string]any{
		token.ClaimUserID:       "999P999999",
		token.ClaimTokenVersion: 0,
	}, time.Hour)
	require.NoError(t, err)

	noVersion, _, err := f.codec.Sign(token.KindRefresh, map[string]any{token.ClaimUserID: "266P000001"}, time.Hour)
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":         "not-a-token",
		"access token":    pair.AccessToken,
		"unknown student": ghost,
		"missing version": noVersion,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			var got captureDeliverer
			_, err := f.sessions.RefreshSession(ctx, tok, &got)
			require.ErrorIs(t, err, model.ErrUnauthenticated)
			require.Zero(t, got.calls)
		})
	}

	t.Run("expired", func(t *testing.T) {
		expired := newSessionFixture(t, nil)
		expired.seed(t, expired.store, "266P000001", "ana@example.com", "pw-1234")

		var got captureDeliverer
		_, err := expired.sessions.Login(ctx, "ana@example.com", "pw-1234", &got)
		require.NoError(t, err)

		expired.clock.Advance(366 * 24 * time.Hour)
		_, err = expired.sessions.RefreshSession(ctx, got.token, nil)
		require.ErrorIs(t, err, model.ErrUnauthenticated)
	})
}

func TestRevokeInvalidatesEveryRefreshToken(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
	ctx := context.Background()

	var laptop, phone captureDeliverer
	_, err := f.sessions.Login(ctx, "ana@example.com", "pw-1234", &laptop)
	require.NoError(t, err)
	_, err = f.sessions.Login(ctx, "ana@example.com", "pw-1234", &phone)
	require.NoError(t, err)

	require.NoError(t, f.sessions.RevokeAllSessions(ctx, "266P000001", "pw-1234"))

	_, err = f.sessions.RefreshSession(ctx, laptop.token, nil)
	require.ErrorIs(t, err, model.ErrUnauthenticated)
	_, err = f.sessions.RefreshSession(ctx, phone.token, nil)
	require.ErrorIs(t, err, model.ErrUnauthenticated)

	var fresh captureDeliverer
	_, err = f.sessions.Login(ctx, "ana@example.com", "pw-1234", &fresh)
	require.NoError(t, err)
	_, err = f.sessions.RefreshSession(ctx, fresh.token, nil)
	require.NoError(t, err)
}

func TestRevokeWithWrongPasswordKeepsVersion(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
	ctx := context.Background()

	err := f.sessions.RevokeAllSessions(ctx, "266P000001", "wrong")
	require.ErrorIs(t, err, model.ErrInvalidCredentials)

	s, err := f.store.FindByControlNumber(ctx, "266P000001")
	require.NoError(t, err)
	require.Equal(t, 0, s.TokenVersion)

	err = f.sessions.RevokeAllSessions(ctx, "999P999999", "pw-1234")
	require.ErrorIs(t, err, model.ErrStudentNotFound)
}

func TestConcurrentRevokesBumpVersionTwice(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.sessions.RevokeAllSessions(ctx, "266P000001", "pw-1234"))
		}()
	}
	wg.Wait()

	s, err := f.store.FindByControlNumber(ctx, "266P000001")
	require.NoError(t, err)
	require.Equal(t, 2, s.TokenVersion)
}

func TestResetTokenRoundTrip(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	student := f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
	ctx := context.Background()

	var before captureDeliverer
	_, err := f.sessions.Login(ctx, "ana@example.com", "pw-1234", &before)
	require.NoError(t, err)

	resetToken, err := f.sessions.IssueResetToken(ctx, student)
	require.NoError(t, err)

	stored, err := f.store.FindByControlNumber(ctx, "266P000001")
	require.NoError(t, err)
	require.Equal(t, resetToken, stored.ResetPasswordToken)
	require.True(t, stored.ResetTokenExpires.Equal(f.clock.Now().Add(24*time.Hour)))

	_, err = f.sessions.VerifyResetToken(ctx, resetToken, "ANA@example.com")
	require.NoError(t, err)

	_, err = f.sessions.ConsumeResetToken(ctx, resetToken, "ana@example.com", "new-pw")
	require.NoError(t, err)

	_, err = f.sessions.Login(ctx, "ana@example.com", "pw-1234", nil)
	require.ErrorIs(t, err, model.ErrInvalidCredentials)
	_, err = f.sessions.Login(ctx, "ana@example.com", "new-pw", nil)
	require.NoError(t, err)

	_, err = f.sessions.RefreshSession(ctx, before.token, nil)
	require.ErrorIs(t, err, model.ErrUnauthenticated)

	_, err = f.sessions.ConsumeResetToken(ctx, resetToken, "ana@example.com", "again")
	require.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestResetTokenRequiresClaimAndColumnToAgree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("column expiry moved later", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		student := f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
		resetToken, err := f.sessions.IssueResetToken(ctx, student)
		require.NoError(t, err)

		require.NoError(t, f.store.SetResetToken(ctx, "266P000001", resetToken, f.clock.Now().Add(48*time.Hour)))
		_, err = f.sessions.VerifyResetToken(ctx, resetToken, "ana@example.com")
		require.ErrorIs(t, err, model.ErrInvalidToken)
	})

	t.Run("column expiry in the past", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		student := f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
		resetToken, err := f.sessions.IssueResetToken(ctx, student)
		require.NoError(t, err)

		require.NoError(t, f.store.SetResetToken(ctx, "266P000001", resetToken, f.clock.Now().Add(-time.Minute)))
		_, err = f.sessions.VerifyResetToken(ctx, resetToken, "ana@example.com")
		require.ErrorIs(t, err, model.ErrInvalidToken)
	})

	t.Run("token replaced by a newer one", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		student := f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
		first, err := f.sessions.IssueResetToken(ctx, student)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
		second, err := f.sessions.IssueResetToken(ctx, student)
		require.NoError(t, err)

		_, err = f.sessions.VerifyResetToken(ctx, first, "ana@example.com")
		require.ErrorIs(t, err, model.ErrInvalidToken)
		_, err = f.sessions.VerifyResetToken(ctx, second, "ana@example.com")
		require.NoError(t, err)
	})

	t.Run("never stored", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
		forged, _, err := f.codec.Sign(token.KindResetPassword, map[string]any{
			token.ClaimUserID:       "266P000001",
			token.ClaimEmail:        "ana@example.com",
			token.ClaimTokenExpires: f.clock.Now().Add(time.Hour).Unix(),
		}, time.Hour)
		require.NoError(t, err)

		_, err = f.sessions.VerifyResetToken(ctx, forged, "ana@example.com")
		require.ErrorIs(t, err, model.ErrInvalidToken)
	})

	t.Run("other student's email", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		student := f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
		f.seed(t, f.store, "266P000002", "bob@example.com", "pw-5678")
		resetToken, err := f.sessions.IssueResetToken(ctx, student)
		require.NoError(t, err)

		_, err = f.sessions.VerifyResetToken(ctx, resetToken, "bob@example.com")
		require.ErrorIs(t, err, model.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		student := f.seed(t, f.store, "266P000001", "ana@example.com", "pw-1234")
		resetToken, err := f.sessions.IssueResetToken(ctx, student)
		require.NoError(t, err)

		f.clock.Advance(25 * time.Hour)
		_, err = f.sessions.VerifyResetToken(ctx, resetToken, "ana@example.com")
		require.ErrorIs(t, err, model.ErrInvalidToken)
	})
}

// failingRevokeStore refuses to bump token versions.
type failingRevokeStore struct {
	*repository.MemoryStore
}

func (failingRevokeStore) IncrementTokenVersion(context.Context, string) (int, error) {
	return 0, errors.New("connection reset")
}

func TestConsumeResetTokenAbortsWhenRevocationFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := repository.NewMemoryStore()
	f := newSessionFixture(t, failingRevokeStore{MemoryStore: backing})
	student := f.seed(t, backing, "266P000001", "ana@example.com", "pw-1234")

	resetToken, err := f.sessions.IssueResetToken(ctx, student)
	require.NoError(t, err)

	_, err = f.sessions.ConsumeResetToken(ctx, resetToken, "ana@example.com", "new-pw")
	require.ErrorIs(t, err, model.ErrStorageFailure)

	stored, err := backing.FindByControlNumber(ctx, "266P000001")
	require.NoError(t, err)
	require.True(t, f.hasher.Verify(stored.PasswordHash, "pw-1234"))
	require.Equal(t, resetToken, stored.ResetPasswordToken)
}

func TestConsumeResetTokenRequiresPassword(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	_, err := f.sessions.ConsumeResetToken(context.Background(), "tok", "ana@example.com", "  ")
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

// rendezvousStore holds every revocation until `parties` callers arrived, so
// concurrent consumers have all passed token verification before any of
// them writes.
type rendezvousStore struct {
	*repository.MemoryStore
	arrived sync.WaitGroup
}

func (s *rendezvousStore) IncrementTokenVersion(ctx context.Context, controlNumber string) (int, error) {
	s.arrived.Done()
	waited := make(chan struct{})
	go func() {
		s.arrived.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
	}
	return s.MemoryStore.IncrementTokenVersion(ctx, controlNumber)
}

func TestConcurrentConsumesOfOneResetTokenHaveOneWinner(t *testing.T) {
	t.Parallel()

	const parties = 4
	ctx := context.Background()
	backing := &rendezvousStore{MemoryStore: repository.NewMemoryStore()}
	backing.arrived.Add(parties)
	f := newSessionFixture(t, backing)
	student := f.seed(t, backing.MemoryStore, "266P000001", "ana@example.com", "pw-1234")

	resetToken, err := f.sessions.IssueResetToken(ctx, student)
	require.NoError(t, err)

	passwords := []string{"first-pw", "second-pw", "third-pw", "fourth-pw"}
	errs := make([]error, parties)
	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.sessions.ConsumeResetToken(ctx, resetToken, "ana@example.com", passwords[i])
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			assert.Equal(t, -1, winner, "more than one consume succeeded")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, model.ErrInvalidToken)
	}
	require.NotEqual(t, -1, winner)

	stored, err := backing.FindByControlNumber(ctx, "266P000001")
	require.NoError(t, err)
	require.True(t, f.hasher.Verify(stored.PasswordHash, passwords[winner]))
	require.Empty(t, stored.ResetPasswordToken)
}
