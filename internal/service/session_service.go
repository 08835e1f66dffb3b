package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"student-registry/internal/credential"
	"student-registry/internal/model"
	"student-registry/internal/token"
)

// StudentStore is the persistence the session and student services need.
// IncrementTokenVersion must be a single atomic read-modify-write.
type StudentStore interface {
	FindByControlNumber(ctx context.Context, controlNumber string) (model.Student, error)
	FindByEmail(ctx context.Context, email string) (model.Student, error)
	FindByEmailOrCURP(ctx context.Context, email string, curp string) (model.Student, error)
	ExistsByEmailOrCURP(ctx context.Context, email string, curp string) (bool, error)
	NextControlSequence(ctx context.Context) (int64, error)
	Create(ctx context.Context, student model.Student) error
	Activate(ctx context.Context, controlNumber string) error
	SetResetToken(ctx context.Context, controlNumber string, token string, expiresAt time.Time) error
	UpdatePassword(ctx context.Context, controlNumber string, passwordHash string, resetToken string, now time.Time) error
	ReplacePasswordHash(ctx context.Context, controlNumber string, passwordHash string) error
	IncrementTokenVersion(ctx context.Context, controlNumber string) (int, error)
	List(ctx context.Context) ([]model.Student, error)
}

// RefreshTokenDeliverer receives the refresh token of a freshly issued
// pair. The HTTP layer turns it into a cookie; it never appears in a body.
type RefreshTokenDeliverer interface {
	DeliverRefreshToken(token string, expiresAt time.Time)
}

type DeliverFunc func(token string, expiresAt time.Time)

func (f DeliverFunc) DeliverRefreshToken(token string, expiresAt time.Time) { f(token, expiresAt) }

type SessionConfig struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	ResetPasswordTTL time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.AccessTTL <= 0 {
		c.AccessTTL = 7 * time.Minute
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 365 * 24 * time.Hour
	}
	if c.ResetPasswordTTL <= 0 {
		c.ResetPasswordTTL = 24 * time.Hour
	}
	return c
}

// SessionManager issues, rotates and revokes sessions. A session lineage is
// the chain of refresh tokens carrying the student's current token version;
// bumping the version ends every lineage at once.
type SessionManager struct {
	store  StudentStore
	codec  *token.Codec
	hasher *credential.Hasher
	audit  *AuditService
	cfg    SessionConfig
	now    func() time.Time
}

func NewSessionManager(store StudentStore, codec *token.Codec, hasher *credential.Hasher, audit *AuditService, cfg SessionConfig) *SessionManager {
	return &SessionManager{
		store:  store,
		codec:  codec,
		hasher: hasher,
		audit:  audit,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// Login fails with ErrStudentNotFound for an unknown email and
// ErrInvalidCredentials for a wrong password. Activation is not required.
func (m *SessionManager) Login(ctx context.Context, email string, password string, deliverer RefreshTokenDeliverer) (model.TokenPair, error) {
	student, err := m.store.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrStudentNotFound) {
		m.audit.Record(ctx, model.AuthEventLogin, "", email, "unknown email")
		return model.TokenPair{}, model.ErrStudentNotFound
	}
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	if !m.hasher.Verify(student.PasswordHash, password) {
		m.audit.Record(ctx, model.AuthEventLogin, student.ControlNumber, email, "password mismatch")
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	if m.hasher.NeedsRehash(student.PasswordHash) {
		m.upgradeHash(ctx, student.ControlNumber, password)
	}

	pair, err := m.issue(student, deliverer)
	if err != nil {
		return model.TokenPair{}, err
	}

	m.audit.Record(ctx, model.AuthEventLogin, student.ControlNumber, student.Email, "")
	return pair, nil
}

func (m *SessionManager) upgradeHash(ctx context.Context, controlNumber string, password string) {
	hashed, err := m.hasher.Hash(password)
	if err == nil {
		err = m.store.ReplacePasswordHash(ctx, controlNumber, hashed)
	}
	if err != nil {
		slog.WarnContext(ctx, "password rehash failed", "control_number", controlNumber, "error", err)
	}
}

// RefreshSession trades a refresh token for a new pair. Every rejection is
// ErrUnauthenticated; only storage trouble surfaces differently.
func (m *SessionManager) RefreshSession(ctx context.Context, refreshToken string, deliverer RefreshTokenDeliverer) (model.TokenPair, error) {
	claims, err := m.codec.Verify(token.KindRefresh, refreshToken)
	if err != nil {
		m.audit.Record(ctx, model.AuthEventRefresh, "", "", err.Error())
		return model.TokenPair{}, model.ErrUnauthenticated
	}

	controlNumber := claims.UserID()
	version, ok := claims.Int(token.ClaimTokenVersion)
	if controlNumber == "" || !ok {
		m.audit.Record(ctx, model.AuthEventRefresh, controlNumber, "", "malformed refresh claims")
		return model.TokenPair{}, model.ErrUnauthenticated
	}

	student, err := m.store.FindByControlNumber(ctx, controlNumber)
	if errors.Is(err, model.ErrStudentNotFound) {
		m.audit.Record(ctx, model.AuthEventRefresh, controlNumber, "", "unknown student")
		return model.TokenPair{}, model.ErrUnauthenticated
	}
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	if student.TokenVersion != version {
		m.audit.Record(ctx, model.AuthEventRefresh, controlNumber, student.Email, "token version mismatch")
		return model.TokenPair{}, model.ErrUnauthenticated
	}

	pair, err := m.issue(student, deliverer)
	if err != nil {
		return model.TokenPair{}, err
	}

	m.audit.Record(ctx, model.AuthEventRefresh, controlNumber, student.Email, "")
	return pair, nil
}

// RevokeAllSessions re-checks the password and then invalidates every
// refresh token of the student. A wrong password leaves the version as is.
func (m *SessionManager) RevokeAllSessions(ctx context.Context, controlNumber string, password string) error {
	student, err := m.store.FindByControlNumber(ctx, controlNumber)
	if errors.Is(err, model.ErrStudentNotFound) {
		m.audit.Record(ctx, model.AuthEventRevoke, controlNumber, "", "unknown student")
		return model.ErrStudentNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	if !m.hasher.Verify(student.PasswordHash, password) {
		m.audit.Record(ctx, model.AuthEventRevoke, controlNumber, student.Email, "password mismatch")
		return model.ErrInvalidCredentials
	}

	if err := m.revoke(ctx, controlNumber); err != nil {
		m.audit.Record(ctx, model.AuthEventRevoke, controlNumber, student.Email, err.Error())
		return err
	}

	m.audit.Record(ctx, model.AuthEventRevoke, controlNumber, student.Email, "")
	return nil
}

func (m *SessionManager) revoke(ctx context.Context, controlNumber string) error {
	version, err := m.store.IncrementTokenVersion(ctx, controlNumber)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}
	slog.DebugContext(ctx, "sessions revoked", "control_number", controlNumber, "token_version", version)
	return nil
}

// ValidateAccessToken backs the bearer middleware.
func (m *SessionManager) ValidateAccessToken(accessToken string) (*model.AuthClaims, error) {
	claims, err := m.codec.Verify(token.KindAccess, accessToken)
	if err != nil {
		return nil, model.ErrUnauthenticated
	}
	if claims.UserID() == "" {
		return nil, model.ErrUnauthenticated
	}

	return &model.AuthClaims{
		UserID:  claims.UserID(),
		Email:   claims.Email(),
		TokenID: claims.TokenID(),
	}, nil
}

// IssueResetToken signs a reset token and persists it together with the
// expiry embedded in it.
func (m *SessionManager) IssueResetToken(ctx context.Context, student model.Student) (string, error) {
	expiresAt := m.now().UTC().Add(m.cfg.ResetPasswordTTL).Truncate(time.Second)

	resetToken, _, err := m.codec.Sign(token.KindResetPassword, map[string]any{
		token.ClaimUserID:       student.ControlNumber,
		token.ClaimEmail:        student.Email,
		token.ClaimTokenExpires: expiresAt.Unix(),
	}, m.cfg.ResetPasswordTTL)
	if err != nil {
		return "", err
	}

	if err := m.store.SetResetToken(ctx, student.ControlNumber, resetToken, expiresAt); err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	return resetToken, nil
}

// VerifyResetToken accepts a token only when the signed claims and the
// stored columns agree: same token, both expiries in the future, and the
// stored expiry no later than the one in the token.
func (m *SessionManager) VerifyResetToken(ctx context.Context, resetToken string, email string) (model.Student, error) {
	now := m.now().UTC()

	claims, err := m.codec.Verify(token.KindResetPassword, resetToken)
	if err != nil {
		return model.Student{}, m.rejectReset(ctx, "", email, err.Error())
	}

	claimExpires, ok := claims.Time(token.ClaimTokenExpires)
	if !ok || !claimExpires.After(now) {
		return model.Student{}, m.rejectReset(ctx, claims.UserID(), email, "token expiry claim missing or past")
	}
	if !strings.EqualFold(claims.Email(), strings.TrimSpace(email)) {
		return model.Student{}, m.rejectReset(ctx, claims.UserID(), email, "email does not match token")
	}

	student, err := m.store.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrStudentNotFound) {
		return model.Student{}, m.rejectReset(ctx, claims.UserID(), email, "unknown student")
	}
	if err != nil {
		return model.Student{}, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	switch {
	case student.ControlNumber != claims.UserID():
		return model.Student{}, m.rejectReset(ctx, student.ControlNumber, email, "token issued for another student")
	case student.ResetPasswordToken == "" ||
		subtle.ConstantTimeCompare([]byte(student.ResetPasswordToken), []byte(strings.TrimSpace(resetToken))) != 1:
		return model.Student{}, m.rejectReset(ctx, student.ControlNumber, email, "token not on record")
	case student.ResetTokenExpires == nil || !student.ResetTokenExpires.After(now):
		return model.Student{}, m.rejectReset(ctx, student.ControlNumber, email, "stored expiry missing or past")
	case student.ResetTokenExpires.After(claimExpires):
		return model.Student{}, m.rejectReset(ctx, student.ControlNumber, email, "stored expiry later than token expiry")
	}

	return student, nil
}

func (m *SessionManager) rejectReset(ctx context.Context, controlNumber string, email string, reason string) error {
	m.audit.Record(ctx, model.AuthEventResetChecked, controlNumber, email, reason)
	return model.ErrInvalidToken
}

// ConsumeResetToken sets a new password. Sessions are revoked first; if that
// fails the password stays unchanged. The write itself only succeeds while
// the token is still on record, so concurrent consumes of one token leave a
// single winner.
func (m *SessionManager) ConsumeResetToken(ctx context.Context, resetToken string, email string, newPassword string) (model.Student, error) {
	if strings.TrimSpace(newPassword) == "" {
		return model.Student{}, fmt.Errorf("%w: new password is required", model.ErrInvalidInput)
	}

	student, err := m.VerifyResetToken(ctx, resetToken, email)
	if err != nil {
		return model.Student{}, err
	}

	hashed, err := m.hasher.Hash(newPassword)
	if err != nil {
		return model.Student{}, fmt.Errorf("hash password: %w", err)
	}

	if err := m.revoke(ctx, student.ControlNumber); err != nil {
		m.audit.Record(ctx, model.AuthEventReset, student.ControlNumber, student.Email, err.Error())
		return model.Student{}, err
	}

	err = m.store.UpdatePassword(ctx, student.ControlNumber, hashed, strings.TrimSpace(resetToken), m.now().UTC())
	if errors.Is(err, model.ErrInvalidToken) {
		m.audit.Record(ctx, model.AuthEventReset, student.ControlNumber, student.Email, "reset token already consumed")
		return model.Student{}, model.ErrInvalidToken
	}
	if err != nil {
		m.audit.Record(ctx, model.AuthEventReset, student.ControlNumber, student.Email, err.Error())
		return model.Student{}, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	m.audit.Record(ctx, model.AuthEventReset, student.ControlNumber, student.Email, "")
	return student, nil
}

func (m *SessionManager) issue(student model.Student, deliverer RefreshTokenDeliverer) (model.TokenPair, error) {
	accessToken, _, err := m.codec.Sign(token.KindAccess, map[string]any{
		token.ClaimUserID: student.ControlNumber,
		token.ClaimEmail:  student.Email,
	}, m.cfg.AccessTTL)
	if err != nil {
		return model.TokenPair{}, err
	}

	refreshToken, refreshExpires, err := m.codec.Sign(token.KindRefresh, map[string]any{
		token.ClaimUserID:       student.ControlNumber,
		token.ClaimEmail:        student.Email,
		token.ClaimTokenVersion: student.TokenVersion,
	}, m.cfg.RefreshTTL)
	if err != nil {
		return model.TokenPair{}, err
	}

	if deliverer != nil {
		deliverer.DeliverRefreshToken(refreshToken, refreshExpires)
	}

	return model.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpires,
		TokenType:        "Bearer",
		ExpiresIn:        int64(m.cfg.AccessTTL.Seconds()),
	}, nil
}
