// Package token signs and verifies the self-contained HS256 tokens the
// service hands out. Every kind has its own secret; nothing is stored server
// side, so a token stays usable until it expires or, for refresh tokens, until
// the owner's token version moves on.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Kind string

const (
	KindAccess          Kind = "access"
	KindRefresh         Kind = "refresh"
	KindResetPassword   Kind = "reset_password"
	KindActivateAccount Kind = "activate_account"
)

// Claim names shared with the session layer.
const (
	ClaimUserID       = "userId"
	ClaimEmail        = "email"
	ClaimTokenVersion = "tokenVersion"
	ClaimTokenExpires = "tokenExpires"
	claimType         = "typ"
)

var (
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
	ErrUnknownKind      = errors.New("unknown token kind")
)

// SigningConfig holds one secret per token kind.
type SigningConfig struct {
	AccessSecret          string
	RefreshSecret         string
	ResetPasswordSecret   string
	ActivateAccountSecret string
}

// Validate requires four non-empty secrets that differ from each other, so a
// token of one kind can never verify as another.
func (c SigningConfig) Validate() error {
	secrets := map[Kind]string{
		KindAccess:          c.AccessSecret,
		KindRefresh:         c.RefreshSecret,
		KindResetPassword:   c.ResetPasswordSecret,
		KindActivateAccount: c.ActivateAccountSecret,
	}

	seen := make(map[string]Kind, len(secrets))
	for kind, secret := range secrets {
		if strings.TrimSpace(secret) == "" {
			return fmt.Errorf("%s token secret is required", kind)
		}
		if other, dup := seen[secret]; dup {
			return fmt.Errorf("%s and %s token secrets must differ", other, kind)
		}
		seen[secret] = kind
	}

	return nil
}

type Codec struct {
	secrets map[Kind][]byte
	now     func() time.Time
}

func NewCodec(cfg SigningConfig) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Codec{
		secrets: map[Kind][]byte{
			KindAccess:          []byte(cfg.AccessSecret),
			KindRefresh:         []byte(cfg.RefreshSecret),
			KindResetPassword:   []byte(cfg.ResetPasswordSecret),
			KindActivateAccount: []byte(cfg.ActivateAccountSecret),
		},
		now: time.Now,
	}, nil
}

// WithClock returns a copy of the codec that reads time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{secrets: c.secrets, now: now}
}

// Sign binds claims, an issue time and an expiry of now+ttl to the secret of
// kind. A fresh jti makes two tokens with identical claims distinct.
func (c *Codec) Sign(kind Kind, claims map[string]any, ttl time.Duration) (string, time.Time, error) {
	secret, ok := c.secrets[kind]
	if !ok {
		return "", time.Time{}, ErrUnknownKind
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("sign %s token: ttl must be positive", kind)
	}

	now := c.now().UTC()
	expiresAt := now.Add(ttl)

	mapClaims := jwt.MapClaims{}
	for key, value := range claims {
		mapClaims[key] = value
	}
	mapClaims[claimType] = string(kind)
	mapClaims["jti"] = uuid.NewString()
	mapClaims["iat"] = now.Unix()
	mapClaims["exp"] = expiresAt.Unix()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return signed, time.Unix(expiresAt.Unix(), 0).UTC(), nil
}

// Verify checks signature, algorithm, kind and expiry. It fails with
// ErrExpired for a correctly signed but stale token and ErrInvalidSignature
// for everything else.
func (c *Codec) Verify(kind Kind, tokenString string) (Claims, error) {
	secret, ok := c.secrets[kind]
	if !ok {
		return nil, ErrUnknownKind
	}

	parsed, err := jwt.Parse(strings.TrimSpace(tokenString), func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSignature
	}

	if typ, _ := mapClaims[claimType].(string); typ != string(kind) {
		return nil, ErrInvalidSignature
	}

	return Claims(mapClaims), nil
}
