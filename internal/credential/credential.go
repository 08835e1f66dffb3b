// Package credential hashes and verifies student passwords.
//
// New hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Verify also accepts bcrypt hashes ($2a$, $2b$, $2y$) so records imported
// from older systems keep working until the student changes the password.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const argon2Version = argon2.Version

var ErrEmptySecret = errors.New("secret must not be empty")

type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultParams() Params {
	return Params{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type Hasher struct {
	params Params
}

// NewHasher fills zero fields from DefaultParams and raises values below
// the Argon2 minimums.
func NewHasher(params Params) *Hasher {
	defaults := DefaultParams()
	if params.MemoryKiB == 0 {
		params.MemoryKiB = defaults.MemoryKiB
	}
	if params.Iterations == 0 {
		params.Iterations = defaults.Iterations
	}
	if params.Parallelism == 0 {
		params.Parallelism = defaults.Parallelism
	}
	if params.SaltLength < 8 {
		params.SaltLength = defaults.SaltLength
	}
	if params.KeyLength < 16 {
		params.KeyLength = defaults.KeyLength
	}
	if params.MemoryKiB < 8*uint32(params.Parallelism) {
		params.MemoryKiB = 8 * uint32(params.Parallelism)
	}

	return &Hasher{params: params}
}

func (h *Hasher) Params() Params {
	return h.params
}

func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches hashed. Malformed or unsupported
// hashes, and hashes whose cost exceeds twice the configured parameters,
// simply do not match.
func (h *Hasher) Verify(hashed string, secret string) bool {
	if strings.HasPrefix(hashed, "$2a$") || strings.HasPrefix(hashed, "$2b$") || strings.HasPrefix(hashed, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret)) == nil
	}

	params, salt, expected, ok := decode(hashed)
	if !ok || !h.withinBounds(params) {
		return false
	}

	key := argon2.IDKey([]byte(secret), salt, params.Iterations, params.MemoryKiB, params.Parallelism, params.KeyLength)

	return subtle.ConstantTimeCompare(key, expected) == 1
}

// NeedsRehash is true for bcrypt hashes and Argon2 hashes made with
// different parameters than the current ones.
func (h *Hasher) NeedsRehash(hashed string) bool {
	params, _, _, ok := decode(hashed)
	if !ok {
		return true
	}
	return params.MemoryKiB != h.params.MemoryKiB ||
		params.Iterations != h.params.Iterations ||
		params.Parallelism != h.params.Parallelism ||
		params.KeyLength != h.params.KeyLength
}

func (h *Hasher) withinBounds(got Params) bool {
	if got.MemoryKiB > h.params.MemoryKiB*2 {
		return false
	}
	if got.Iterations > h.params.Iterations*2 {
		return false
	}
	if uint32(got.Parallelism) > uint32(h.params.Parallelism)*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

func decode(encoded string) (Params, []byte, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, false
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return Params{}, nil, nil, false
	}

	var mem, iterations, parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iterations, &parallelism); err != nil {
		return Params{}, nil, nil, false
	}
	if mem == 0 || iterations == 0 || parallelism == 0 || parallelism > 255 {
		return Params{}, nil, nil, false
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, false
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, false
	}

	return Params{
		MemoryKiB:   mem,
		Iterations:  iterations,
		Parallelism: uint8(parallelism),
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}, salt, key, true
}
