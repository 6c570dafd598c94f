package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Verification failures. Callers must treat all three the same way
// (reject) and may only use the distinction for logging.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
)

const (
	PurposeSubmission = "submission"
	PurposeReset      = "password-reset"

	// ResetTTL is the fixed lifetime of password-reset tokens.
	ResetTTL = 30 * time.Minute
)

// SubmissionClaims identifies one member's submission for one cycle. It
// expires when the cycle closes, so the expiry is supplied by the caller.
type SubmissionClaims struct {
	SubmissionID string `json:"sid"`
}

// ResetClaims identifies a password-reset request.
type ResetClaims struct {
	ResetID string `json:"rid"`
}

type envelope[C any] struct {
	Claims C `json:"c"`
	jwt.RegisteredClaims
}

// Codec signs and verifies claims of type C with HMAC-SHA256. Each purpose
// gets its own key derived from the shared secret, so a token minted for one
// purpose never verifies under another.
type Codec[C any] struct {
	key     []byte
	purpose string
	now     func() time.Time
}

// NewCodec derives a purpose-bound signing key from secret.
func NewCodec[C any](secret []byte, purpose string) (*Codec[C], error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret is empty")
	}
	if purpose == "" {
		return nil, fmt.Errorf("token purpose is empty")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("teambeat/"+purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}

	return &Codec[C]{key: key, purpose: purpose, now: time.Now}, nil
}

// NewSubmissionCodec returns the codec used for collection links.
func NewSubmissionCodec(secret []byte) (*Codec[SubmissionClaims], error) {
	return NewCodec[SubmissionClaims](secret, PurposeSubmission)
}

// NewResetCodec returns the codec used for password-reset links.
func NewResetCodec(secret []byte) (*Codec[ResetClaims], error) {
	return NewCodec[ResetClaims](secret, PurposeReset)
}

// WithClock replaces the codec's time source. It returns the codec for chaining.
func (c *Codec[C]) WithClock(now func() time.Time) *Codec[C] {
	c.now = now
	return c
}

// Issue signs claims with the given expiry.
func (c *Codec[C]) Issue(claims C, expiresAt time.Time) (string, error) {
	env := envelope[C]{
		Claims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{c.purpose},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(c.now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, env).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", c.purpose, err)
	}
	return signed, nil
}

// IssueTTL signs claims that expire ttl from now.
func (c *Codec[C]) IssueTTL(claims C, ttl time.Duration) (string, error) {
	return c.Issue(claims, c.now().Add(ttl))
}

// Verify checks the signature and expiry of tok and returns its claims.
// A token is expired once the current time reaches its expiry.
func (c *Codec[C]) Verify(tok string) (C, error) {
	var env envelope[C]
	_, err := jwt.ParseWithClaims(tok, &env, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(c.purpose),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		var zero C
		return zero, classify(err)
	}
	return env.Claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Reason returns a short log label for a verification error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}
