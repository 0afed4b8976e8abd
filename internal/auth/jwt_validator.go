package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	ErrNilToken          = errors.New("auth: nil token")
	ErrAlgorithmMismatch = errors.New("auth: signing algorithm not accepted")
	ErrBlankSubject      = errors.New("auth: blank subject")
)

// TokenValidator checks the registered claims of an already verified token.
// Subject and expiry are always required; an empty Issuer or Audience skips
// that check.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
}

func (v TokenValidator) options(now time.Time) []jwt.ValidateOption {
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(v.ClockSkew),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	return opts
}

// Validate rejects tokens signed with another algorithm than the configured
// one, then checks the claims against now.
func (v TokenValidator) Validate(tok jwt.Token, alg jwa.SignatureAlgorithm, now time.Time) error {
	switch {
	case tok == nil:
		return ErrNilToken
	case alg == "", v.Algorithm != "" && alg != v.Algorithm:
		return fmt.Errorf("%w: %q", ErrAlgorithmMismatch, alg)
	case strings.TrimSpace(tok.Subject()) == "":
		return ErrBlankSubject
	}
	if err := jwt.Validate(tok, v.options(now)...); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}
