package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Identity is what a verified access token says about its bearer.
type Identity struct {
	UserID string
	Roles  []string
}

// Config configures the verifier. Tokens are issued by the account service
// with the same shared secret.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// Verifier checks HS256 access tokens.
type Verifier struct {
	secret    []byte
	validator TokenValidator
	now       func() time.Time
}

// NewVerifier constructs a Verifier with defaults for issuer and audience.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-toko"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "toko-frontend"
	}
	return &Verifier{
		secret: []byte(secret),
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: max(cfg.ClockSkew, 0),
			Algorithm: jwa.HS256,
		},
		now: time.Now,
	}, nil
}

// WithNow allows tests to override the time provider.
func (v *Verifier) WithNow(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// ParseAccessToken verifies token and returns the bearer's identity.
func (v *Verifier) ParseAccessToken(token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, unauthorized("missing token", nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Identity{}, unauthorized("invalid token", err)
	}
	if algorithm != v.validator.Algorithm {
		return Identity{}, unauthorized("invalid token", fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.secret), jwt.WithValidate(false))
	if err != nil {
		return Identity{}, unauthorized("invalid token", err)
	}
	if err := v.validator.Validate(parsed, algorithm, v.now()); err != nil {
		return Identity{}, unauthorized("invalid token", err)
	}
	return Identity{UserID: parsed.Subject(), Roles: rolesClaim(parsed)}, nil
}

func rolesClaim(tok jwt.Token) []string {
	raw, ok := tok.Get("roles")
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		roles := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	case string:
		return strings.Fields(v)
	}
	return nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: expected exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	if alg == "" || alg == jwa.NoSignature {
		return "", errors.New("auth: token missing algorithm")
	}
	return alg, nil
}

func unauthorized(msg string, err error) *common.AppError {
	return common.NewAppError(common.CodeUnauthorized, msg, http.StatusUnauthorized, err)
}
