// Package jwtcodec implements pkg/bus's TokenCodec as a compact
// HMAC-SHA256-signed JWT carrying a principal's ordered, multi-valued
// claims.
package jwtcodec

import (
	"context"
	"time"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Config configures the HMAC signing used to capture and restore principals.
type Config struct {
	// Secret is the shared HMAC-SHA256 signing key. Required.
	Secret string `env:"BUS_TOKEN_SECRET" validate:"required"`

	// Expiration bounds how long a captured token remains restorable.
	Expiration time.Duration `env:"BUS_TOKEN_EXPIRATION" env-default:"24h"`

	// Issuer is recorded in the token's iss claim.
	Issuer string `env:"BUS_TOKEN_ISSUER" env-default:"busline"`
}

// Codec implements bus.TokenCodec using HS256-signed JWTs.
type Codec struct {
	cfg Config
}

// New builds a Codec from cfg.
func New(cfg Config) *Codec {
	return &Codec{cfg: cfg}
}

type principalClaims struct {
	Names  []string            `json:"names"`
	Values map[string][]string `json:"values"`
	jwt.RegisteredClaims
}

// Capture encodes p's claims into a signed token.
func (c *Codec) Capture(ctx context.Context, p *bus.Principal) (string, error) {
	if p == nil {
		return "", nil
	}

	names := p.Names()
	values := make(map[string][]string, len(names))
	for _, n := range names {
		values[n] = p.Claims(n)
	}

	now := time.Now()
	claims := principalClaims{
		Names:  names,
		Values: values,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.Expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.cfg.Secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign security token")
	}
	return signed, nil
}

// Restore decodes and verifies token, returning the captured Principal.
func (c *Codec) Restore(ctx context.Context, token string) (*bus.Principal, error) {
	if token == "" {
		return nil, nil
	}

	var claims principalClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidArgument("unexpected signing method", nil)
		}
		return []byte(c.cfg.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.Wrap(err, "failed to verify security token")
	}

	p := bus.NewPrincipal()
	for _, name := range claims.Names {
		for _, v := range claims.Values[name] {
			p.AddClaim(name, v)
		}
	}
	return p, nil
}

var _ bus.TokenCodec = (*Codec)(nil)
