package tests

import (
	"context"
	"testing"
	"time"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/bus/adapters/jwtcodec"
	"github.com/stretchr/testify/suite"
)

// PrincipalSuite exercises the multi-valued claim map and ambient-context
// propagation underlying identity capture and restore.
type PrincipalSuite struct {
	suite.Suite
}

func (s *PrincipalSuite) TestMultipleValuesForSameClaimNameRoundTrip() {
	p := bus.NewPrincipal().
		AddClaim("role", "user").
		AddClaim("role", "staff")

	s.ElementsMatch([]string{"user", "staff"}, p.Claims("role"))
	s.True(p.HasClaim("role", "user"))
	s.True(p.HasClaim("role", "staff"))
	s.False(p.HasClaim("role", "admin"))
}

func (s *PrincipalSuite) TestClaimReturnsFirstValue() {
	p := bus.NewPrincipal().AddClaim("role", "user").AddClaim("role", "staff")
	v, ok := p.Claim("role")
	s.True(ok)
	s.Equal("user", v)
}

func (s *PrincipalSuite) TestClaimNameLookupIsCaseInsensitive() {
	p := bus.NewPrincipal().AddClaim("Role", "user")
	s.True(p.HasClaim("role", "user"))
}

func (s *PrincipalSuite) TestNilPrincipalIsSafeToQuery() {
	var p *bus.Principal
	s.Empty(p.Claims("role"))
	s.Empty(p.Names())
}

func (s *PrincipalSuite) TestPrincipalFromContextAbsentByDefault() {
	_, ok := bus.PrincipalFromContext(context.Background())
	s.False(ok)
}

func TestPrincipalSuite(t *testing.T) {
	suite.Run(t, new(PrincipalSuite))
}

// JWTCodecSuite exercises the HMAC-signed TokenCodec adapter.
type JWTCodecSuite struct {
	suite.Suite
	ctx   context.Context
	codec *jwtcodec.Codec
}

func (s *JWTCodecSuite) SetupTest() {
	s.ctx = context.Background()
	s.codec = jwtcodec.New(jwtcodec.Config{
		Secret:     "jwtcodec-suite-secret",
		Expiration: time.Hour,
		Issuer:     "busline-tests",
	})
}

func (s *JWTCodecSuite) TestCaptureThenRestoreRoundTripsEveryClaim() {
	p := bus.NewPrincipal().
		AddClaim("name", "test@example.com").
		AddClaim("role", "user").
		AddClaim("role", "staff")

	token, err := s.codec.Capture(s.ctx, p)
	s.Require().NoError(err)
	s.NotEmpty(token)

	restored, err := s.codec.Restore(s.ctx, token)
	s.Require().NoError(err)
	s.True(restored.HasClaim("name", "test@example.com"))
	s.True(restored.HasClaim("role", "user"))
	s.True(restored.HasClaim("role", "staff"))
}

func (s *JWTCodecSuite) TestRestoreRejectsTokenSignedWithDifferentSecret() {
	other := jwtcodec.New(jwtcodec.Config{Secret: "a-different-secret", Expiration: time.Hour, Issuer: "busline-tests"})
	token, err := other.Capture(s.ctx, bus.NewPrincipal().AddClaim("role", "user"))
	s.Require().NoError(err)

	_, err = s.codec.Restore(s.ctx, token)
	s.Error(err)
}

func (s *JWTCodecSuite) TestCaptureNilPrincipalReturnsEmptyToken() {
	token, err := s.codec.Capture(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(token)
}

func TestJWTCodecSuite(t *testing.T) {
	suite.Run(t, new(JWTCodecSuite))
}
