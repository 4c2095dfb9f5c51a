package tests

import (
	"net/url"
	"testing"
	"time"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/stretchr/testify/suite"
)

// HeadersSuite exercises the typed header accessors and the case-insensitive,
// ordered map underneath them.
type HeadersSuite struct {
	suite.Suite
}

func (s *HeadersSuite) TestSetGetIsCaseInsensitive() {
	h := bus.NewHeaders()
	h.Set("Content-Type", "application/json")

	v, ok := h.Get("content-type")
	s.True(ok)
	s.Equal("application/json", v)
}

func (s *HeadersSuite) TestNamesPreservesInsertionOrder() {
	h := bus.NewHeaders()
	h.Set("Topic", "orders")
	h.Set("Content-Type", "application/json")
	h.Set("Importance", "High")

	s.Equal([]string{"topic", "content-type", "importance"}, h.Names())
}

func (s *HeadersSuite) TestDelRemovesFromOrderAndValues() {
	h := bus.NewHeaders()
	h.Set("Topic", "orders")
	h.Del("Topic")

	_, ok := h.Get("Topic")
	s.False(ok)
	s.Empty(h.Names())
}

func (s *HeadersSuite) TestOriginationDestinationReplyToRoundTrip() {
	h := bus.NewHeaders()
	origin, _ := url.Parse("queue://service-a/orders")
	dest, _ := url.Parse("queue://service-b/inbox")
	reply, _ := url.Parse("queue://service-a/replies")

	h.SetOrigination(origin)
	h.SetDestination(dest)
	h.SetReplyTo(reply)

	got, ok := h.Origination()
	s.True(ok)
	s.Equal(origin.String(), got.String())

	got, ok = h.Destination()
	s.True(ok)
	s.Equal(dest.String(), got.String())

	got, ok = h.ReplyTo()
	s.True(ok)
	s.Equal(reply.String(), got.String())
}

func (s *HeadersSuite) TestImportanceDefaultsToNormal() {
	h := bus.NewHeaders()
	s.Equal(bus.ImportanceNormal, h.Importance())

	h.SetImportance(bus.ImportanceCritical)
	s.Equal(bus.ImportanceCritical, h.Importance())
}

func (s *HeadersSuite) TestExpiresAndSentRoundTripAsUTC() {
	h := bus.NewHeaders()
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("UTC+2", 2*60*60))
	h.SetExpires(t)
	h.SetSent(t)

	gotExpires, ok := h.Expires()
	s.True(ok)
	s.True(gotExpires.Equal(t))
	s.Equal(time.UTC, gotExpires.Location())

	gotSent, ok := h.Sent()
	s.True(ok)
	s.True(gotSent.Equal(t))
}

func (s *HeadersSuite) TestCloneIsIndependent() {
	h := bus.NewHeaders()
	h.Set("Topic", "orders")
	clone := h.Clone()
	clone.Set("Topic", "billing")

	v, _ := h.Get("Topic")
	s.Equal("orders", v)
	cv, _ := clone.Get("Topic")
	s.Equal("billing", cv)
}

func TestHeadersSuite(t *testing.T) {
	suite.Run(t, new(HeadersSuite))
}

// MessageSuite exercises Message construction, expiry, and the
// security-token-insensitive equality.
type MessageSuite struct {
	suite.Suite
}

func (s *MessageSuite) TestNewMessageSetsMessageIDHeader() {
	m := bus.NewMessage([]byte("hello"))
	id, ok := m.Headers.MessageID()
	s.True(ok)
	s.Equal(m.ID, id)
}

func (s *MessageSuite) TestIsExpiredWithNoExpiresHeaderNeverExpires() {
	m := bus.NewMessage(nil)
	s.False(m.IsExpired(time.Now().Add(100 * 365 * 24 * time.Hour)))
}

func (s *MessageSuite) TestIsExpiredPastDeadline() {
	m := bus.NewMessage(nil)
	m.Headers.SetExpires(time.Now().Add(-time.Minute))
	s.True(m.IsExpired(time.Now()))
}

func (s *MessageSuite) TestEqualExceptSecurityTokenIgnoresToken() {
	m1 := bus.NewMessage([]byte("payload"))
	m2 := &bus.Message{ID: m1.ID, Content: m1.Content, Headers: m1.Headers.Clone()}
	m2.Headers.SetSecurityToken("some-opaque-token")

	s.True(m1.EqualExceptSecurityToken(m2))
}

func (s *MessageSuite) TestEqualExceptSecurityTokenCatchesOtherDifferences() {
	m1 := bus.NewMessage([]byte("payload"))
	m2 := &bus.Message{ID: m1.ID, Content: []byte("different"), Headers: m1.Headers.Clone()}

	s.False(m1.EqualExceptSecurityToken(m2))
}

func TestMessageSuite(t *testing.T) {
	suite.Run(t, new(MessageSuite))
}
