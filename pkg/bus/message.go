package bus

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known header names. Names are matched case-insensitively, so these
// display-cased constants find the lower-cased keys Headers.Set stores.
const (
	HeaderMessageID     = "Message-Id"
	HeaderMessageName   = "Message-Name"
	HeaderContentType   = "Content-Type"
	HeaderOrigination   = "Origination"
	HeaderDestination   = "Destination"
	HeaderReplyTo       = "Reply-To"
	HeaderRelatedTo     = "Related-To"
	HeaderTopic         = "Topic"
	HeaderImportance    = "Importance"
	HeaderExpires       = "Expires"
	HeaderSent          = "Sent"
	HeaderSecurityToken = "Security-Token"
)

// Importance is the priority a message carries.
type Importance int

const (
	ImportanceLow Importance = iota
	ImportanceNormal
	ImportanceHigh
	ImportanceCritical
)

func (i Importance) String() string {
	switch i {
	case ImportanceLow:
		return "Low"
	case ImportanceHigh:
		return "High"
	case ImportanceCritical:
		return "Critical"
	default:
		return "Normal"
	}
}

// ParseImportance parses the string form of Importance, defaulting to Normal
// for unrecognized values.
func ParseImportance(s string) Importance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return ImportanceLow
	case "high":
		return ImportanceHigh
	case "critical":
		return ImportanceCritical
	default:
		return ImportanceNormal
	}
}

// Headers is an ordered, case-insensitive mapping from header name to value.
// Insertion order is preserved for Names(); lookups and Set are case-insensitive,
// and every name is stored (and returned by Names) trimmed and lower-cased.
type Headers struct {
	values map[string]string
	order  []string
}

// NewHeaders returns an empty header set.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

func canonicalHeaderKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Set assigns value to name, preserving the first-seen insertion order.
func (h *Headers) Set(name, value string) {
	key := canonicalHeaderKey(name)
	if _, exists := h.values[key]; !exists {
		h.order = append(h.order, key)
	}
	h.values[key] = value
}

// Get returns the value for name and whether it was present.
func (h *Headers) Get(name string) (string, bool) {
	v, ok := h.values[canonicalHeaderKey(name)]
	return v, ok
}

// Del removes name from the header set.
func (h *Headers) Del(name string) {
	key := canonicalHeaderKey(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Names returns header names in insertion order.
func (h *Headers) Names() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Clone returns a deep copy of the header set.
func (h *Headers) Clone() *Headers {
	c := NewHeaders()
	for _, name := range h.Names() {
		v, _ := h.Get(name)
		c.Set(name, v)
	}
	return c
}

func (h *Headers) MessageID() (uuid.UUID, bool) {
	v, ok := h.Get(HeaderMessageID)
	if !ok {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(v)
	return id, err == nil
}

func (h *Headers) SetMessageID(id uuid.UUID) { h.Set(HeaderMessageID, id.String()) }

func (h *Headers) MessageName() (string, bool) { return h.Get(HeaderMessageName) }
func (h *Headers) SetMessageName(name string)  { h.Set(HeaderMessageName, name) }

func (h *Headers) ContentType() (string, bool) { return h.Get(HeaderContentType) }
func (h *Headers) SetContentType(ct string)    { h.Set(HeaderContentType, ct) }

func (h *Headers) Origination() (*url.URL, bool) { return h.urlHeader(HeaderOrigination) }
func (h *Headers) SetOrigination(u *url.URL)     { h.Set(HeaderOrigination, u.String()) }

func (h *Headers) Destination() (*url.URL, bool) { return h.urlHeader(HeaderDestination) }
func (h *Headers) SetDestination(u *url.URL)     { h.Set(HeaderDestination, u.String()) }

func (h *Headers) ReplyTo() (*url.URL, bool) { return h.urlHeader(HeaderReplyTo) }
func (h *Headers) SetReplyTo(u *url.URL)     { h.Set(HeaderReplyTo, u.String()) }

func (h *Headers) urlHeader(name string) (*url.URL, bool) {
	v, ok := h.Get(name)
	if !ok {
		return nil, false
	}
	u, err := url.Parse(v)
	if err != nil {
		return nil, false
	}
	return u, true
}

func (h *Headers) RelatedTo() (uuid.UUID, bool) {
	v, ok := h.Get(HeaderRelatedTo)
	if !ok {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(v)
	return id, err == nil
}
func (h *Headers) SetRelatedTo(id uuid.UUID) { h.Set(HeaderRelatedTo, id.String()) }

func (h *Headers) Topic() (string, bool)  { return h.Get(HeaderTopic) }
func (h *Headers) SetTopic(topic string)  { h.Set(HeaderTopic, topic) }

func (h *Headers) Importance() Importance {
	v, ok := h.Get(HeaderImportance)
	if !ok {
		return ImportanceNormal
	}
	return ParseImportance(v)
}
func (h *Headers) SetImportance(i Importance) { h.Set(HeaderImportance, i.String()) }

func (h *Headers) Expires() (time.Time, bool) { return h.timeHeader(HeaderExpires) }
func (h *Headers) SetExpires(t time.Time)     { h.Set(HeaderExpires, t.UTC().Format(time.RFC3339Nano)) }

func (h *Headers) Sent() (time.Time, bool) { return h.timeHeader(HeaderSent) }
func (h *Headers) SetSent(t time.Time)     { h.Set(HeaderSent, t.UTC().Format(time.RFC3339Nano)) }

func (h *Headers) timeHeader(name string) (time.Time, bool) {
	v, ok := h.Get(name)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func (h *Headers) SecurityToken() (string, bool)  { return h.Get(HeaderSecurityToken) }
func (h *Headers) SetSecurityToken(token string)  { h.Set(HeaderSecurityToken, token) }

// equalExceptSecurityToken reports whether two header sets carry the same
// values on every header except Security-Token. Used to decide whether a
// listener observed "the same message" modulo the identity token added at
// enqueue time.
func (h *Headers) equalExceptSecurityToken(other *Headers) bool {
	if h == nil || other == nil {
		return h == other
	}
	names := map[string]struct{}{}
	for _, n := range h.Names() {
		names[n] = struct{}{}
	}
	for _, n := range other.Names() {
		names[n] = struct{}{}
	}
	for n := range names {
		if canonicalHeaderKey(n) == canonicalHeaderKey(HeaderSecurityToken) {
			continue
		}
		a, aok := h.Get(n)
		b, bok := other.Get(n)
		if aok != bok || a != b {
			return false
		}
	}
	return true
}

// EqualExceptSecurityToken reports whether two messages carry the same ID,
// content and headers, ignoring the Security-Token header.
func (m *Message) EqualExceptSecurityToken(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.ID == other.ID &&
		string(m.Content) == string(other.Content) &&
		m.Headers.equalExceptSecurityToken(other.Headers)
}

// Message is the canonical envelope carried through the bus: an identifier,
// a set of headers, and an opaque payload. Interpretation of Content is the
// application's concern.
type Message struct {
	ID      uuid.UUID
	Headers *Headers
	Content []byte
}

// NewMessage builds a Message with a fresh identifier, recorded both on the
// struct and in its Message-Id header.
func NewMessage(content []byte) *Message {
	id := uuid.New()
	h := NewHeaders()
	h.SetMessageID(id)
	return &Message{ID: id, Headers: h, Content: content}
}

// IsExpired reports whether the message's Expires header, if set, is in the
// past relative to now. A message with no Expires header never expires.
func (m *Message) IsExpired(now time.Time) bool {
	exp, ok := m.Headers.Expires()
	if !ok {
		return false
	}
	return now.After(exp)
}
