// Package wire provides the JSON encoding shared by the queue adapters
// (sqlitequeue, postgresqueue, mongoqueue, kafkaqueue) for the two bus types
// that don't map cleanly onto scalar columns: Headers and Principal.
package wire

import (
	"encoding/json"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/errors"
)

type headerPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MarshalHeaders encodes h preserving insertion order, since bus.Headers
// itself has no exported field a plain json.Marshal could walk.
func MarshalHeaders(h *bus.Headers) (string, error) {
	if h == nil {
		h = bus.NewHeaders()
	}
	pairs := make([]headerPair, 0, len(h.Names()))
	for _, name := range h.Names() {
		v, _ := h.Get(name)
		pairs = append(pairs, headerPair{Name: name, Value: v})
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal headers")
	}
	return string(b), nil
}

// UnmarshalHeaders decodes the output of MarshalHeaders.
func UnmarshalHeaders(data string) (*bus.Headers, error) {
	h := bus.NewHeaders()
	if data == "" {
		return h, nil
	}
	var pairs []headerPair
	if err := json.Unmarshal([]byte(data), &pairs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal headers")
	}
	for _, p := range pairs {
		h.Set(p.Name, p.Value)
	}
	return h, nil
}

type claimPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MarshalPrincipal encodes p's claims preserving order and multi-valued
// names. A nil principal encodes as an empty list.
func MarshalPrincipal(p *bus.Principal) (string, error) {
	var pairs []claimPair
	if p != nil {
		for _, name := range p.Names() {
			for _, v := range p.Claims(name) {
				pairs = append(pairs, claimPair{Name: name, Value: v})
			}
		}
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal principal")
	}
	return string(b), nil
}

// UnmarshalPrincipal decodes the output of MarshalPrincipal. An empty or
// all-empty payload decodes to nil, matching "no principal was captured".
func UnmarshalPrincipal(data string) (*bus.Principal, error) {
	if data == "" {
		return nil, nil
	}
	var pairs []claimPair
	if err := json.Unmarshal([]byte(data), &pairs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal principal")
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	p := bus.NewPrincipal()
	for _, c := range pairs {
		p.AddClaim(c.Name, c.Value)
	}
	return p, nil
}
