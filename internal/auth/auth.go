// Package auth carries the caller's capabilities into every ledger and
// listing call. Signature verification happens upstream (the gateway); this
// package only answers "did the caller sign for address X".
package auth

import (
	"sort"
	"strings"

	"github.com/atmx/escrow-engine/internal/escrow"
)

// Authorizer decides whether a call may act for an address.
type Authorizer interface {
	Authorizes(addr string) bool
	// Principal names the actor for logs and events.
	Principal() string
}

// Context is the set of addresses that signed the current call.
type Context struct {
	signers map[string]struct{}
	first   string
}

// NewContext builds a caller context. Escrow addresses are dropped: no
// external key can sign for them.
func NewContext(signers ...string) Context {
	c := Context{signers: make(map[string]struct{}, len(signers))}
	for _, s := range signers {
		s = strings.TrimSpace(s)
		if s == "" || escrow.IsAddress(s) {
			continue
		}
		if c.first == "" {
			c.first = s
		}
		c.signers[s] = struct{}{}
	}
	return c
}

// FromHeader parses a comma separated signer list.
func FromHeader(v string) Context {
	return NewContext(strings.Split(v, ",")...)
}

// Authorizes reports whether addr signed the call.
func (c Context) Authorizes(addr string) bool {
	_, ok := c.signers[addr]
	return ok
}

// Principal returns the first signer.
func (c Context) Principal() string {
	return c.first
}

// Signers returns the signer set sorted.
func (c Context) Signers() []string {
	out := make([]string, 0, len(c.signers))
	for s := range c.signers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
