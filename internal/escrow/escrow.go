// Package escrow derives listing escrow addresses and the capability that
// authorizes transfers out of them.
//
// An escrow address has no private key. The only way to move value out of a
// holding or currency account owned by one is an Authority value, which is
// produced by Derive inside a listing transition and never leaves it.
package escrow

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Kind namespaces escrow addresses per listing type.
type Kind string

const (
	KindAuction  Kind = "auction"
	KindExchange Kind = "exchange"
)

// Prefix marks every escrow address.
const Prefix = "escrow:"

// Address returns the deterministic escrow address of a seller's listing.
// Two sellers reusing one listing id get different escrows.
func Address(kind Kind, seller, listingID string) string {
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + seller + "\x00" + listingID))
	return Prefix + hex.EncodeToString(sum[:20])
}

// IsAddress reports whether addr is an escrow address.
func IsAddress(addr string) bool {
	return strings.HasPrefix(addr, Prefix)
}

// Authority authorizes exactly one escrow address.
type Authority struct {
	addr string
}

// Derive returns the escrow address of a listing together with its authority.
func Derive(kind Kind, seller, listingID string) (string, Authority) {
	addr := Address(kind, seller, listingID)
	return addr, Authority{addr: addr}
}

// Authorizes implements auth.Authorizer.
func (a Authority) Authorizes(addr string) bool {
	return a.addr != "" && addr == a.addr
}

// Principal implements auth.Authorizer.
func (a Authority) Principal() string {
	return a.addr
}

// String hides nothing secret but keeps log lines readable.
func (a Authority) String() string {
	return "escrow-authority(" + a.addr + ")"
}
