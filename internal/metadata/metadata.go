// Package metadata validates the opaque metadata attached to an asset at
// creation. Metadata is usually a content URI (ipfs://, ar://, https://)
// pointing at the item the shares represent.
package metadata

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/atmx/escrow-engine/internal/fault"
)

// MaxLen is the fixed metadata slot size of an asset record.
const MaxLen = 128

// Supported URI schemes.
const (
	SchemeIPFS  = "ipfs"
	SchemeAR    = "ar"
	SchemeHTTPS = "https"
	SchemeHTTP  = "http"
)

var validSchemes = map[string]bool{
	SchemeIPFS:  true,
	SchemeAR:    true,
	SchemeHTTPS: true,
	SchemeHTTP:  true,
}

// uriRegex matches: {scheme}://{location}
// Example: ipfs://ipfs/QmVLAo3EQvkkQKjLTt1dawYsehSEnwYBi19vzh85pohpuw
var uriRegex = regexp.MustCompile(`^([a-z][a-z0-9+.-]*)://(\S+)$`)

// URI is parsed metadata that carries a content location.
type URI struct {
	Scheme   string `json:"scheme"`
	Location string `json:"location"`
}

// Validate checks raw metadata. Binary metadata only has to fit the slot;
// text that looks like a URI must use a supported scheme.
func Validate(raw []byte) error {
	if len(raw) > MaxLen {
		return fmt.Errorf("%w: %d bytes (max %d)", fault.ErrInvalidMetadata, len(raw), MaxLen)
	}
	if !utf8.Valid(raw) {
		return nil
	}
	m := uriRegex.FindSubmatch(raw)
	if m == nil {
		return nil
	}
	if !validSchemes[string(m[1])] {
		return fmt.Errorf("%w: unsupported scheme %s", fault.ErrInvalidMetadata, m[1])
	}
	return nil
}

// ParseURI extracts the content URI from metadata, if it is one.
func ParseURI(raw []byte) (*URI, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	m := uriRegex.FindSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("%w: not a uri", fault.ErrInvalidMetadata)
	}
	return &URI{Scheme: string(m[1]), Location: string(m[2])}, nil
}
