package metadata

import (
	"bytes"
	"testing"

	"github.com/atmx/escrow-engine/internal/fault"
)

func TestValidate_Accepts(t *testing.T) {
	tests := [][]byte{
		nil,
		[]byte("ipfs://ipfs/QmVLAo3EQvkkQKjLTt1dawYsehSEnwYBi19vzh85pohpuw"),
		[]byte("ar://bNbA3TEQVL60xlgCcqdz4ZPHFZ711cZ3hmkpGttDt_U"),
		[]byte("https://example.com/item/1.json"),
		[]byte("plain description"),
		{0xff, 0xfe, 0x00},
	}
	for _, raw := range tests {
		if err := Validate(raw); err != nil {
			t.Errorf("unexpected error for %q: %v", raw, err)
		}
	}
}

func TestValidate_TooLong(t *testing.T) {
	err := Validate(bytes.Repeat([]byte("a"), MaxLen+1))
	if !fault.IsErrInvalid(err) {
		t.Errorf("expected invalid metadata error, got %v", err)
	}
}

func TestValidate_UnsupportedScheme(t *testing.T) {
	err := Validate([]byte("ftp://example.com/item"))
	if err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestParseURI(t *testing.T) {
	u, err := ParseURI([]byte("ipfs://ipfs/QmVLAo3EQ"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Scheme != SchemeIPFS {
		t.Errorf("expected scheme=ipfs, got %s", u.Scheme)
	}
	if u.Location != "ipfs/QmVLAo3EQ" {
		t.Errorf("expected location=ipfs/QmVLAo3EQ, got %s", u.Location)
	}

	if _, err := ParseURI([]byte("no uri here")); err == nil {
		t.Error("expected error for non-uri metadata")
	}
}
