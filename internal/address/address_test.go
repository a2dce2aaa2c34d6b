package address

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"wrapped sol", "So11111111111111111111111111111111111111112", false},
		{"raydium", "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", false},
		{"empty", "", true},
		{"too short", "So1111", true},
		{"bad alphabet", "0OIl1111111111111111111111111111111111111112", true},
		{"too long", "So11111111111111111111111111111111111111112So11", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("expected ErrInvalidAddress, got %v", err)
			}
		})
	}
}

func TestIsOnCurve(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if !IsOnCurve(base58.Encode(pub)) {
		t.Error("ed25519 public key should be on curve")
	}

	// y >= p is a non-canonical encoding and never a valid point.
	offCurve := base58.Encode(bytes.Repeat([]byte{0xff}, 32))
	if IsOnCurve(offCurve) {
		t.Error("non-canonical encoding should be off curve")
	}

	if IsOnCurve("not-base58!") {
		t.Error("garbage should be off curve")
	}
}
