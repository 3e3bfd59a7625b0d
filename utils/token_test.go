package utils_test

import (
	"strings"
	"testing"

	"github.com/sinanisler/gumroad-api/utils"
)

func TestJwtRoundTrip(t *testing.T) {
	token, err := utils.JwtGenerate("admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := utils.JwtValidate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Operator != "admin" {
		t.Fatalf("operator = %q, want admin", claims.Operator)
	}
	if claims.ExpiresAt <= claims.IssuedAt {
		t.Fatal("token should expire after issuance")
	}
}

func TestJwtValidate_RejectsTamperedToken(t *testing.T) {
	token, err := utils.JwtGenerate("admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Flip a character in the signature segment.
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)

	if _, err := utils.JwtValidate(strings.Join(parts, ".")); err == nil {
		t.Fatal("tampered token must not validate")
	}
}

func TestJwtValidate_RejectsGarbage(t *testing.T) {
	if _, err := utils.JwtValidate("not-a-token"); err == nil {
		t.Fatal("garbage must not validate")
	}
}
