package utils_test

import (
	"testing"

	"github.com/sinanisler/gumroad-api/utils"
)

func TestGeneratePassword_DefaultLength(t *testing.T) {
	pw, err := utils.GeneratePassword(0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pw) != 24 {
		t.Fatalf("len = %d, want 24", len(pw))
	}

	other, err := utils.GeneratePassword(0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pw == other {
		t.Fatal("two generated credentials should not collide")
	}
}

func TestHashAndComparePassword(t *testing.T) {
	pw, err := utils.GeneratePassword(16)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	hashed, err := utils.HashPassword(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(hashed) == pw {
		t.Fatal("hash must not equal the plaintext")
	}

	if err := utils.ComparePassword(string(hashed), pw); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if err := utils.ComparePassword(string(hashed), "wrong-password"); err == nil {
		t.Fatal("wrong password must not compare")
	}
}
