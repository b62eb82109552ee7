package security_test

import (
	"strings"
	"testing"

	"github.com/druckerapp/drucker/internal/security"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := security.HashPassword("correct horse")

	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if hash == "correct horse" {
		t.Fatalf("hash must not equal the plaintext")
	}

	if err := security.CheckPassword(hash, "correct horse"); err != nil {
		t.Errorf("expected matching password to verify, got %v", err)
	}

	if err := security.CheckPassword(hash, "wrong horse"); err == nil {
		t.Errorf("expected mismatched password to fail verification")
	}
}

func TestGenerateTempPasswordLengthAndAlphabet(t *testing.T) {
	seen := map[string]struct{}{}

	for i := 0; i < 50; i++ {
		pw, err := security.GenerateTempPassword()

		if err != nil {
			t.Fatalf("GenerateTempPassword failed: %v", err)
		}

		if len(pw) != security.TempPasswordLength {
			t.Fatalf("expected length %d, got %d (%q)", security.TempPasswordLength, len(pw), pw)
		}

		for _, r := range pw {
			if strings.ContainsRune("0O1Il", r) {
				t.Fatalf("ambiguous character %q in generated password %q", r, pw)
			}
		}

		seen[pw] = struct{}{}
	}

	// 50 draws from a 57^12 space colliding would mean a broken generator.
	if len(seen) < 50 {
		t.Errorf("expected 50 distinct passwords, got %d", len(seen))
	}
}
