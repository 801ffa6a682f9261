package security

import (
	"strings"
	"testing"
)

func TestGenerateNumericCode(t *testing.T) {
	code, err := GenerateNumericCode(6)
	if err != nil {
		t.Fatalf("GenerateNumericCode: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code length = %d, want 6", len(code))
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("code %q contains non-digit %q", code, r)
		}
	}

	if _, err := GenerateNumericCode(0); err == nil {
		t.Fatal("zero length accepted")
	}
}

func TestGenerateBackupCodeAlphabet(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := GenerateBackupCode(10)
		if err != nil {
			t.Fatalf("GenerateBackupCode: %v", err)
		}
		if len(code) != 10 {
			t.Fatalf("code length = %d, want 10", len(code))
		}
		// The ambiguous characters are excluded from the alphabet.
		if strings.ContainsAny(code, "0O1IL") {
			t.Fatalf("code %q contains an ambiguous character", code)
		}
	}
}

func TestHashComparand(t *testing.T) {
	a := HashComparand("287082")
	b := HashComparand("287082")
	c := HashComparand("287083")

	if a != b {
		t.Fatal("hashing the same value twice differs")
	}
	if a == c {
		t.Fatal("different values collide")
	}
	if len(a) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(a))
	}
	if a == "287082" || strings.Contains(a, "287082") {
		t.Fatal("digest leaks the raw code")
	}
}

func TestConstantTimeEquals(t *testing.T) {
	if !ConstantTimeEquals("abc", "abc") {
		t.Fatal("equal strings compared unequal")
	}
	if ConstantTimeEquals("abc", "abd") || ConstantTimeEquals("abc", "abcd") || ConstantTimeEquals("", "a") {
		t.Fatal("unequal strings compared equal")
	}
}

func TestHashSecretRoundTrip(t *testing.T) {
	encoded, err := HashSecret("VQXK7M2PT3")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if strings.Contains(encoded, "VQXK7M2PT3") {
		t.Fatal("encoded hash leaks the secret")
	}

	ok, err := VerifySecret("VQXK7M2PT3", encoded)
	if err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if !ok {
		t.Fatal("correct secret rejected")
	}

	ok, err = VerifySecret("WRONGCODE1", encoded)
	if err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if ok {
		t.Fatal("wrong secret accepted")
	}

	// Salted: the same secret hashes to different encodings.
	again, err := HashSecret("VQXK7M2PT3")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if encoded == again {
		t.Fatal("two hashes of the same secret are identical")
	}
}
