package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	salt, hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if salt == "" || hash == "" {
		t.Fatalf("HashPassword returned empty salt/hash: %q %q", salt, hash)
	}

	if !VerifyPassword("secret", salt, hash) {
		t.Error("VerifyPassword rejected the correct password")
	}
	if VerifyPassword("wrong", salt, hash) {
		t.Error("VerifyPassword accepted a wrong password")
	}
	if VerifyPassword("", salt, hash) {
		t.Error("VerifyPassword accepted an empty password")
	}
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	salt1, hash1, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	salt2, hash2, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if salt1 == salt2 {
		t.Error("two hashes of the same password reused the salt")
	}
	if hash1 == hash2 {
		t.Error("two hashes of the same password produced identical digests")
	}
}

func TestVerifyPasswordMalformedStored(t *testing.T) {
	if VerifyPassword("secret", "not-hex", "also-not-hex") {
		t.Error("VerifyPassword accepted malformed stored values")
	}
}
