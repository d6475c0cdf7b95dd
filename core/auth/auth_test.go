package auth

import "testing"

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("open sesame")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyPassword("open sesame", hash) {
		t.Fatal("correct password must verify")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatal("wrong password must not verify")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := GenerateToken(42, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	SetJWTSecret("test-secret")
	token, err := GenerateToken(1, "bob")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	SetJWTSecret("other-secret")
	if _, err := ParseToken(token); err == nil {
		t.Fatal("a token signed with another secret must be rejected")
	}
	SetJWTSecret("test-secret")
}
