package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func TestRandomHexLength(t *testing.T) {
	a, err := RandomHex(32)
	if err != nil {
		t.Fatalf("RandomHex: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	b, _ := RandomHex(32)
	if a == b {
		t.Fatal("two random values collided")
	}
}

func TestSHA256HexIsStable(t *testing.T) {
	if SHA256Hex("abc") != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest %s", SHA256Hex("abc"))
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword(hash, "s3cret") {
		t.Error("expected password to verify")
	}
	if VerifyPassword(hash, "wrong") {
		t.Error("wrong password verified")
	}
	if VerifyPassword("", "s3cret") {
		t.Error("empty hash verified")
	}
}

func TestNewServiceTokenClaims(t *testing.T) {
	tok, err := NewServiceToken("k", "catalog", time.Minute)
	if err != nil {
		t.Fatalf("NewServiceToken: %v", err)
	}
	parsed, err := jwt.Parse(tok.Token, func(*jwt.Token) (interface{}, error) { return []byte("k"), nil })
	if err != nil || !parsed.Valid {
		t.Fatalf("token did not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "catalog" || claims["role"] != ServiceRole {
		t.Fatalf("unexpected claims %v", claims)
	}
}
