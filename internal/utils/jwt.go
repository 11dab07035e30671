package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA‑256 hashing for handles and ids
	"encoding/hex"  // hex encoding and decoding functions
	"time"          // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// ServiceToken is a signed JWT that a collaborating service presents on the
// /internal routes.  The Token field contains the JWT string and Exp its
// expiry.
type ServiceToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// ServiceRole is the role claim carried by every service token.
const ServiceRole = "service"

// NewServiceToken builds and signs an HS256 JWT for a collaborating service.
// The subject names the calling service (e.g. "catalog").  The JWT includes
// the standard claims sub, exp and iat plus role=service.
func NewServiceToken(secret, service string, ttl time.Duration) (ServiceToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  service,
		"role": ServiceRole,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return ServiceToken{}, err
	}
	return ServiceToken{Token: signed, Exp: exp}, nil
}

// SHA256Hex returns the SHA‑256 digest of s as a hex string.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RandomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.  Session ids use 32 bytes.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
