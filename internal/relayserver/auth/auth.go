// Package auth implements the relayer's credential services: API key
// generation and constant-time validation, TOTP enrolment/verification,
// and session token issuance/refresh.
package auth

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// dummyBcryptHash is compared against on every validation miss so that
// total work is independent of whether any candidate existed. Must stay
// a fixed, valid bcrypt hash — never regenerated at runtime.
const dummyBcryptHash = "$2a$10$CwTycUXWue0Thq9StjUM0uJ8bhXjJ.q8bA9Ux/1NKxsZhq9pHr5tS"

// GenerateAPIKey returns 32 cryptographically random bytes as 64 lowercase
// hex characters.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashAPIKey returns a bcrypt digest of a plaintext API key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash api key: %w", err)
	}
	return string(h), nil
}

// HashPassword returns a bcrypt digest of the server-salted password.
// salted is password_salt || client-hashed-password, per spec.md §6.
func HashPassword(salted string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(salted), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(h), nil
}

// VerifyHash reports whether plaintext matches the stored bcrypt digest.
func VerifyHash(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// VerifyDummy performs a throwaway bcrypt comparison so that a miss costs
// the same as a hit. Call exactly once on every validation path that found
// no match.
func VerifyDummy(plaintext string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyBcryptHash), []byte(plaintext))
}

// FindMatch iterates candidates, bcrypt-verifying plaintext against each
// one's digest (via hashOf), and returns the first match. If no candidate
// matches, it performs exactly one additional dummy verify so total work
// is independent of whether a match existed — the constant-time
// requirement spec.md §4.1/§9 calls for applies uniformly to bootstrap
// keys, device keys, and any future digest-keyed lookup.
func FindMatch[T any](candidates []T, hashOf func(T) string, plaintext string) (T, bool) {
	var zero T
	var match T
	found := false
	for _, c := range candidates {
		if VerifyHash(plaintext, hashOf(c)) && !found {
			match = c
			found = true
		}
	}
	if !found {
		VerifyDummy(plaintext)
		return zero, false
	}
	return match, true
}

// GenerateTOTPSecret returns 20 random bytes, base32-encoded without
// padding, suitable for enrolment in an authenticator app.
func GenerateTOTPSecret() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate totp secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// VerifyTOTP checks a 6-digit code against secret, SHA-1, 30 s step,
// ±1 step skew.
func VerifyTOTP(secret, code string) bool {
	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil || len(decoded) < 16 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// Claims is the session token payload.
type Claims struct {
	DeviceID string `json:"device_id"`
	AdminID  string `json:"admin_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// CreateToken signs a session token for deviceID/adminID/role with the
// given TTL.
func CreateToken(secret string, deviceID, adminID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		DeviceID: deviceID,
		AdminID:  adminID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken decodes and verifies a session token, rejecting expired
// or tampered tokens. Returns (claims, false) rather than an error for
// any decode/verification failure, mirroring spec.md §4.1's "malformed
// token → fail, return nothing" failure shape.
func ValidateToken(secret, tokenString string) (Claims, bool) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Claims{}, false
	}
	return claims, true
}

// ValidateTokenIgnoringExpiry decodes and verifies a token without
// rejecting it for expiry, returning its claims; the caller must itself
// enforce the refresh grace window (see WithinRefreshGrace).
// Used only by /auth/refresh, per spec.md §4.1.
func ValidateTokenIgnoringExpiry(secret, tokenString string) (Claims, bool) {
	var claims Claims
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, err := parser.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || token == nil {
		return Claims{}, false
	}
	return claims, true
}

// WithinRefreshGrace reports whether a token's expiry is still within
// grace of now (exp >= now - grace).
func WithinRefreshGrace(claims Claims, grace time.Duration) bool {
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.Before(time.Now().Add(-grace))
}
