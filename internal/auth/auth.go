package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates a token that failed signature or claims
	// validation, including expiry.
	ErrInvalidToken = errors.New("invalid download token")
)

// DownloadClaims are the claims embedded in a download token.
type DownloadClaims struct {
	RecordingID uint   `json:"rid"`
	FilePath    string `json:"path"`
	UserID      string `json:"uid"`
	jwt.RegisteredClaims
}

// Signer mints and verifies time-limited download tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a token signer. ttl bounds how long minted tokens stay
// valid.
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Mint creates a signed download token for one recording artifact.
func (s *Signer) Mint(recordingID uint, filePath, userID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.ttl)

	claims := DownloadClaims{
		RecordingID: recordingID,
		FilePath:    filePath,
		UserID:      userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign download token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify validates a download token and returns its claims.
func (s *Signer) Verify(tokenString string) (*DownloadClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DownloadClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*DownloadClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// TTL returns the configured token lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}
