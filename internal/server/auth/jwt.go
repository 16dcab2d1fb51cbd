// Package auth issues and verifies the bearer tokens that gate every
// SafeChat operation, and derives password verifiers for login.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the user id in the standard "sub" claim.
type Claims struct {
	jwt.RegisteredClaims
}

func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// Verifier validates bearer tokens against one HMAC secret. It holds no
// mutable state and is safe for concurrent use.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secretKey []byte) *Verifier {
	return &Verifier{secret: secretKey, now: time.Now}
}

// Verify returns the user id embedded in token. Errors are
// common.ErrTokenMalformed, common.ErrTokenExpired or common.ErrInvalidToken.
// Signature comparison is done by jwt's HMAC method with hmac.Equal.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", common.ErrTokenMalformed
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", common.ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", common.ErrTokenExpired
		default:
			return "", common.ErrInvalidToken
		}
	}

	if !token.Valid {
		return "", common.ErrInvalidToken
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", common.ErrInvalidToken
	}

	return claims.Subject, nil
}

// GetUserIDFromToken is a one-shot Verify for callers without a Verifier.
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	return NewVerifier(secretKey).Verify(tokenString)
}
