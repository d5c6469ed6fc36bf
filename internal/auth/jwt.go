package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned by Validate for any token that cannot be
// trusted: bad signature, expired, wrong algorithm, or missing claims.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the payload inside every JWT token.
//
// The token is issued by the game's login service. The messaging core only
// reads it back: UserID is the identity a connection is bound to, BranchID
// is the room scope the connection joins.
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	BranchID string    `json:"branch_id"`
	jwt.RegisteredClaims
}

// Identity is what a successful handshake yields.
type Identity struct {
	UserID   uuid.UUID
	BranchID string
}

// Validator turns a bearer credential into an Identity.
type Validator interface {
	Validate(token string) (Identity, error)
}

// GenerateToken creates a signed HS256 JWT for a user in a branch.
func GenerateToken(userID uuid.UUID, branchID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:   userID,
		BranchID: branchID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "stationchat",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a JWT string and extracts the claims.
//
// It verifies:
//  1. The signature matches our secret (not tampered with).
//  2. The token hasn't expired (ExpiresAt is in the future).
//  3. The signing method is HMAC (prevents algorithm-switching attacks).
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// JWTValidator validates tokens signed with a shared HMAC secret.
type JWTValidator struct {
	secret string
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: secret}
}

// Validate implements Validator. Every failure collapses into
// ErrInvalidToken; the caller only tells the client "auth failed".
func (v *JWTValidator) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	claims, err := ParseToken(token, v.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == uuid.Nil || claims.BranchID == "" {
		return Identity{}, fmt.Errorf("%w: missing user or branch", ErrInvalidToken)
	}
	return Identity{UserID: claims.UserID, BranchID: claims.BranchID}, nil
}
