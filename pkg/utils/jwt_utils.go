package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtSecretKey verifies tokens issued by the authentication service.
// Both services must be configured with the same JWT_SECRET.
var jwtSecretKey = []byte(Getenv("JWT_SECRET", "dev-only-stockledger-jwt-secret"))

const AccessTokenTTL = 72 * time.Hour

// Claims carries the authenticated business-owner identity. Token issuance
// (register/login) lives in the auth service; this backend only verifies.
type Claims struct {
	OwnerID      int64  `json:"owner_id"`
	BusinessName string `json:"business_name,omitempty"`
	jwt.RegisteredClaims
}

// GenerateOwnerToken creates a signed token for a business owner.
// Used by local tooling; production tokens come from the auth service.
func GenerateOwnerToken(ownerID int64, businessName string) (string, error) {
	now := time.Now()
	claims := &Claims{
		OwnerID:      ownerID,
		BusinessName: businessName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   Int64ToStr(ownerID),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "stockledger-backend",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a JWT token string.
// It returns the claims if the token is valid, otherwise an error.
func ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecretKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.OwnerID == 0 {
		return nil, fmt.Errorf("token carries no owner identity")
	}

	return claims, nil
}
