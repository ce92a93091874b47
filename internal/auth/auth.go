// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a bearer credential and returns the subject user id.
// It is the boundary the bridge and broker share with the auth collaborator.
type Verifier interface {
	Verify(token string) (string, error)
}

// TokenService issues and verifies HS256 device credentials. The user id
// travels in the audience claim, which is what device firmware presents back
// on every RESULT frame.
type TokenService struct {
	secretKey   []byte
	issuer      string
	tokenExpiry time.Duration
}

// NewTokenService creates a token service. An empty issuer disables issuer
// validation.
func NewTokenService(secretKey, issuer string, expiry time.Duration) *TokenService {
	return &TokenService{
		secretKey:   []byte(secretKey),
		issuer:      issuer,
		tokenExpiry: expiry,
	}
}

// Issue creates a signed credential for the given user id.
func (t *TokenService) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{userID},
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.tokenExpiry)),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secretKey)
}

// Verify validates a credential and returns the subject user id from the
// audience claim.
func (t *TokenService) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	if t.issuer != "" && claims.Issuer != t.issuer {
		return "", fmt.Errorf("invalid token issuer: %s", claims.Issuer)
	}

	if len(claims.Audience) == 0 || claims.Audience[0] == "" {
		return "", fmt.Errorf("token has no subject user id")
	}

	return claims.Audience[0], nil
}
