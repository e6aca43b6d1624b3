package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenTTL = 24 * time.Hour
	tokenIssuer    = "polyatop"
)

var ErrEmptySecret = errors.New("jwt secret is empty")

// AccessClaims identify the caller of the API. Role is a hint for clients;
// staff endpoints re-read the stored role.
type AccessClaims struct {
	UserID     int64  `json:"uid"`
	TelegramID int64  `json:"tgid"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

func SignAccessToken(secret string, userID, telegramID int64, role string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	issued := time.Now()
	claims := AccessClaims{
		UserID:     userID,
		TelegramID: telegramID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(accessTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAccessToken verifies an HS256 token issued by SignAccessToken.
func ParseAccessToken(secret, tokenString string) (*AccessClaims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if claims.UserID <= 0 {
		return nil, errors.New("access token has no user")
	}
	return claims, nil
}
