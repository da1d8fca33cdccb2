// Package auth issues and verifies the HS256 tokens the engine relies on:
// caller access tokens carrying a user id and time-bounded file links.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const linkAudience = "gophsync-file-link"

// Claims carries the standard registered claims plus the caller's UserID.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

// LinkClaims identify a file for an application-issued download link.
type LinkClaims struct {
	jwt.RegisteredClaims
	FileID string `json:"fid"`
	UserID string `json:"uid"`
}

func sign(claims jwt.Claims, secretKey []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secretKey)
}

func parse(tokenString string, claims jwt.Claims, secretKey []byte, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return common.ErrTokenExpired
		}
		return common.ErrInvalidToken
	}
	if !token.Valid {
		return common.ErrInvalidToken
	}
	return nil
}

func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	return sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
	}, secretKey)
}

// GetUserIDFromToken returns common.ErrTokenExpired for expired tokens and
// common.ErrInvalidToken for anything else that fails verification.
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}
	if err := parse(tokenString, claims, secretKey); err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", common.ErrInvalidToken
	}
	return claims.UserID, nil
}

// GenerateLinkToken signs a link for fileID valid for ttl.
func GenerateLinkToken(fileID, userID string, secretKey []byte, ttl time.Duration) (string, time.Time, error) {
	expires := time.Now().Add(ttl)
	s, err := sign(LinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{linkAudience},
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		FileID: fileID,
		UserID: userID,
	}, secretKey)
	return s, expires, err
}

// ParseLinkToken verifies a link token. Access tokens are rejected because
// they lack the link audience.
func ParseLinkToken(tokenString string, secretKey []byte) (*LinkClaims, error) {
	claims := &LinkClaims{}
	if err := parse(tokenString, claims, secretKey, jwt.WithAudience(linkAudience)); err != nil {
		return nil, err
	}
	if claims.FileID == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
