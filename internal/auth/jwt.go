package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleDevice is the role carried by scanner device tokens.
const RoleDevice = "device"

// Token kinds. Only access tokens open the API; refresh tokens only buy a new pair.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

var (
	ErrWrongKind      = errors.New("auth: wrong token kind")
	ErrIssuerMismatch = errors.New("auth: issuer mismatch")
)

// TokenPair holds a device's access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	Kind    string `json:"kind"`
	jwt.RegisteredClaims
}

// Issue signs a fresh access/refresh pair for subject.
func Issue(subject, role, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	if subject == "" {
		return TokenPair{}, errors.New("auth: subject required")
	}
	now := time.Now()
	pair := TokenPair{AccessExp: now.Add(accessTTL), RefreshExp: now.Add(refreshTTL)}

	var err error
	if pair.AccessToken, err = sign(subject, role, KindAccess, issuer, key, now, pair.AccessExp); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = sign(subject, role, KindRefresh, issuer, key, now, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func sign(subject, role, kind, issuer, key string, now, exp time.Time) (string, error) {
	claims := Claims{
		Subject: subject,
		Role:    role,
		Kind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			// two pairs issued within one second must still differ
			ID: uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Parse validates an access token and returns its claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	return parseKind(tokenStr, key, issuer, KindAccess)
}

// ParseRefresh validates a refresh token and returns its claims.
func ParseRefresh(tokenStr, key, issuer string) (Claims, error) {
	return parseKind(tokenStr, key, issuer, KindRefresh)
}

func parseKind(tokenStr, key, issuer, kind string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, err
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, ErrIssuerMismatch
	}
	if claims.Kind != kind {
		return Claims{}, ErrWrongKind
	}
	return claims, nil
}
