package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessAudience = "access"
	phoneAudience  = "phone_verification"
)

var ErrPhoneMismatch = errors.New("verification issued for a different phone")

type Claims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Principal() Principal {
	return Principal{UserID: c.UserID, Role: c.Role}
}

func NewAccessToken(secret, issuer string, ttl time.Duration, claims Claims) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{accessAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := parse(secret, issuer, accessAudience, tokenString, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// PhoneClaims assert that the bearer proved control of Phone through an OTP.
type PhoneClaims struct {
	Phone string `json:"phone"`
	jwt.RegisteredClaims
}

func NewPhoneAssertion(secret, issuer string, ttl time.Duration, phone string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := PhoneClaims{
		Phone: phone,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   phone,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{phoneAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func CheckPhoneAssertion(secret, issuer, tokenString, phone string) (*PhoneClaims, error) {
	claims := &PhoneClaims{}
	if err := parse(secret, issuer, phoneAudience, tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Phone != phone {
		return nil, ErrPhoneMismatch
	}
	return claims, nil
}

func parse(secret, issuer, audience, tokenString string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, options...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}
