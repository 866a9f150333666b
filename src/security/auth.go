package security

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService issues and checks the bearer tokens of the API. Users are managed
// elsewhere; a token only carries the numeric user id as its subject.
type AuthService struct {
	JWTSecret   string
	TokenExpiry time.Duration
	now         func() time.Time
}

func NewAuthService(secret string, tokenExpiry time.Duration) *AuthService {
	return &AuthService{
		JWTSecret:   secret,
		TokenExpiry: tokenExpiry,
		now:         time.Now,
	}
}

func (a *AuthService) GenerateToken(userID int64) (string, error) {
	if a.JWTSecret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.TokenExpiry)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.JWTSecret))
}

// ValidateToken returns the user id of a valid, unexpired HS256 token.
func (a *AuthService) ValidateToken(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return 0, errors.New("invalid token: 'sub' claim missing")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("invalid token: 'sub' claim is not a user id")
	}
	return userID, nil
}
