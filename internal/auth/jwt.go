package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const sessionIssuer = "medsupply-storefront"

// Claims represents guest session claims. The namespace scopes the
// session's cart storage.
type Claims struct {
	Namespace string `json:"ns"`
	jwt.RegisteredClaims
}

// SessionService issues and validates guest cart sessions
type SessionService struct {
	secretKey []byte
	ttl       time.Duration
}

func NewSessionService(secretKey string, ttl time.Duration) *SessionService {
	return &SessionService{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}
}

// Issue starts a new guest session with a fresh namespace.
func (s *SessionService) Issue() (string, string, time.Time, error) {
	namespace := uuid.NewString()
	token, expiresAt, err := s.IssueFor(namespace)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, namespace, expiresAt, nil
}

// IssueFor signs a session for an existing namespace.
func (s *SessionService) IssueFor(namespace string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		Namespace: namespace,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   namespace,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// Validate checks a session token and returns its namespace.
func (s *SessionService) Validate(tokenString string) (string, error) {
	claims, err := s.Parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Namespace, nil
}

// Parse checks a session token and returns its claims.
func (s *SessionService) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Namespace == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// NeedsRenewal reports whether a valid session has used up half its TTL.
// Renewed sessions keep their namespace, so an active shopper's cart never
// expires.
func (s *SessionService) NeedsRenewal(claims *Claims) bool {
	if claims.ExpiresAt == nil {
		return true
	}
	return time.Until(claims.ExpiresAt.Time) < s.ttl/2
}

// TTL returns the session lifetime
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}
