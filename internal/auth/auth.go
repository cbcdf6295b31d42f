// Package auth handles password hashing and the HS256 access/refresh
// token pair, plus the middleware that turns a bearer token into a caller
// identity.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ratewall/ratewall/internal/models"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	// ErrInvalidToken covers malformed, expired, or mis-signed tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrWrongTokenType is returned when a refresh token is presented
	// where an access token is required, or vice versa.
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims is the JWT payload for both token types; Typ distinguishes them.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Typ      string `json:"typ"`
}

// TokenPair is the response of the token endpoint.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Identity is the authenticated caller extracted from an access token.
type Identity struct {
	UserID   int64
	Username string
}

// Manager signs and verifies tokens with a shared HMAC secret.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(secret string, accessTTL, refreshTTL time.Duration) *Manager {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 24 * time.Hour
	}
	return &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HashPassword produces a bcrypt digest at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored digest.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IssueTokenPair returns fresh access and refresh tokens for u.
func (m *Manager) IssueTokenPair(u models.User) (TokenPair, error) {
	access, err := m.sign(u, tokenTypeAccess, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(u, tokenTypeRefresh, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (m *Manager) sign(u models.User, typ string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: u.Username,
		Typ:      typ,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (m *Manager) verify(raw, wantType string) (Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Typ != wantType {
		return Identity{}, ErrWrongTokenType
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: userID, Username: claims.Username}, nil
}

// VerifyAccess validates an access token and returns the caller identity.
func (m *Manager) VerifyAccess(raw string) (Identity, error) {
	return m.verify(raw, tokenTypeAccess)
}

// RefreshAccess exchanges a valid refresh token for a new access token.
func (m *Manager) RefreshAccess(raw string) (string, error) {
	id, err := m.verify(raw, tokenTypeRefresh)
	if err != nil {
		return "", err
	}
	return m.sign(models.User{ID: id.UserID, Username: id.Username}, tokenTypeAccess, m.accessTTL)
}
