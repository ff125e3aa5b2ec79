// Package jwtauth implements syncserver.Authenticator and
// realtime connection identity extraction via golang-jwt/v5, adapted
// from the teacher's oversync.JWTAuth: a device/client id carried in a
// "did" claim, the user id in the standard "sub" claim.
package jwtauth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth is a shared-secret HMAC JWT authenticator.
type Auth struct {
	secret []byte
}

// New constructs an Auth over the given HMAC secret.
func New(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Claims is driftsync's JWT claim set: a replica ("did") plus the
// standard subject as user id.
type Claims struct {
	ClientID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken issues a token for one user/replica pair, used by the
// demo binaries' dummy sign-in endpoint.
func (a *Auth) GenerateToken(userID, clientID string, expiration time.Duration) (string, error) {
	claims := &Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "driftsyncd",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses and verifies a bearer token, returning its claims.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.ClientID == "" {
		return nil, fmt.Errorf("missing did (client id) claim")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user id) claim")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header required")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return "", fmt.Errorf("bearer token required")
	}
	return tokenString, nil
}

// ClientID implements syncserver.Authenticator.
func (a *Auth) ClientID(r *http.Request) (string, error) {
	tok, err := bearerToken(r)
	if err != nil {
		return "", err
	}
	claims, err := a.ValidateToken(tok)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return claims.ClientID, nil
}

// UserID implements syncserver.Authenticator.
func (a *Auth) UserID(r *http.Request) (string, error) {
	tok, err := bearerToken(r)
	if err != nil {
		return "", err
	}
	claims, err := a.ValidateToken(tok)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return claims.Subject, nil
}

// FromQuery extracts claims from a query-string token, used by the
// realtime websocket upgrade endpoint where browsers can't set a
// custom Authorization header.
func (a *Auth) FromQuery(r *http.Request) (*Claims, error) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		return nil, fmt.Errorf("token query parameter required")
	}
	return a.ValidateToken(tok)
}
