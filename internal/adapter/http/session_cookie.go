package adapthttp

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionCookieName = "session"

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// signSession wraps the opaque session token in an HS256 JWT so a tampered
// cookie is rejected before the store is consulted.
func (s *Server) signSession(token string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		SessionID: token,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SessionSecret)
}

func (s *Server) parseSessionCookie(value string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.SessionSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	if claims.SessionID == "" {
		return "", errors.New("session cookie without sid")
	}
	return claims.SessionID, nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) error {
	value, err := s.signSession(token, expiresAt)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
		MaxAge:   int(expiresAt.Sub(s.now()).Seconds()),
	})
	return nil
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
