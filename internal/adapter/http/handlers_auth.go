// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"weatherdash/internal/app"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// OIDCConfig is the single sign-on provider.
type OIDCConfig struct {
	Provider     *oidc.Provider
	OAuth2Config oauth2.Config
}

// NewOIDC discovers the issuer and prepares the OAuth2 client.
func NewOIDC(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (*OIDCConfig, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return &OIDCConfig{
		Provider: provider,
		OAuth2Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

type registerForm struct {
	Name     string
	Email    string
	Problems []string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login", pageData{Title: "Log in", Data: ""})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	email := r.PostFormValue("email")

	grant, err := s.auth.Authenticate(r.Context(), email, r.PostFormValue("password"))
	if errors.Is(err, app.ErrInvalidCredentials) {
		s.setFlash(w, "error", "Invalid email or password.")
		http.Redirect(w, r, "/auth/login", http.StatusFound)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	if err := s.setSessionCookie(w, grant.Token, grant.ExpiresAt); err != nil {
		s.internalError(w, r, err)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register", pageData{Title: "Register", Data: registerForm{}})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	in := app.RegisterInput{
		Name:                 r.PostFormValue("name"),
		Email:                r.PostFormValue("email"),
		Password:             r.PostFormValue("password"),
		PasswordConfirmation: r.PostFormValue("password_confirmation"),
	}

	_, err := s.auth.Register(r.Context(), in)
	var verr *app.ValidationError
	if errors.As(err, &verr) {
		s.render(w, r, http.StatusBadRequest, "register", pageData{
			Title: "Register",
			Data:  registerForm{Name: in.Name, Email: in.Email, Problems: verr.Problems},
		})
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	s.setFlash(w, "success", "Registration complete. You can log in now.")
	http.Redirect(w, r, "/auth/login", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := IdentityFrom(r.Context()); ok {
		if err := s.auth.Logout(r.Context(), id.Token); err != nil {
			s.log.Warn("logout failed", zap.Int64("user_id", id.User.ID), zap.Error(err))
		}
	}
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/auth/login", http.StatusFound)
}

func (s *Server) handleSSOLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SSO == nil {
		s.handleNotFound(w, r)
		return
	}
	state := generateState()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/auth/sso",
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: http.SameSiteLaxMode, // Lax required for cross-site redirect returns
		MaxAge:   300,
	})
	http.Redirect(w, r, s.cfg.SSO.OAuth2Config.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SSO == nil {
		s.handleNotFound(w, r)
		return
	}

	state, err := r.Cookie("oauth_state")
	if err != nil || r.URL.Query().Get("state") != state.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", MaxAge: -1, Path: "/auth/sso"})

	token, err := s.cfg.SSO.OAuth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		s.log.Warn("sso token exchange failed", zap.Error(err))
		s.setFlash(w, "error", "Single sign-on failed.")
		http.Redirect(w, r, "/auth/login", http.StatusFound)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		s.internalError(w, r, errors.New("no id_token in token response"))
		return
	}

	verifier := s.cfg.SSO.Provider.Verifier(&oidc.Config{ClientID: s.cfg.SSO.OAuth2Config.ClientID})
	idToken, err := verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		s.internalError(w, r, fmt.Errorf("verify id token: %w", err))
		return
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		s.internalError(w, r, fmt.Errorf("parse claims: %w", err))
		return
	}

	grant, err := s.auth.LoginWithEmail(r.Context(), claims.Email, claims.Name)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if err := s.setSessionCookie(w, grant.Token, grant.ExpiresAt); err != nil {
		s.internalError(w, r, err)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func generateState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
