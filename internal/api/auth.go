package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/draycott/session-core/internal/auth"
)

// Cookie names for browser clients. Both cookies are httpOnly; scripts never
// see token material.
const (
	accessTokenCookie  = "access_token"
	refreshTokenCookie = "refresh_token"
)

// loginRequest is the request body for POST /api/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// refreshRequest is the body fallback for POST /api/auth/refresh-token and
// POST /api/auth/logout, for clients that cannot use cookies.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// sessionResponse is the response body for login and refresh.
//
// Tokens are duplicated in the body so non-browser clients (which ignore
// cookies) can store them; browser clients rely on the cookies alone.
type sessionResponse struct {
	User             *auth.User `json:"user"`
	AccessToken      string     `json:"accessToken"`
	RefreshToken     string     `json:"refreshToken"`
	ExpiresIn        int        `json:"expiresIn"`
	RefreshExpiresIn int        `json:"refreshExpiresIn"`
}

// handleLogin verifies credentials and establishes a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	session, err := s.sessions.Login(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingCredential):
			writeBadRequest(w, "username is required")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeUnauthorized(w, "invalid credentials")
		default:
			s.logger.Error("login failed", "error", err)
			writeInternalError(w, "login failed")
		}
		return
	}

	s.setSessionCookies(w, session.Pair)
	writeJSON(w, http.StatusOK, s.sessionBody(session))
}

// handleRefreshToken rotates the refresh token and mints a new pair.
//
// The refresh token comes from the refresh_token cookie or, failing that,
// from the request body. The presented token is spent whether or not the
// rotation succeeds; a replayed token always yields a 401.
func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	raw := s.refreshTokenFrom(r)
	if raw == "" {
		writeUnauthorized(w, "refresh token is required")
		return
	}

	session, err := s.sessions.Refresh(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrTokenInvalid):
			// The session is gone; make the browser forget it too.
			s.clearSessionCookies(w)
			writeUnauthorized(w, "invalid or expired refresh token")
		default:
			s.logger.Error("token refresh failed", "error", err)
			writeInternalError(w, "token refresh failed")
		}
		return
	}

	s.setSessionCookies(w, session.Pair)
	writeJSON(w, http.StatusOK, s.sessionBody(session))
}

// handleLogout revokes the presented refresh token and clears the session
// cookies. Always succeeds: logging out twice, or with no session at all,
// is not an error.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := s.refreshTokenFrom(r); raw != "" {
		if err := s.sessions.Logout(r.Context(), raw); err != nil {
			// Revocation failure doesn't block logout; the cookies still go.
			s.logger.Warn("logout revocation failed", "error", err)
		}
	}

	s.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleCurrentUser returns the user resolved from the access token.
func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": userFrom(r)})
}

// sessionBody builds the login/refresh response payload.
func (s *Server) sessionBody(session *auth.Session) sessionResponse {
	return sessionResponse{
		User:             session.User,
		AccessToken:      session.Pair.AccessToken,
		RefreshToken:     session.Pair.RefreshToken,
		ExpiresIn:        int(s.sessions.AccessTTL().Seconds()),
		RefreshExpiresIn: int(s.sessions.RefreshTTL().Seconds()),
	}
}

// refreshTokenFrom extracts the refresh token from the cookie or the request body.
func (s *Server) refreshTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.RefreshToken
}

// setSessionCookies writes both token cookies with lifetimes matching the
// tokens they carry.
func (s *Server) setSessionCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(s.sessions.AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.TLS.Enabled,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   int(s.sessions.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.TLS.Enabled,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookies expires both token cookies.
func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cfg.TLS.Enabled,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// clientIP extracts the originating IP for the audit trail, honouring
// X-Forwarded-For when a reverse proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
