package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	sessionCookieName = "sessionId"
	tokenBytes        = 32
)

type sessionContextKey struct{}

func generateToken() (string, error) {
	bytes := make([]byte, tokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// checkCredentials compares both fields without short-circuiting, so a wrong
// username costs the same as a wrong password.
func (b *Board) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(b.admin.Username)) == 1
	passOK := b.hasher.Verify(password, b.admin.PasswordHash)
	return userOK && passOK
}

func (b *Board) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   b.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(b.sessionTTL / time.Second),
	})
}

func (b *Board) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   b.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// currentSession resolves the request's session cookie. A missing cookie or
// an unknown or expired token yields nil without an error.
func (b *Board) currentSession(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return b.sessions.Lookup(r.Context(), cookie.Value)
}

// requireAdmin rejects requests without a live admin session before next runs.
func (b *Board) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := b.currentSession(r)
		if err != nil {
			b.internalError(w, r, "looking up session", err)
			return
		}
		if session == nil || !session.IsAdmin {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
		next(w, r.WithContext(ctx))
	}
}

func sessionFromContext(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionContextKey{}).(*Session)
	return session
}

// isAuthenticated checks if the current request has a valid session
func (b *Board) isAuthenticated(r *http.Request) bool {
	session, err := b.currentSession(r)
	if err != nil {
		b.log.Warn("looking up session", zap.Error(err), zap.String("request_id", requestID(r)))
		return false
	}
	return session != nil
}
