package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	maxBodyBytes   = 1 << 20
	maxTitleLength = 255
	maxAuthorLen   = 100
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// internalError logs err server-side and sends the client a generic 500.
func (b *Board) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	b.log.Error(msg,
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID(r)),
	)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// decodeJSON reads exactly one JSON object into dst, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func (b *Board) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := b.posts.getPosts(r.Context())
	if err != nil {
		b.internalError(w, r, "listing posts", err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (b *Board) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Blank checks ignore surrounding whitespace; the stored values do not.
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "Title and content are required")
		return
	}
	if utf8.RuneCountInString(req.Title) > maxTitleLength {
		writeError(w, http.StatusBadRequest, "Title must be at most 255 characters")
		return
	}
	if utf8.RuneCountInString(req.Author) > maxAuthorLen {
		writeError(w, http.StatusBadRequest, "Author must be at most 100 characters")
		return
	}

	post, err := b.posts.createPost(r.Context(), req.Title, req.Content, req.Author)
	if errors.Is(err, errEmptyPost) {
		writeError(w, http.StatusBadRequest, "Title and content are required")
		return
	}
	if err != nil {
		b.internalError(w, r, "creating post", err)
		return
	}

	writeJSON(w, http.StatusCreated, post)
}

func (b *Board) Login(w http.ResponseWriter, r *http.Request) {
	if ok, wait := b.limiter.Allow(clientIP(r)); !ok {
		w.Header().Set("Retry-After", retryAfterSeconds(wait))
		writeError(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	if !b.checkCredentials(req.Username, req.Password) {
		b.log.Warn("failed admin login",
			zap.String("remote_ip", clientIP(r)),
			zap.String("request_id", requestID(r)),
		)
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	session, err := b.sessions.Create(r.Context(), req.Username, true)
	if err != nil {
		b.internalError(w, r, "creating session", err)
		return
	}

	b.setSessionCookie(w, session.ID)
	b.log.Info("admin logged in", zap.String("username", session.Username), zap.String("request_id", requestID(r)))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Logout clears the session cookie even when it answers 401.
func (b *Board) Logout(w http.ResponseWriter, r *http.Request) {
	session, err := b.currentSession(r)
	if err != nil {
		b.internalError(w, r, "looking up session", err)
		return
	}
	if session == nil || !session.IsAdmin {
		b.clearSessionCookie(w)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := b.sessions.Destroy(r.Context(), session.ID); err != nil {
		b.internalError(w, r, "destroying session", err)
		return
	}

	b.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (b *Board) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := b.computeStats(r.Context())
	if err != nil {
		b.internalError(w, r, "computing stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (b *Board) Clear(w http.ResponseWriter, r *http.Request) {
	if err := b.posts.deleteAllPosts(r.Context()); err != nil {
		b.internalError(w, r, "clearing posts", err)
		return
	}

	session := sessionFromContext(r.Context())
	b.log.Info("all posts cleared", zap.String("username", session.Username), zap.String("request_id", requestID(r)))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (b *Board) Check(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, checkResponse{Authenticated: b.isAuthenticated(r)})
}

func (b *Board) Health(w http.ResponseWriter, r *http.Request) {
	if err := b.posts.db.PingContext(r.Context()); err != nil {
		b.log.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func apiNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}
