package main

import "net/http"

func (b *Board) routes() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /api/posts", b.ListPosts)
	mux.HandleFunc("POST /api/posts", b.CreatePost)
	mux.HandleFunc("POST /api/admin/login", b.Login)
	mux.HandleFunc("GET /api/admin/check", b.Check)
	mux.HandleFunc("GET /healthz", b.Health)
	mux.HandleFunc("POST /api/admin/logout", b.Logout)

	// Protected routes
	mux.HandleFunc("GET /api/admin/stats", b.requireAdmin(b.Stats))
	mux.HandleFunc("DELETE /api/admin/clear", b.requireAdmin(b.Clear))

	mux.HandleFunc("/api/", apiNotFound)
	mux.HandleFunc("/", b.Static)

	return b.withRequestLog(b.withRecover(withCORS(mux)))
}
