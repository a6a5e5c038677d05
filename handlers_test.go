package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		StaticDir:       t.TempDir(),
		Admin:           AdminConfig{Username: "admin"},
		SessionTTL:      time.Hour,
		LoginRateLimit:  10,
		LoginRateWindow: time.Minute,
	}
}

func setupTestBoard(t *testing.T) *Board {
	t.Helper()
	db, d := openTestDB(t)

	board := NewBoard(testConfig(t), newPostStore(db, d), newMemorySessionStore(time.Hour), zap.NewNop())
	board.hasher = testHasher

	hash, err := testHasher.Hash("password")
	if err != nil {
		t.Fatalf("hashing admin password: %v", err)
	}
	board.admin.PasswordHash = hash
	return board
}

func doRequest(t *testing.T, h http.Handler, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("expected session cookie to be set")
	return nil
}

func loginAdmin(t *testing.T, h http.Handler) *http.Cookie {
	t.Helper()
	w := doRequest(t, h, http.MethodPost, "/api/admin/login", `{"username":"admin","password":"password"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	return sessionCookie(t, w)
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestListPosts_Empty(t *testing.T) {
	h := setupTestBoard(t).routes()

	w := doRequest(t, h, http.MethodGet, "/api/posts", "")

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %q", w.Body.String())
	}
}

func TestCreatePost_RoundTrip(t *testing.T) {
	board := setupTestBoard(t)
	h := board.routes()

	w := doRequest(t, h, http.MethodPost, "/api/posts", `{"title":"T","content":"C"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	created := decodeBody[Post](t, w)
	if created.ID == 0 || created.CreatedAt.IsZero() {
		t.Errorf("expected generated id and created_at, got %+v", created)
	}

	w = doRequest(t, h, http.MethodGet, "/api/posts", "")
	posts := decodeBody[[]Post](t, w)
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	p := posts[0]
	if p.Title != "T" || p.Content != "C" || p.Author != "Anonymous" {
		t.Errorf("unexpected post %+v", p)
	}
	if p.ID != created.ID || !p.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("listed post %+v does not match created %+v", p, created)
	}
}

func TestCreatePost_JSONShape(t *testing.T) {
	h := setupTestBoard(t).routes()

	w := doRequest(t, h, http.MethodPost, "/api/posts", `{"title":"Hello","content":"World","author":"Jane"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
	}

	body := decodeBody[map[string]any](t, w)
	for _, key := range []string{"id", "title", "content", "author", "created_at"} {
		if _, ok := body[key]; !ok {
			t.Errorf("expected key %q in %v", key, body)
		}
	}
}

func TestCreatePost_PreservesWhitespace(t *testing.T) {
	h := setupTestBoard(t).routes()

	w := doRequest(t, h, http.MethodPost, "/api/posts",
		`{"title":"  T  ","content":"    indented code\n\n","author":" Bob "}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	w = doRequest(t, h, http.MethodGet, "/api/posts", "")
	posts := decodeBody[[]Post](t, w)
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	p := posts[0]
	if p.Title != "  T  " {
		t.Errorf("expected title %q, got %q", "  T  ", p.Title)
	}
	if p.Content != "    indented code\n\n" {
		t.Errorf("expected content %q, got %q", "    indented code\n\n", p.Content)
	}
	if p.Author != " Bob " {
		t.Errorf("expected author %q, got %q", " Bob ", p.Author)
	}
}

func TestCreatePost_BlankAuthor(t *testing.T) {
	h := setupTestBoard(t).routes()

	w := doRequest(t, h, http.MethodPost, "/api/posts", `{"title":"T","content":"C","author":"   "}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
	}
	if got := decodeBody[Post](t, w).Author; got != "Anonymous" {
		t.Errorf("expected author 'Anonymous', got %q", got)
	}
}

func TestCreatePost_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty title", `{"title":"","content":"C"}`},
		{"missing title", `{"content":"C"}`},
		{"blank title", `{"title":"   ","content":"C"}`},
		{"missing content", `{"title":"T"}`},
		{"title too long", `{"title":"` + strings.Repeat("x", 256) + `","content":"C"}`},
		{"author too long", `{"title":"T","content":"C","author":"` + strings.Repeat("x", 101) + `"}`},
		{"unknown field", `{"title":"T","content":"C","extra":1}`},
		{"wrong type", `{"title":1,"content":"C"}`},
		{"malformed json", `{"title":`},
		{"trailing data", `{"title":"T","content":"C"}{}`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := setupTestBoard(t)

			req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			board.routes().ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			if body := decodeBody[errorResponse](t, w); body.Error == "" {
				t.Error("expected error message in response")
			}

			count, err := board.posts.countPosts(context.Background())
			if err != nil {
				t.Fatalf("countPosts() error: %v", err)
			}
			if count != 0 {
				t.Errorf("expected no posts, got %d", count)
			}
		})
	}
}

func TestCreatePost_TitleAtLimit(t *testing.T) {
	h := setupTestBoard(t).routes()

	title := strings.Repeat("é", 255)
	w := doRequest(t, h, http.MethodPost, "/api/posts", `{"title":"`+title+`","content":"C"}`)

	if w.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
}

func TestLogin_Success(t *testing.T) {
	h := setupTestBoard(t).routes()

	w := doRequest(t, h, http.MethodPost, "/api/admin/login", `{"username":"admin","password":"password"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !decodeBody[successResponse](t, w).Success {
		t.Error("expected success:true")
	}

	c := sessionCookie(t, w)
	if len(c.Value) != 64 {
		t.Errorf("expected 64 char session token, got %q", c.Value)
	}
	if !c.HttpOnly {
		t.Error("expected HttpOnly cookie")
	}
	if c.Path != "/" {
		t.Errorf("expected path /, got %q", c.Path)
	}
	if c.MaxAge != 3600 {
		t.Errorf("expected max-age 3600, got %d", c.MaxAge)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrong password", `{"username":"admin","password":"wrongpassword"}`},
		{"wrong username", `{"username":"root","password":"password"}`},
		{"both wrong", `{"username":"root","password":"nope"}`},
	}

	var messages []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupTestBoard(t).routes()

			w := doRequest(t, h, http.MethodPost, "/api/admin/login", tt.body)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
			}
			for _, c := range w.Result().Cookies() {
				if c.Name == sessionCookieName {
					t.Error("expected no session cookie")
				}
			}
			messages = append(messages, decodeBody[errorResponse](t, w).Error)
		})
	}

	for _, m := range messages {
		if m != "Invalid credentials" {
			t.Errorf("expected generic 'Invalid credentials', got %q", m)
		}
	}
}

func TestLogin_MissingFields(t *testing.T) {
	h := setupTestBoard(t).routes()

	for _, body := range []string{`{"username":"admin"}`, `{"password":"password"}`, `{}`, `not json`} {
		w := doRequest(t, h, http.MethodPost, "/api/admin/login", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status %d, got %d", body, http.StatusBadRequest, w.Code)
		}
	}
}

func TestLogin_RateLimited(t *testing.T) {
	board := setupTestBoard(t)
	board.limiter = newLoginLimiter(2, time.Minute)
	h := board.routes()

	for i := 0; i < 2; i++ {
		w := doRequest(t, h, http.MethodPost, "/api/admin/login", `{"username":"admin","password":"nope"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected status %d, got %d", i+1, http.StatusUnauthorized, w.Code)
		}
	}

	w := doRequest(t, h, http.MethodPost, "/api/admin/login", `{"username":"admin","password":"password"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestCheck(t *testing.T) {
	h := setupTestBoard(t).routes()

	w := doRequest(t, h, http.MethodGet, "/api/admin/check", "")
	if decodeBody[checkResponse](t, w).Authenticated {
		t.Error("expected unauthenticated without cookie")
	}

	w = doRequest(t, h, http.MethodGet, "/api/admin/check", "", &http.Cookie{Name: sessionCookieName, Value: "bogus"})
	if decodeBody[checkResponse](t, w).Authenticated {
		t.Error("expected unauthenticated with unknown token")
	}
}

func TestLoginCheckLogout(t *testing.T) {
	h := setupTestBoard(t).routes()
	cookie := loginAdmin(t, h)

	w := doRequest(t, h, http.MethodGet, "/api/admin/check", "", cookie)
	if w.Code != http.StatusOK || !decodeBody[checkResponse](t, w).Authenticated {
		t.Fatalf("expected authenticated after login, got %d %s", w.Code, w.Body.String())
	}

	w = doRequest(t, h, http.MethodPost, "/api/admin/logout", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !decodeBody[successResponse](t, w).Success {
		t.Error("expected success:true")
	}
	cleared := sessionCookie(t, w)
	if cleared.MaxAge != -1 || cleared.Value != "" {
		t.Errorf("expected cleared cookie, got %+v", cleared)
	}

	// The old token must not authenticate again.
	w = doRequest(t, h, http.MethodGet, "/api/admin/check", "", cookie)
	if decodeBody[checkResponse](t, w).Authenticated {
		t.Error("expected unauthenticated after logout")
	}
	w = doRequest(t, h, http.MethodGet, "/api/admin/stats", "", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d after logout, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestLogout_Unauthenticated(t *testing.T) {
	h := setupTestBoard(t).routes()

	tests := []struct {
		name    string
		cookies []*http.Cookie
	}{
		{"no cookie", nil},
		{"stale cookie", []*http.Cookie{{Name: sessionCookieName, Value: strings.Repeat("ab", 32)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodPost, "/api/admin/logout", "", tt.cookies...)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
			}
			if decodeBody[errorResponse](t, w).Error != "Unauthorized" {
				t.Errorf("unexpected body %s", w.Body.String())
			}
			cleared := sessionCookie(t, w)
			if cleared.MaxAge != -1 || cleared.Value != "" {
				t.Errorf("expected cleared cookie, got %+v", cleared)
			}
		})
	}
}

func TestLogout_ExpiredSession(t *testing.T) {
	board := setupTestBoard(t)
	clock := newFakeClock(time.Now())
	store := newMemorySessionStore(time.Hour)
	store.now = clock.Now
	board.sessions = store
	h := board.routes()

	cookie := loginAdmin(t, h)
	clock.Advance(2 * time.Hour)

	w := doRequest(t, h, http.MethodPost, "/api/admin/logout", "", cookie)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Errorf("expected Max-Age=0 cookie, got %q", w.Header().Get("Set-Cookie"))
	}
}

func TestSessionExpiry(t *testing.T) {
	board := setupTestBoard(t)
	clock := newFakeClock(time.Now())
	store := newMemorySessionStore(time.Hour)
	store.now = clock.Now
	board.sessions = store
	h := board.routes()

	cookie := loginAdmin(t, h)
	clock.Advance(time.Hour + time.Second)

	w := doRequest(t, h, http.MethodGet, "/api/admin/check", "", cookie)
	if decodeBody[checkResponse](t, w).Authenticated {
		t.Error("expected expired session to be rejected")
	}
	w = doRequest(t, h, http.MethodGet, "/api/admin/stats", "", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestStats_Unauthorized(t *testing.T) {
	h := setupTestBoard(t).routes()

	w := doRequest(t, h, http.MethodGet, "/api/admin/stats", "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
	body := decodeBody[map[string]any](t, w)
	for _, key := range []string{"totalPosts", "recentPosts", "postsPerDay", "lastUpdated"} {
		if _, ok := body[key]; ok {
			t.Errorf("unexpected stats field %q in unauthorized response", key)
		}
	}
	if body["error"] != "Unauthorized" {
		t.Errorf("expected Unauthorized error, got %v", body)
	}
}

func TestStats(t *testing.T) {
	board := setupTestBoard(t)
	now := time.Date(2026, 10, 19, 15, 30, 0, 0, time.Local)
	board.now = func() time.Time { return now }
	h := board.routes()
	ctx := context.Background()

	for _, at := range []time.Time{
		now.Add(-time.Hour),
		now.Add(-30 * time.Hour),
		now.AddDate(0, 0, -10),
	} {
		board.posts.now = func() time.Time { return at }
		if _, err := board.posts.createPost(ctx, "T", "C", ""); err != nil {
			t.Fatalf("createPost() error: %v", err)
		}
	}

	cookie := loginAdmin(t, h)
	w := doRequest(t, h, http.MethodGet, "/api/admin/stats", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	stats := decodeBody[Stats](t, w)
	if stats.TotalPosts != 3 {
		t.Errorf("expected totalPosts 3, got %d", stats.TotalPosts)
	}
	if stats.RecentPosts != 1 {
		t.Errorf("expected recentPosts 1, got %d", stats.RecentPosts)
	}
	if len(stats.PostsPerDay) != 7 {
		t.Fatalf("expected 7 days, got %d", len(stats.PostsPerDay))
	}
	sum := 0
	for _, day := range stats.PostsPerDay {
		sum += day.Count
	}
	if sum != 2 {
		t.Errorf("expected 2 posts in the histogram, got %d", sum)
	}
	if stats.PostsPerDay[6].Label != "Today" || stats.PostsPerDay[6].Count != 1 {
		t.Errorf("unexpected today entry %+v", stats.PostsPerDay[6])
	}
	if stats.LastUpdated != now.UTC().Format(isoMillisUTC) {
		t.Errorf("unexpected lastUpdated %q", stats.LastUpdated)
	}
}

func TestClear(t *testing.T) {
	board := setupTestBoard(t)
	h := board.routes()

	for i := 0; i < 3; i++ {
		doRequest(t, h, http.MethodPost, "/api/posts", `{"title":"T","content":"C"}`)
	}

	w := doRequest(t, h, http.MethodDelete, "/api/admin/clear", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
	if count, _ := board.posts.countPosts(context.Background()); count != 3 {
		t.Fatalf("expected unauthorized clear to keep posts, got %d", count)
	}

	cookie := loginAdmin(t, h)
	w = doRequest(t, h, http.MethodDelete, "/api/admin/clear", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !decodeBody[successResponse](t, w).Success {
		t.Error("expected success:true")
	}

	w = doRequest(t, h, http.MethodGet, "/api/posts", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected no posts after clear, got %s", w.Body.String())
	}
}

func TestAPINotFound(t *testing.T) {
	h := setupTestBoard(t).routes()

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/nope"},
		{http.MethodPut, "/api/posts"},
		{http.MethodGet, "/api/admin/login"},
	}

	for _, tt := range tests {
		w := doRequest(t, h, tt.method, tt.target, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected status %d, got %d", tt.method, tt.target, http.StatusNotFound, w.Code)
		}
		if decodeBody[errorResponse](t, w).Error != "Not found" {
			t.Errorf("%s %s: unexpected body %s", tt.method, tt.target, w.Body.String())
		}
	}
}

func TestCORS(t *testing.T) {
	h := setupTestBoard(t).routes()

	w := doRequest(t, h, http.MethodGet, "/api/posts", "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected open CORS, got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	w = doRequest(t, h, http.MethodOptions, "/api/admin/clear", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected preflight status %d, got %d", http.StatusOK, w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "DELETE") {
		t.Errorf("expected DELETE in allowed methods, got %q", got)
	}
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	d, _ := dialectFor("sqlite")
	board := NewBoard(testConfig(t), newPostStore(db, d), newMemorySessionStore(time.Hour), zap.NewNop())
	h := board.routes()

	mock.ExpectQuery("SELECT id, title, content, author, created_at FROM posts").
		WillReturnError(errors.New("dial tcp 10.0.0.5:3306: connection refused"))

	w := doRequest(t, h, http.MethodGet, "/api/posts", "")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Error("expected error details not to leak to the client")
	}
	if decodeBody[errorResponse](t, w).Error != "Internal server error" {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestRecoverFromPanic(t *testing.T) {
	board := setupTestBoard(t)
	h := board.withRequestLog(board.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	w := doRequest(t, h, http.MethodGet, "/", "")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestRecoverFromPanic_AfterWrite(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	board := setupTestBoard(t)
	board.log = zap.New(core)

	for name, h := range map[string]http.Handler{
		"bare":   board.withRecover(panicsAfterWrite()),
		"logged": board.withRequestLog(board.withRecover(panicsAfterWrite())),
	} {
		t.Run(name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodGet, "/", "")

			if w.Code != http.StatusAccepted {
				t.Errorf("expected status %d, got %d", http.StatusAccepted, w.Code)
			}
			if w.Body.String() != "partial" {
				t.Errorf("expected only the handler's output, got %q", w.Body.String())
			}
		})
	}

	if n := logs.FilterMessage("panic").Len(); n != 2 {
		t.Errorf("expected 2 logged panics, got %d", n)
	}
}

func panicsAfterWrite() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("partial"))
		panic("boom")
	})
}

func TestHealth(t *testing.T) {
	h := setupTestBoard(t).routes()

	w := doRequest(t, h, http.MethodGet, "/healthz", "")

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}
