package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/keypost/keypost/internal/auth"
	"github.com/keypost/keypost/internal/idp"
	"github.com/keypost/keypost/internal/metrics"
	"github.com/keypost/keypost/internal/middleware"
	"github.com/keypost/keypost/internal/model"
	"github.com/keypost/keypost/internal/repository"
	"github.com/keypost/keypost/internal/service"
)

const (
	testRealmPath = "/realms/murasaki-poc"
	testKeyID     = "e2e-key"
	testEmail     = "testuser@example.com"
	testPassword  = "password"
	testSubject   = "7d3c1a90-5b2e-4f7a-9c11-000000000042"
)

// memoryStore is an in-memory users and posts store with the same upsert
// semantics as the users table.
type memoryStore struct {
	mu      sync.Mutex
	users   map[string]*model.User
	posts   []*model.Post
	upserts int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[string]*model.User)}
}

func (m *memoryStore) UpsertUserBySubject(_ context.Context, p repository.UserProfile) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++

	now := time.Now().UTC()
	u, ok := m.users[p.Subject]
	if !ok {
		u = &model.User{ID: "user-" + p.Subject, KeycloakID: p.Subject, CreatedAt: now}
		m.users[p.Subject] = u
	}
	u.Email, u.FirstName, u.LastName = p.Email, p.FirstName, p.LastName
	u.UpdatedAt = now
	copied := *u
	return &copied, nil
}

func (m *memoryStore) CreatePost(_ context.Context, post *model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, post)
	return nil
}

func (m *memoryStore) ListPostsByAuthor(_ context.Context, authorID string, _ int) ([]*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Post
	for i := len(m.posts) - 1; i >= 0; i-- {
		if m.posts[i].AuthorID == authorID {
			out = append(out, m.posts[i])
		}
	}
	return out, nil
}

func (m *memoryStore) userCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// fakeKeycloak serves the realm's token and certs endpoints and issues
// RS256 tokens for a single test user.
type fakeKeycloak struct {
	t      *testing.T
	key    *rsa.PrivateKey
	server *httptest.Server
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	kc := &fakeKeycloak{t: t, key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+testRealmPath+"/protocol/openid-connect/token", kc.token)
	mux.HandleFunc("GET "+testRealmPath+"/protocol/openid-connect/certs", kc.certs)
	kc.server = httptest.NewServer(mux)
	t.Cleanup(kc.server.Close)
	return kc
}

func (kc *fakeKeycloak) issuer() string {
	return kc.server.URL + testRealmPath
}

func (kc *fakeKeycloak) sign(claims jwt.MapClaims) string {
	kc.t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(kc.key)
	if err != nil {
		kc.t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (kc *fakeKeycloak) claims(exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":         kc.issuer(),
		"sub":         testSubject,
		"email":       testEmail,
		"given_name":  "Test",
		"family_name": "User",
		"iat":         time.Now().Unix(),
		"exp":         exp.Unix(),
	}
}

func (kc *fakeKeycloak) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if r.PostForm.Get("grant_type") != "password" ||
		r.PostForm.Get("username") != testEmail ||
		r.PostForm.Get("password") != testPassword {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid user credentials"}`)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":       kc.sign(kc.claims(time.Now().Add(5 * time.Minute))),
		"expires_in":         300,
		"refresh_expires_in": 1800,
		"token_type":         "Bearer",
		"scope":              "email profile",
	})
}

func (kc *fakeKeycloak) certs(w http.ResponseWriter, _ *http.Request) {
	key, err := jwk.Import(&kc.key.PublicKey)
	if err != nil {
		kc.t.Errorf("failed to import public key: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_ = key.Set(jwk.KeyIDKey, testKeyID)
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	set := jwk.NewSet()
	_ = set.AddKey(key)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

type testApp struct {
	keycloak *fakeKeycloak
	store    *memoryStore
	metrics  *metrics.InMemoryRecorder
	router   http.Handler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	kc := newFakeKeycloak(t)
	endpoints := idp.KeycloakEndpoints(kc.issuer())
	httpClient := idp.NewHTTPClient(2 * time.Second)
	recorder := metrics.NewInMemory()

	keys, err := auth.NewRemoteKeySet(context.Background(), endpoints.JWKSURL, httpClient,
		auth.WithRefreshObserver(recorder.IncKeySetRefresh))
	if err != nil {
		t.Fatalf("NewRemoteKeySet: %v", err)
	}

	store := newMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := NewRouter(Deps{
		Logger:   logger,
		Metrics:  recorder,
		Verifier: auth.NewVerifier(kc.issuer(), keys),
		Mirror:   service.NewUserService(store, recorder),
		Login: idp.NewClient(idp.Config{
			TokenURL:   endpoints.TokenURL,
			ClientID:   "elysia-backend",
			HTTPClient: httpClient,
		}),
		Posts:    service.NewPostService(store, recorder),
		Security: middleware.SecurityConfig{IsDevelopment: true, MaxRequestBodySize: 1 << 20},
		CORS:     middleware.DefaultCORSConfig(),
	})

	return &testApp{keycloak: kc, store: store, metrics: recorder, router: router}
}

func (a *testApp) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) login(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/login",
		`{"email":"`+testEmail+`","password":"`+testPassword+`"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	if tokens.AccessToken == "" {
		t.Fatal("login returned empty access_token")
	}
	return tokens.AccessToken
}

func TestScenario_LoginReturnsAccessToken(t *testing.T) {
	app := newTestApp(t)
	app.login(t)

	if app.metrics.Snapshot().LoginAttempts[metrics.LoginSuccess] != 1 {
		t.Errorf("expected one successful login, got %v", app.metrics.Snapshot().LoginAttempts)
	}
}

func TestScenario_LoginWrongPassword(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/auth/login", `{"email":"`+testEmail+`","password":"nope"}`, "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"error":"Invalid user credentials"}` {
		t.Errorf("unexpected body %s", body)
	}
}

func TestScenario_CreatePostWithToken(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t)

	rec := app.do(t, http.MethodPost, "/posts",
		`{"title":"Hello World from Verification Script","content":"This post was created via automated testing."}`, token)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var post struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Content  *string `json:"content"`
		AuthorID string  `json:"authorId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&post); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	if post.Title != "Hello World from Verification Script" {
		t.Errorf("unexpected title %q", post.Title)
	}
	if post.Content == nil || *post.Content != "This post was created via automated testing." {
		t.Errorf("unexpected content %v", post.Content)
	}

	user := app.store.users[testSubject]
	if user == nil {
		t.Fatal("caller was not mirrored")
	}
	if post.AuthorID != user.ID {
		t.Errorf("authorId = %q, want mirrored user %q", post.AuthorID, user.ID)
	}
	if user.Email == nil || *user.Email != testEmail {
		t.Errorf("mirrored email = %v", user.Email)
	}

	// The caller sees the post in their own list.
	rec = app.do(t, http.MethodGet, "/posts", "", token)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), post.ID) {
		t.Errorf("list: %d %s", rec.Code, rec.Body.String())
	}

	// The key was present on first fetch, so no forced refresh happened.
	if n := app.metrics.Snapshot().KeySetRefreshes[metrics.StatusSuccess]; n != 0 {
		t.Errorf("expected no forced key-set refresh, got %d", n)
	}
}

func TestScenario_RepeatedRequestsMirrorOneUser(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t)

	for i := 0; i < 3; i++ {
		if rec := app.do(t, http.MethodGet, "/posts", "", token); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	if app.store.userCount() != 1 {
		t.Errorf("expected 1 user, got %d", app.store.userCount())
	}
	if app.store.upserts != 3 {
		t.Errorf("expected one upsert per request, got %d", app.store.upserts)
	}
}

func TestScenario_CreatePostWithoutToken(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/posts", `{"title":"Should fail"}`, "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(app.store.posts) != 0 {
		t.Error("no post may be created")
	}
}

func TestScenario_BadTokenCreatesNoUser(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", app.keycloak.sign(app.keycloak.claims(time.Now().Add(-time.Minute)))},
		{"malformed", "not-a-jwt"},
		{"tampered", app.keycloak.sign(app.keycloak.claims(time.Now().Add(time.Minute))) + "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/posts", `{"title":"Should fail"}`, tt.token)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if body := strings.TrimSpace(rec.Body.String()); body != `{"error":"Unauthorized"}` {
				t.Errorf("unexpected body %s", body)
			}
		})
	}

	if app.store.upserts != 0 || app.store.userCount() != 0 {
		t.Errorf("rejected tokens touched the users store: upserts=%d users=%d", app.store.upserts, app.store.userCount())
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Errorf("health: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	rec = app.do(t, http.MethodGet, "/docs/openapi.yaml", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "BearerAuth") {
		t.Errorf("docs: %d", rec.Code)
	}

	rec = app.do(t, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("metrics without exposition handler: expected 503, got %d", rec.Code)
	}

	rec = app.do(t, http.MethodGet, "/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = app.do(t, http.MethodDelete, "/posts", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
