package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/progresshub/internal/auth"
	"github.com/geocoder89/progresshub/internal/config"
	"github.com/geocoder89/progresshub/internal/db"
	"github.com/geocoder89/progresshub/internal/domain/user"
	apphttp "github.com/geocoder89/progresshub/internal/http"
	"github.com/geocoder89/progresshub/internal/http/handlers"
	"github.com/geocoder89/progresshub/internal/observability"
	"github.com/geocoder89/progresshub/internal/ratelimit"
	"github.com/geocoder89/progresshub/internal/repo/memory"
	"github.com/geocoder89/progresshub/internal/repo/postgres"
	"github.com/geocoder89/progresshub/internal/security"
	"github.com/geocoder89/progresshub/internal/service/accounts"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin-password"
)

func testConfig() config.Config {
	return config.Config{
		Env:                "test",
		Storage:            "memory",
		JWTSecret:          "test-secret-key",
		JWTExpiresIn:       time.Hour,
		BcryptCost:         bcrypt.MinCost,
		AuthRateLimit:      1000,
		AuthRateWindow:     time.Minute,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		MaxBodyBytes:       1 << 20,
	}
}

type testApp struct {
	router http.Handler
	tokens *auth.Manager
}

func newApp(t *testing.T, store accounts.Store, reports handlers.ReportStore, limiter ratelimit.Limiter) testApp {
	t.Helper()
	return newAppWithConfig(t, testConfig(), store, reports, limiter)
}

func newAppWithConfig(t *testing.T, cfg config.Config, store accounts.Store, reports handlers.ReportStore, limiter ratelimit.Limiter) testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.JWTExpiresIn)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	svc := accounts.NewService(store, security.NewHasher(cfg.BcryptCost, 4), logger)
	if err := svc.EnsureAdmin(context.Background(), "Admin", adminEmail, adminPassword); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	reg := prometheus.NewRegistry()

	router := apphttp.NewRouter(logger, cfg, apphttp.Deps{
		Accounts: svc,
		Tokens:   tokens,
		Reports:  reports,
		Limiter:  limiter,
		Prom:     observability.NewProm(reg),
		Gatherer: reg,
	})

	return testApp{router: router, tokens: tokens}
}

func newMemoryApp(t *testing.T) testApp {
	return newApp(t, memory.NewUsersRepo(), memory.NewReportsRepo(), ratelimit.NewMemory(1000, time.Minute))
}

// helpers

type authResponse struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

type errorResponse struct {
	Error handlers.APIError `json:"error"`
}

func doRequest(router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

func login(t *testing.T, router http.Handler, email, password string) authResponse {
	t.Helper()

	w := doRequest(router, http.MethodPost, "/api/auth/login", `{"email":"`+email+`","password":"`+password+`"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: got %d body=%s", email, w.Code, w.Body.String())
	}

	var resp authResponse
	mustReadJSON(t, w, &resp)
	return resp
}

func runAuthFlow(t *testing.T, app testApp) {
	router := app.router

	// register Ann
	w := doRequest(router, http.MethodPost, "/api/auth/register", `{"name":"Ann","email":"ann@x.com","password":"secret1"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register: got %d body=%s", w.Code, w.Body.String())
	}

	var reg authResponse
	mustReadJSON(t, w, &reg)

	if reg.User.Email != "ann@x.com" || reg.Token == "" || reg.User.ID == "" {
		t.Fatalf("unexpected register response %+v", reg)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) || bytes.Contains(w.Body.Bytes(), []byte("$2a$")) {
		t.Fatalf("password material leaked: %s", w.Body.String())
	}

	// same email again
	w = doRequest(router, http.MethodPost, "/api/auth/register", `{"name":"Ann 2","email":"ann@x.com","password":"another1"}`, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: got %d body=%s", w.Code, w.Body.String())
	}

	// wrong password and unknown email look the same
	for _, body := range []string{
		`{"email":"ann@x.com","password":"wrong"}`,
		`{"email":"nobody@x.com","password":"secret1"}`,
	} {
		w = doRequest(router, http.MethodPost, "/api/auth/login", body, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("bad login: got %d body=%s", w.Code, w.Body.String())
		}

		var e errorResponse
		mustReadJSON(t, w, &e)
		if e.Error.Message != "Invalid credentials" {
			t.Fatalf("unexpected message %q", e.Error.Message)
		}
	}

	// correct login, token carries the same identity
	ann := login(t, router, "ann@x.com", "secret1")
	if ann.User.ID != reg.User.ID {
		t.Fatalf("login returned a different user: %s vs %s", ann.User.ID, reg.User.ID)
	}

	claims, err := app.tokens.Verify(ann.Token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if claims.UserID != reg.User.ID || claims.Email != "ann@x.com" || claims.Role != user.RoleNone {
		t.Fatalf("unexpected claims %+v", claims)
	}

	// profile
	w = doRequest(router, http.MethodGet, "/api/users/me", "", ann.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("me: got %d body=%s", w.Code, w.Body.String())
	}

	var me user.User
	mustReadJSON(t, w, &me)
	if me.ID != reg.User.ID || me.Name != "Ann" {
		t.Fatalf("unexpected profile %+v", me)
	}

	// non-admin cannot list users
	w = doRequest(router, http.MethodGet, "/api/users", "", ann.Token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("list as user: got %d", w.Code)
	}

	// admin can
	admin := login(t, router, adminEmail, adminPassword)
	if admin.User.Role != user.RoleAdmin {
		t.Fatalf("seeded admin has role %q", admin.User.Role)
	}

	w = doRequest(router, http.MethodGet, "/api/users", "", admin.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("list as admin: got %d body=%s", w.Code, w.Body.String())
	}

	var users []user.User
	mustReadJSON(t, w, &users)
	if len(users) != 2 {
		t.Fatalf("expected admin and Ann, got %d users", len(users))
	}
}

func TestAuthFlow_Memory(t *testing.T) {
	runAuthFlow(t, newMemoryApp(t))
}

// TEST_DB_DSN points at a disposable database; the schema is migrated and
// the tables truncated before the run.
func TestAuthFlow_Postgres(t *testing.T) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := pool.Exec(ctx, `TRUNCATE reports, users CASCADE`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	prom := observability.NewProm(prometheus.NewRegistry())
	app := newApp(t, postgres.NewUsersRepo(pool, prom), postgres.NewReportsRepo(pool, prom), nil)

	runAuthFlow(t, app)
}

func TestProtectedRoutes_RejectBadHeaders(t *testing.T) {
	app := newMemoryApp(t)

	expired, _ := auth.NewManager(testConfig().JWTSecret, -time.Minute)
	stale, _ := expired.Issue(auth.Identity{ID: "u1", Email: "a@x.com"})

	for _, path := range []string{"/api/users/me", "/api/users"} {
		for name, header := range map[string]string{
			"missing":       "",
			"wrong scheme":  "Token abc",
			"expired token": "Bearer " + stale,
		} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			app.router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("%s %s: got %d", path, name, w.Code)
			}
		}
	}
}

func TestTeacherRole_GatedFromAdminRoute(t *testing.T) {
	app := newMemoryApp(t)

	token, err := app.tokens.Issue(auth.Identity{ID: "t1", Email: "t@x.com", Role: user.RoleTeacher})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if w := doRequest(app.router, http.MethodGet, "/api/users", "", token); w.Code != http.StatusForbidden {
		t.Fatalf("admin route: got %d", w.Code)
	}

	// unrestricted authenticated route
	w := doRequest(app.router, http.MethodPost, "/api/reports", `{"title":"Week 1","content":"ok"}`, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("reports create: got %d body=%s", w.Code, w.Body.String())
	}
}

func TestRegister_ConcurrentDuplicateEmail(t *testing.T) {
	app := newMemoryApp(t)

	const n = 6
	codes := make([]int, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := doRequest(app.router, http.MethodPost, "/api/auth/register", `{"name":"Race","email":"race@x.com","password":"secret1"}`, "")
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}

	if created != 1 || conflicts != n-1 {
		t.Fatalf("got %d created, %d conflicts", created, conflicts)
	}
}

func TestRegister_Validation(t *testing.T) {
	app := newMemoryApp(t)

	for _, body := range []string{
		`{"name":"","email":"a@x.com","password":"secret1"}`,
		`{"name":"A","email":"not-an-email","password":"secret1"}`,
		`{"name":"A","email":"a@x.com","password":"12345"}`,
		`{"name":"A","email":"a@x.com","password":"` + strings.Repeat("é", 40) + `"}`,
		`{"name":"A","email":"a@x.com"`,
	} {
		w := doRequest(app.router, http.MethodPost, "/api/auth/register", body, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d", body, w.Code)
		}
	}
}

func TestAuthRoutes_RateLimited(t *testing.T) {
	app := newApp(t, memory.NewUsersRepo(), memory.NewReportsRepo(), ratelimit.NewMemory(2, time.Minute))

	body := `{"email":"ann@x.com","password":"wrong"}`
	for i := 0; i < 2; i++ {
		if w := doRequest(app.router, http.MethodPost, "/api/auth/login", body, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: got %d", i, w.Code)
		}
	}

	w := doRequest(app.router, http.MethodPost, "/api/auth/login", body, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func loginFrom(router http.Handler, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"email":"ann@x.com","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestAuthRoutes_RateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	app := newApp(t, memory.NewUsersRepo(), memory.NewReportsRepo(), ratelimit.NewMemory(1, time.Minute))

	if code := loginFrom(app.router, "203.0.113.1"); code != http.StatusUnauthorized {
		t.Fatalf("first attempt: got %d", code)
	}

	for _, ip := range []string{"203.0.113.2", "203.0.113.3", "198.51.100.7", "10.9.8.7"} {
		if code := loginFrom(app.router, ip); code != http.StatusTooManyRequests {
			t.Fatalf("X-Forwarded-For %s: got %d, want 429", ip, code)
		}
	}
}

func TestAuthRoutes_RateLimitHonoursTrustedProxy(t *testing.T) {
	cfg := testConfig()
	// httptest requests come from 192.0.2.1
	cfg.TrustedProxies = []string{"192.0.2.1"}

	app := newAppWithConfig(t, cfg, memory.NewUsersRepo(), memory.NewReportsRepo(), ratelimit.NewMemory(1, time.Minute))

	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		if code := loginFrom(app.router, ip); code != http.StatusUnauthorized {
			t.Fatalf("client %s: got %d", ip, code)
		}
	}

	if code := loginFrom(app.router, "203.0.113.1"); code != http.StatusTooManyRequests {
		t.Fatalf("repeat client: got %d, want 429", code)
	}
}

func TestAmbientRoutes(t *testing.T) {
	app := newMemoryApp(t)

	w := doRequest(app.router, http.MethodGet, "/", "", "")
	if w.Code != http.StatusOK || w.Body.String() != "AI Progress Report API" {
		t.Fatalf("root: got %d %q", w.Code, w.Body.String())
	}

	if w := doRequest(app.router, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", w.Code)
	}

	w = doRequest(app.router, http.MethodGet, "/nope", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route: got %d", w.Code)
	}
	var e errorResponse
	mustReadJSON(t, w, &e)
	if e.Error.Code != "not_found" {
		t.Fatalf("unknown route code %q", e.Error.Code)
	}

	_ = doRequest(app.router, http.MethodPost, "/api/auth/login", `{"email":"x@x.com","password":"p"}`, "")
	w = doRequest(app.router, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("progresshub_auth_attempts_total")) {
		t.Fatalf("metrics missing auth counter: %d", w.Code)
	}
}
