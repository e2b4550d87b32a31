package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/garnizeh/orchestrator/api"
	migrations "github.com/garnizeh/orchestrator/db"
	"github.com/garnizeh/orchestrator/internal/db"
	"github.com/garnizeh/orchestrator/internal/repository/sqlite"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	ctx := context.Background()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	d, err := db.New(ctx, dsn, slog.Default())
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := db.Migrate(ctx, d, migrations.Migrations, migrations.SeedFiles); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return sqlite.New(d, slog.Default()).Repository()
}

func TestSignupAndSignin(t *testing.T) {
	repo := newTestRepo(t)
	h := api.NewAuthHandler(repo.User, "test-secret", time.Hour)

	signup := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/signup", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.Signup(w, req)
		return w
	}
	signin := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/signin", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.Signin(w, req)
		return w
	}

	// signup issues a token right away
	w := signup(`{"name":"Ada","email":"ada@example.com","password":"longenough"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("signup: expected a token")
	}

	// signin with the right password works
	w = signin(`{"email":"ada@example.com","password":"longenough"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// signin with the wrong password is rejected
	w = signin(`{"email":"ada@example.com","password":"wrongpassword"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("signin wrong password: expected 401, got %d", w.Code)
	}

	// signin for an unknown user is rejected
	w = signin(`{"email":"nobody@example.com","password":"longenough"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("signin unknown user: expected 401, got %d", w.Code)
	}
}

func TestSignupValidation(t *testing.T) {
	repo := newTestRepo(t)
	h := api.NewAuthHandler(repo.User, "test-secret", time.Hour)

	cases := []struct {
		name string
		body string
	}{
		{name: "InvalidJSON", body: `{not json`},
		{name: "MissingName", body: `{"email":"a@b.co","password":"longenough"}`},
		{name: "BadEmail", body: `{"name":"Ada","email":"not-an-email","password":"longenough"}`},
		{name: "ShortPassword", body: `{"name":"Ada","email":"a@b.co","password":"short"}`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/auth/signup", strings.NewReader(c.body))
			w := httptest.NewRecorder()
			h.Signup(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestSignout(t *testing.T) {
	repo := newTestRepo(t)
	h := api.NewAuthHandler(repo.User, "test-secret", time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/signout", nil)
	w := httptest.NewRecorder()
	h.Signout(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "signed out") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
