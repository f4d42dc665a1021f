package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewMemStore(), Config{
		Secret:     "test-secret",
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "ana", "correct-horse", "admin")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == "" {
		t.Error("expected an assigned user id")
	}
	if !user.Active {
		t.Error("new users should start active")
	}

	token, expires, err := svc.Login(ctx, "ana", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if !expires.After(time.Now()) {
		t.Errorf("expiry %v should be in the future", expires)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != user.ID || claims.Name != "ana" || claims.Role != "admin" {
		t.Errorf("claims = %+v, want user %q name ana role admin", claims, user.ID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "ana", "correct-horse", "admin"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name     string
		user     string
		password string
	}{
		{"wrong password", "ana", "wrong-horse"},
		{"unknown user", "nobody", "correct-horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Login(ctx, tt.user, tt.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestLoginRejectsDisabledUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user, err := svc.Register(ctx, "ana", "correct-horse", "admin")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.store.SetActive(ctx, user.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, _, err := svc.Login(ctx, "ana", "correct-horse"); !errors.Is(err, ErrUserDisabled) {
		t.Errorf("Login error = %v, want ErrUserDisabled", err)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Register(context.Background(), "ana", "short", "admin"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("Register error = %v, want ErrWeakPassword", err)
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "ana", "correct-horse", "admin"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := svc.Login(ctx, "ana", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"no separator", strings.ReplaceAll(token, ".", "")},
		{"swapped signature", strings.Split(token, ".")[0] + ".AAAA"},
		{"garbage", "not-a-token"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateToken error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "ana", "correct-horse", "admin"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := svc.Login(ctx, "ana", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ValidateToken error = %v, want ErrTokenExpired", err)
	}
}

func TestRequireAuthMiddleware(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "ana", "correct-horse", "admin"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := svc.Login(ctx, "ana", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	var gotClaims *Claims
	handler := svc.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer junk", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotClaims = nil
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusNoContent && (gotClaims == nil || gotClaims.Name != "ana") {
				t.Errorf("claims = %+v, want name ana", gotClaims)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for _, u := range []struct{ name, role string }{
		{"ana", "admin"}, {"ben", "viewer"},
	} {
		if _, err := svc.Register(ctx, u.name, "correct-horse", u.role); err != nil {
			t.Fatalf("Register %s: %v", u.name, err)
		}
	}

	handler := svc.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		user       string
		wantStatus int
	}{
		{"ana", http.StatusNoContent},
		{"ben", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			token, _, err := svc.Login(ctx, tt.user, "correct-horse")
			if err != nil {
				t.Fatalf("Login: %v", err)
			}
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestMemStoreRejectsDuplicateName(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	if err := store.CreateUser(ctx, &User{Name: "ana", Active: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateUser(ctx, &User{Name: "ana", Active: true}); !errors.Is(err, ErrUserExists) {
		t.Errorf("CreateUser error = %v, want ErrUserExists", err)
	}
}
