package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/fabric/pkg/auth"
	"github.com/Mindburn-Labs/fabric/pkg/principal"
)

const testSecret = "test-signing-secret"

// createTestToken signs an HS256 JWT with the test secret.
func createTestToken(t *testing.T, secret, sub, tenantID string, roles []string, expiry time.Time) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "fabric-test",
		},
		TenantID: tenantID,
		Roles:    roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestMiddleware_ValidJWT(t *testing.T) {
	middleware := auth.NewMiddleware(nil, auth.NewJWTValidator(testSecret))

	var capturedPrincipal principal.Principal
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := principal.FromContext(r.Context())
		if err != nil {
			t.Errorf("expected principal in context: %v", err)
		}
		capturedPrincipal = p
		w.WriteHeader(http.StatusOK)
	}))

	token := createTestToken(t, testSecret, "user-123", "tenant-abc", []string{"admin"}, time.Now().Add(1*time.Hour))

	req := httptest.NewRequest("GET", "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if capturedPrincipal == nil {
		t.Fatal("principal was not set in context")
	}
	if capturedPrincipal.GetID() != "user-123" {
		t.Errorf("expected subject 'user-123', got %q", capturedPrincipal.GetID())
	}
	if capturedPrincipal.GetTenantID() != "tenant-abc" {
		t.Errorf("expected tenant 'tenant-abc', got %q", capturedPrincipal.GetTenantID())
	}
}

func TestMiddleware_APIKey(t *testing.T) {
	keys := auth.APIKeyMap{"dev-key": "tenant-dev"}
	middleware := auth.NewMiddleware(keys, nil)

	var capturedTenant string
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedTenant, _ = principal.TenantID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/receipts", nil)
	req.Header.Set("X-API-Key", "dev-key")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if capturedTenant != "tenant-dev" {
		t.Errorf("expected tenant 'tenant-dev', got %q", capturedTenant)
	}
}

func TestMiddleware_UnknownAPIKey(t *testing.T) {
	middleware := auth.NewMiddleware(auth.APIKeyMap{"dev-key": "tenant-dev"}, nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for unknown API key")
	}))

	req := httptest.NewRequest("POST", "/receipts", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_ExpiredJWT(t *testing.T) {
	middleware := auth.NewMiddleware(nil, auth.NewJWTValidator(testSecret))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for expired token")
	}))

	token := createTestToken(t, testSecret, "user-123", "tenant-abc", []string{"admin"}, time.Now().Add(-1*time.Hour))

	req := httptest.NewRequest("GET", "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_MissingCredential(t *testing.T) {
	middleware := auth.NewMiddleware(nil, auth.NewJWTValidator(testSecret))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without a credential")
	}))

	req := httptest.NewRequest("GET", "/tasks", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	middleware := auth.NewMiddleware(nil, auth.NewJWTValidator(testSecret))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for invalid signature")
	}))

	token := createTestToken(t, "other-secret", "user-123", "tenant-abc", []string{"admin"}, time.Now().Add(1*time.Hour))

	req := httptest.NewRequest("GET", "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_PublicPathsBypass(t *testing.T) {
	middleware := auth.NewMiddleware(nil, auth.NewJWTValidator(testSecret))

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should be called for public paths without auth")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMiddleware_NilValidator_FailClosed(t *testing.T) {
	middleware := auth.NewMiddleware(nil, auth.NewJWTValidator(""))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called when bearer auth is not configured")
	}))

	req := httptest.NewRequest("GET", "/tasks", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_MissingTenantClaim(t *testing.T) {
	middleware := auth.NewMiddleware(nil, auth.NewJWTValidator(testSecret))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for missing tenant claim")
	}))

	token := createTestToken(t, testSecret, "user-123", "", []string{"admin"}, time.Now().Add(1*time.Hour))
	req := httptest.NewRequest("GET", "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_MissingSubjectClaim(t *testing.T) {
	middleware := auth.NewMiddleware(nil, auth.NewJWTValidator(testSecret))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for missing subject claim")
	}))

	token := createTestToken(t, testSecret, "", "tenant-abc", []string{"admin"}, time.Now().Add(1*time.Hour))
	req := httptest.NewRequest("GET", "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestGetRequestID_ExtractsFromContext(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/tasks", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got == "" {
		t.Fatal("expected non-empty request id from context")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
}
