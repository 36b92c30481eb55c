package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddleware_ValidKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	rawKey, _, _ := mgr.GenerateKey(t.Context(), "usr_1", "user", "test")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/v1/apps", nil)
	c.Request.Header.Set("Authorization", "Bearer "+rawKey)

	Middleware(mgr)(c)

	if GetAuthenticatedOwner(c) != "usr_1" {
		t.Errorf("Expected authenticated owner usr_1, got %q", GetAuthenticatedOwner(c))
	}
	if !IsAuthenticated(c) {
		t.Error("Expected IsAuthenticated to be true")
	}
}

func TestMiddleware_AltHeader(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	rawKey, _, _ := mgr.GenerateKey(t.Context(), "usr_2", "user", "test")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/v1/apps", nil)
	c.Request.Header.Set("X-API-Key", rawKey)

	Middleware(mgr)(c)

	if GetAuthenticatedOwner(c) != "usr_2" {
		t.Errorf("Expected X-API-Key header to authenticate, got %q", GetAuthenticatedOwner(c))
	}
}

func TestMiddleware_InvalidKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/v1/apps", nil)
	c.Request.Header.Set("Authorization", "Bearer sk_bogus")

	Middleware(mgr)(c)

	if IsAuthenticated(c) {
		t.Error("Expected invalid key to not authenticate")
	}
}

func TestRequireAuth_Rejects(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/v1/apps", nil)

	RequireAuth(mgr)(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without auth, got %d", w.Code)
	}
}

func TestRequireAuth_Passes(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/v1/apps", nil)
	c.Set(ContextKeyAPIKey, &APIKey{OwnerID: "usr_1"})

	RequireAuth(mgr)(c)

	if c.IsAborted() {
		t.Error("Expected authenticated request to pass")
	}
}

func TestRequireAdmin_AdminRolePasses(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/v1/admin/users", nil)
	c.Set(ContextKeyAPIKey, &APIKey{OwnerID: "usr_admin", Role: "admin"})

	RequireAdmin("supersecret")(c)

	if c.IsAborted() {
		t.Error("Expected admin-role key to pass")
	}
}

func TestRequireAdmin_CorrectSecret(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/v1/admin/users", nil)
	c.Request.Header.Set("X-Admin-Secret", "supersecret123")

	RequireAdmin("supersecret123")(c)

	if c.IsAborted() {
		t.Error("Expected correct admin secret to pass")
	}
}

func TestRequireAdmin_WrongSecret(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/v1/admin/users", nil)
	c.Request.Header.Set("X-Admin-Secret", "wrongsecret")

	RequireAdmin("supersecret123")(c)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for wrong secret, got %d", w.Code)
	}
}

func TestRequireAdmin_UserRoleRejects(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/v1/admin/users", nil)
	c.Set(ContextKeyAPIKey, &APIKey{OwnerID: "usr_1", Role: "user"})

	RequireAdmin("supersecret123")(c)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for user-role key, got %d", w.Code)
	}
}
