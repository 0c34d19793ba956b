package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidsafe-go/pkg/token"
)

type fakeRevocation struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRevocation) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	return f.revoked[tokenString], f.err
}

func newRouter(jwt *token.JWTManager, rev RevocationChecker, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	g := r.Group("/", AuthMiddleware(jwt, rev))
	if role != "" {
		g.Use(RequireRole(role))
	}
	g.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetString(ContextUserID), "role": c.GetString(ContextRole), "parentId": c.GetString(ContextParentID)})
	})
	return r
}

func doGet(r http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	jwt := token.NewJWTManager("secret", 1, 1)
	access, refresh, err := jwt.GeneratePair("kid-1", token.RoleKid, "parent-1")
	require.NoError(t, err)
	rev := &fakeRevocation{revoked: map[string]bool{}}
	r := newRouter(jwt, rev, "")

	w := doGet(r, "Bearer "+access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"kid-1","role":"kid","parentId":"parent-1"}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, doGet(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, access).Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Bearer "+refresh).Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Bearer garbage").Code)

	rev.revoked[access] = true
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Bearer "+access).Code)

	rev.err = errors.New("redis down")
	assert.Equal(t, http.StatusInternalServerError, doGet(r, "Bearer "+access).Code)
}

func TestRequireRole(t *testing.T) {
	jwt := token.NewJWTManager("secret", 1, 1)
	kid, err := jwt.GenerateToken("kid-1", token.RoleKid, "parent-1")
	require.NoError(t, err)
	parent, err := jwt.GenerateToken("parent-1", token.RoleParent, "parent-1")
	require.NoError(t, err)

	r := newRouter(jwt, nil, token.RoleParent)
	assert.Equal(t, http.StatusOK, doGet(r, "Bearer "+parent).Code)
	assert.Equal(t, http.StatusForbidden, doGet(r, "Bearer "+kid).Code)
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RequireRole(token.RoleKid), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestLogger_PreservesBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(b))
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("payload")))
	assert.Equal(t, "payload", w.Body.String())
}
