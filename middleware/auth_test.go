package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"study-analyzer-platform/internal/config"
	"study-analyzer-platform/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func authRouter(t *testing.T, secret string) (*gin.Engine, *string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var gotUserID string
	router := gin.New()
	auth := NewAuthMiddleware(&config.Config{JWTSecret: secret})
	router.GET("/protected", auth.RequireAuth(), func(c *gin.Context) {
		gotUserID = GetUserID(c)
		c.Status(http.StatusOK)
	})
	return router, &gotUserID
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	router, gotUserID := authRouter(t, "secret")

	userID := primitive.NewObjectID().Hex()
	token, err := utils.GenerateJWT(userID, "a@b.c", "secret", time.Hour)
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *gotUserID != userID {
		t.Errorf("user id = %q, want %q", *gotUserID, userID)
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	router, _ := authRouter(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthRejectsWrongSecret(t *testing.T) {
	router, _ := authRouter(t, "secret")

	token, err := utils.GenerateJWT(primitive.NewObjectID().Hex(), "", "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthRejectsExpiredToken(t *testing.T) {
	router, _ := authRouter(t, "secret")

	token, err := utils.GenerateJWT(primitive.NewObjectID().Hex(), "", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
