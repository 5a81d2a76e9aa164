package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-secret"

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context()).String() + "|" + GetRole(r.Context())))
	})
}

func TestJWTMiddleware(t *testing.T) {
	auth := NewJWTAuth(testSecret)
	userID := uuid.New()

	valid, err := auth.GenerateAccessToken(userID, RoleAdmin, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	expired, _ := auth.GenerateAccessToken(userID, RoleAdmin, -time.Minute)
	foreign, _ := NewJWTAuth("other-secret").GenerateAccessToken(userID, RoleAdmin, time.Minute)

	noRole := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(time.Minute).Unix(),
	})
	noRoleStr, _ := noRole.SignedString([]byte(testSecret))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid admin", "Bearer " + valid, http.StatusOK, userID.String() + "|admin"},
		{"missing role defaults to student", "Bearer " + noRoleStr, http.StatusOK, userID.String() + "|student"},
		{"missing header", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, "Invalid authorization format"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "Invalid token"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			auth.Middleware(echoIdentity()).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tc.wantBody) {
				t.Errorf("expected body to contain %q, got %s", tc.wantBody, rr.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	auth := NewJWTAuth(testSecret)
	handler := auth.Middleware(RequireRole(RoleAdmin)(echoIdentity()))

	tests := []struct {
		role       string
		wantStatus int
	}{
		{RoleAdmin, http.StatusOK},
		{RoleStudent, http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			token, _ := auth.GenerateAccessToken(uuid.New(), tc.role, time.Minute)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
		})
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.Allow("a") {
		t.Error("expected third immediate request to be limited")
	}
	if !rl.Allow("b") {
		t.Error("expected independent budget for another key")
	}

	if n := rl.evictIdle(time.Now().Add(time.Minute)); n != 2 {
		t.Errorf("expected 2 evicted visitors, got %d", n)
	}
	if !rl.Allow("a") {
		t.Error("expected fresh bucket after eviction")
	}
	rl.Stop()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.7:5000", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.50", "192.0.2.50"},
	}

	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := ClientIP(req); got != tc.want {
			t.Errorf("expected %q for %q, got %q", tc.want, tc.remoteAddr, got)
		}
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	handler := rl.Middleware(func(r *http.Request) string {
		return r.Header.Get("X-Key")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := []int{}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Key", "k")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected [204 429], got %v", codes)
	}

	// no key, no limit
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected unkeyed request to pass, got %d", rr.Code)
		}
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(RequestIDHeader)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rr.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected generated id echoed back, got %q / %q", seen, rr.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "req-123" || rr.Header().Get(RequestIDHeader) != "req-123" {
		t.Errorf("expected incoming id to be kept, got %q", seen)
	}
}
