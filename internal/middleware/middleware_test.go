package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"splitride/internal/domain"
	"splitride/internal/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryStore() *memoryStore { return &memoryStore{data: make(map[string][]byte)} }

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, errNoResponse
	}
	return d, nil
}

func (s *memoryStore) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return nil
}

func TestIdempotency_ReplaysPerCaller(t *testing.T) {
	calls := 0
	router := gin.New()
	router.Use(IdempotencyMiddleware(newMemoryStore()))
	router.POST("/rides", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rides", nil)
		req.Header.Set(idempotencyHeader, "k1")
		req.Header.Set(UserIDHeader, user)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := send("u1")
	second := send("u1")
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed response, got %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Fatal("expected replay header")
	}

	// Same key from another caller is a different request.
	send("u2")
	if calls != 2 {
		t.Fatalf("expected handler to run for a second caller, ran %d times", calls)
	}
}

func TestIdempotency_ConflictIsNotStored(t *testing.T) {
	calls := 0
	router := gin.New()
	router.Use(IdempotencyMiddleware(newMemoryStore()))
	router.POST("/join", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusConflict, gin.H{"error": "retry"})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/join", nil)
		req.Header.Set(idempotencyHeader, "k1")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected conflicts to be retried, handler ran %d times", calls)
	}
}

type stubUsers struct{ users map[string]*domain.User }

func (s stubUsers) Create(context.Context, *domain.User) error { return nil }
func (s stubUsers) GetByPhone(context.Context, string) (*domain.User, error) {
	return nil, repository.ErrNotFound
}
func (s stubUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func TestIdentity(t *testing.T) {
	users := stubUsers{users: map[string]*domain.User{"u1": {ID: "u1", Name: "Asha"}}}

	router := gin.New()
	router.GET("/required", Identity(users, true), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUserID(c))
	})
	router.GET("/optional", Identity(users, false), func(c *gin.Context) {
		c.String(http.StatusOK, "anon:"+CurrentUserID(c))
	})

	testCases := []struct {
		name     string
		path     string
		user     string
		wantCode int
		wantBody string
	}{
		{"known user", "/required", "u1", http.StatusOK, "u1"},
		{"missing header", "/required", "", http.StatusUnauthorized, ""},
		{"unknown user", "/required", "ghost", http.StatusUnauthorized, ""},
		{"anonymous allowed", "/optional", "", http.StatusOK, "anon:"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.user != "" {
				req.Header.Set(UserIDHeader, tc.user)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
			if tc.wantBody != "" && w.Body.String() != tc.wantBody {
				t.Fatalf("expected body %q, got %q", tc.wantBody, w.Body.String())
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware())
	router.POST("/v1/rides", func(c *gin.Context) { c.Status(http.StatusCreated) })

	req := httptest.NewRequest(http.MethodOptions, "/v1/rides", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header on preflight")
	}
}

func TestRequestTimeout_BoundsContext(t *testing.T) {
	router := gin.New()
	router.GET("/slow", RequestTimeout(20*time.Millisecond), func(c *gin.Context) {
		select {
		case <-c.Request.Context().Done():
			c.Status(http.StatusGatewayTimeout)
		case <-time.After(time.Second):
			c.Status(http.StatusOK)
		}
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected the request context to expire, got %d", w.Code)
	}
}
