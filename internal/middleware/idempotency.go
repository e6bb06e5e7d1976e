package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
)

// errNoResponse reports a key with no stored response.
var errNoResponse = errors.New("no stored response")

// ResponseStore persists responses of idempotent requests.
type ResponseStore interface {
	Get(ctx context.Context, key string) ([]byte, error) // errNoResponse on miss
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// RedisResponseStore keeps idempotent responses in Redis.
type RedisResponseStore struct {
	client *redis.Client
}

// NewRedisResponseStore creates a new RedisResponseStore.
func NewRedisResponseStore(client *redis.Client) *RedisResponseStore {
	return &RedisResponseStore{client: client}
}

func (s *RedisResponseStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNoResponse
	}
	return data, err
}

func (s *RedisResponseStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, data, ttl).Err()
}

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response when a caller repeats a
// mutating request with the same Idempotency-Key. Keys are scoped per caller.
func IdempotencyMiddleware(store ResponseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := idempotencyCacheKey(c.GetHeader(UserIDHeader), key)

		cached, err := getCachedResponse(ctx, store, cacheKey)
		if err != nil && !errors.Is(err, errNoResponse) {
			// Store unavailable - proceed without idempotency.
			c.Next()
			return
		}

		if cached != nil {
			for k, v := range cached.Headers {
				for _, val := range v {
					c.Header(k, val)
				}
			}
			c.Header("Idempotent-Replay", "true")
			c.Data(cached.StatusCode, "application/json", cached.Body)
			c.Abort()
			return
		}

		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		// Conflicts are worth retrying with the same key, so they are not stored.
		status := c.Writer.Status()
		if status >= 200 && status < 500 && status != http.StatusConflict {
			response := cachedResponse{
				StatusCode: status,
				Body:       w.body.Bytes(),
				Headers:    extractResponseHeaders(c),
			}
			_ = setCachedResponse(ctx, store, cacheKey, &response)
		}
	}
}

func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func idempotencyCacheKey(userID, key string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return "idempotency:" + userID + ":" + key
}

func getCachedResponse(ctx context.Context, store ResponseStore, key string) (*cachedResponse, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func setCachedResponse(ctx context.Context, store ResponseStore, key string, response *cachedResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, data, idempotencyTTL)
}

// extractResponseHeaders extracts headers to cache.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	if ct := c.Writer.Header().Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	return headers
}
