package api

import (
	"alcyxob/fitness-booking/internal/config"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func limitedRouter(mw gin.HandlerFunc, uid string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/bookings", func(c *gin.Context) {
		c.Set(ContextUserIDKey, uid)
		c.Next()
	}, mw, func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func TestRateLimitMiddleware_DisabledPassesThrough(t *testing.T) {
	r := limitedRouter(RateLimitMiddleware(config.RateLimitConfig{Enabled: false}, nil), primitive.NewObjectID().Hex())
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/bookings", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
	}
}

func TestRateLimitMiddleware_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillInterval: time.Minute,
		Prefix:         "test:rl:" + primitive.NewObjectID().Hex(),
	}
	r := limitedRouter(RateLimitMiddleware(cfg, rdb), primitive.NewObjectID().Hex())

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/bookings", nil))
		codes[i] = w.Code
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}
