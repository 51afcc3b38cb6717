package api

import (
	"alcyxob/fitness-booking/internal/config"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// gcraScript stores one timestamp per key: the time at which the bucket will
// be empty again. A request is let through while that time stays within
// burst of now. Returns {allowed, wait_ms}.
var gcraScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local interval = tonumber(ARGV[2])
	local burst = tonumber(ARGV[3])

	local tat = math.max(tonumber(redis.call('GET', KEYS[1]) or now), now)
	local next_tat = tat + interval
	local over = next_tat - now - burst
	if over > 0 then
		return {0, over}
	end
	redis.call('SET', KEYS[1], next_tat, 'PX', next_tat - now)
	return {1, 0}
`)

// RateLimitMiddleware limits booking mutations per member and route. Each
// member gets a burst of cfg.Capacity requests, then one per
// cfg.RefillInterval. It is a pass-through when disabled or without Redis,
// and fails open on Redis errors.
func RateLimitMiddleware(cfg config.RateLimitConfig, rdb *redis.Client) gin.HandlerFunc {
	if !cfg.Enabled || rdb == nil {
		return func(c *gin.Context) { c.Next() }
	}
	interval := cfg.RefillInterval.Milliseconds()
	burst := interval * int64(cfg.Capacity)

	return func(c *gin.Context) {
		key := rateLimitKey(cfg.Prefix, c)
		res, err := gcraScript.Run(c.Request.Context(), rdb, []string{key},
			time.Now().UnixMilli(), interval, burst).Int64Slice()
		if err != nil || len(res) != 2 {
			log.Printf("WARN: Rate limiter unavailable for key=%s: %v", key, err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
		if res[0] != 1 {
			wait := time.Duration(res[1]) * time.Millisecond
			c.Header("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
			abortWithError(c, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// rateLimitKey is prefix:user:<id>:route:<METHOD path>. Runs after AuthMiddleware.
func rateLimitKey(prefix string, c *gin.Context) string {
	uid := "anon"
	if id, err := getUserIDFromContext(c); err == nil {
		uid = id.Hex()
	}
	route := fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())
	return strings.Join([]string{prefix, "user", uid, "route", route}, ":")
}
