package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	ginmiddleware "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"trustbook/internal/pkg/logger"
)

// RateLimiter limits a route to the given rate (e.g. "10-1m"). A redis-backed
// store is used when a client is provided so limits hold across replicas;
// otherwise it degrades to an in-memory store.
func RateLimiter(rdb *redis.Client, rate string) gin.HandlerFunc {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		logger.Error().Error("invalid rate format ", rate, ": ", err)
		return func(c *gin.Context) { c.Next() }
	}

	var store limiter.Store
	if rdb != nil {
		store, err = redisstore.NewStoreWithOptions(rdb, limiter.StoreOptions{
			Prefix:   "trustbook:rate",
			MaxRetry: 3,
		})
		if err != nil {
			logger.Error().Error("redis rate limit store unavailable, falling back to memory: ", err)
			store = memorystore.NewStore()
		}
	} else {
		store = memorystore.NewStore()
	}

	return ginmiddleware.NewMiddleware(limiter.New(store, parsed))
}
