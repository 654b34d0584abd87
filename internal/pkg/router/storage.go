package router

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/cache"
)

// limiterDatabase keeps limiter counters apart from the progress channel
const limiterDatabase = 2

// NewLimiterStorage returns Redis-backed storage for the API rate limiter.
// The redis storage panics on an unreachable server, so only call it after
// cache.Setup succeeded.
func NewLimiterStorage(cfg cache.Config) fiber.Storage {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
