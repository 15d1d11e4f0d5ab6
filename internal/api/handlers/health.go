package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/stitts-dev/roto-sim/internal/services"
	"github.com/stitts-dev/roto-sim/pkg/database"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db       *database.DB
	redis    *redis.Client
	breakers *services.CircuitBreakerService
}

func NewHealthHandler(db *database.DB, redisClient *redis.Client, breakers *services.CircuitBreakerService) *HealthHandler {
	return &HealthHandler{
		db:       db,
		redis:    redisClient,
		breakers: breakers,
	}
}

// GetHealth reports the service and its dependencies. Degraded dependencies
// flip the status and the response code to 503.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	status := "ok"
	checks := make(map[string]string)

	if err := h.db.HealthCheck(); err != nil {
		status = "unhealthy"
		checks["database"] = "failed: " + err.Error()
	} else {
		checks["database"] = "ok"
	}

	if h.redis == nil {
		checks["redis"] = "disabled"
	} else if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
		status = "unhealthy"
		checks["redis"] = "failed: " + err.Error()
	} else {
		checks["redis"] = "ok"
	}

	if h.breakers != nil {
		for _, service := range []string{"balldontlie", "yahoo"} {
			checks["breaker_"+service] = h.breakers.GetState(service).String()
		}
	}

	statusCode := http.StatusOK
	if status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "roto-sim",
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}
