package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/vwinv/backend-almadina/internal/infra"
	"github.com/vwinv/backend-almadina/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Health returns a JSON health check response.
// Checks DB and Redis connectivity; never exposes credentials or internals.
// The event breaker state and the dead letter backlog are informational and
// do not fail the check.
func Health(db *gorm.DB, rdb *redis.Client, eventsCB *infra.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus := "connected"
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "error"
		}

		redisStatus := "connected"
		var dlq int64
		if rdb.Ping(ctx).Err() != nil {
			redisStatus = "error"
		} else if n, err := worker.DLQLength(ctx, rdb, worker.QueueLedgerEvents); err == nil {
			dlq = n
		}

		status := http.StatusOK
		if dbStatus != "connected" || redisStatus != "connected" {
			status = http.StatusServiceUnavailable
		}

		body := gin.H{
			"ok":             status == http.StatusOK,
			"db":             dbStatus,
			"redis":          redisStatus,
			"events_dlq_len": dlq,
		}
		if eventsCB != nil {
			body["events_breaker"] = eventsCB.State().String()
		}
		c.JSON(status, body)
	}
}
