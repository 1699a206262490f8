// Package health exposes the liveness and readiness endpoints shared by
// every binary in this module (the API server and the worker process
// alike), generalizing what used to be a worker-only concern.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is anything that can report whether its backing dependency is
// reachable. *pgxpool.Pool satisfies this directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker bundles every dependency readiness depends on. A nil entry is
// skipped, so callers that have no Redis client configured (for example)
// can simply leave it unset.
type Checker struct {
	DB    Pinger
	Redis Pinger

	shuttingDown atomic.Bool
}

// MarkShuttingDown flips readiness to unready immediately; callers call
// this at the start of graceful shutdown so load balancers stop routing
// new traffic before in-flight work is asked to wind down.
func (c *Checker) MarkShuttingDown() {
	c.shuttingDown.Store(true)
}

// Liveness reports 200 as long as the process is running; it never checks
// dependencies, so a database outage never takes a pod out of rotation
// via a liveness failure (only readiness should do that).
func (c *Checker) Liveness(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness reports 503 while shutting down, or while any configured
// dependency fails a 500ms ping, and 200 otherwise.
func (c *Checker) Readiness(ctx *gin.Context) {
	if c.shuttingDown.Load() {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 500*time.Millisecond)
	defer cancel()

	if c.DB != nil {
		if err := c.DB.Ping(pingCtx); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready"})
			return
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(pingCtx); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis_not_ready"})
			return
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}
