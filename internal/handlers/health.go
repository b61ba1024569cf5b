package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// Healthz reports whether the database and, when configured, Redis answer.
func Healthz(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"database": "ok", "redis": "disabled"}
		healthy := true

		if sqlDB, err := env.DB.DB(); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else if err := sqlDB.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}

		if env.Cache.Enabled() {
			checks["redis"] = "ok"
			if err := env.Cache.Ping(ctx); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}

		status := 200
		checks["status"] = "ok"
		if !healthy {
			status = 503
			checks["status"] = "unavailable"
		}
		c.JSON(status, checks)
	}
}
