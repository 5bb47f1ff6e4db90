package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/cache"
	"github.com/tallycache/tally/pkg/response"
)

// Health reports readiness of the database and the ephemeral store. The
// store is optional; a missing one degrades precache coordination but not
// counting, so it never fails the check on its own.
func Health(db *gorm.DB, store cache.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		if db != nil {
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				checks["database"] = "unreachable"
				healthy = false
			} else {
				checks["database"] = "ok"
			}
		} else {
			checks["database"] = "not configured"
			healthy = false
		}

		if store != nil {
			if _, _, err := store.Get(c.Request.Context(), "healthcheck"); err != nil {
				checks["cache"] = "unreachable"
			} else {
				checks["cache"] = "ok"
			}
		} else {
			checks["cache"] = "not configured"
		}

		status := http.StatusOK
		overall := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		response.Success(c, status, gin.H{
			"status":     overall,
			"checks":     checks,
			"checked_at": time.Now().UTC(),
		})
	}
}
