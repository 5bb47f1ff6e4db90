package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tallycache/tally/pkg/logger"
)

// Logger writes a structured access log for each request. Count routes carry
// their entity and manager params so a slow request can be tied back to the
// manager that served it.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if entity := c.Param("entity"); entity != "" {
			fields = append(fields,
				zap.String("entity", entity),
				zap.String("manager", c.Param("manager")))
		}

		logger.WithModule("http").Info("request", fields...)
	}
}
