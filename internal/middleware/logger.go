package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"trustbook/internal/pkg/logger"
)

// RequestLogger logs every request and recovers from handler panics.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error().WithFields(logrus.Fields{
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
					"panic":  fmt.Sprintf("%v", recovered),
					"stack":  string(debug.Stack()),
				}).Error("handler panic")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error": gin.H{
						"code":    "INTERNAL_ERROR",
						"message": "Internal Server Error",
					},
				})
				return
			}

			fields := logrus.Fields{
				"method":    c.Request.Method,
				"path":      c.Request.URL.Path,
				"status":    c.Writer.Status(),
				"client_ip": c.ClientIP(),
				"user_id":   c.GetInt64("user_id"),
				"latency":   time.Since(start).String(),
			}
			if len(c.Errors) > 0 {
				fields["errors"] = c.Errors.String()
			}

			if c.Writer.Status() >= http.StatusInternalServerError {
				logger.Error().WithFields(fields).Error("request failed")
			} else {
				logger.Info().WithFields(fields).Info("request")
			}
		}()

		c.Next()
	}
}
