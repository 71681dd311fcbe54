package pkg

import (
	"github.com/gin-gonic/gin"
)

// GetClientIP returns the caller address. Forwarding headers only count when
// the peer is one of the engine's trusted proxies.
func GetClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}

	return "unknown"
}
