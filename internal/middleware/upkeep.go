package middleware

import (
	"github.com/gin-gonic/gin"

	"ephemeral-relay/internal/service"
)

// Upkeep nudges the directory on every inbound request, fire-and-forget:
// the response never waits on it. Ensure reseeds the genesis peers, which
// keeps the mesh self-healing as long as any traffic flows. Periodic
// gossip itself runs on the scheduler, not here.
func Upkeep(directory *service.DirectoryService) gin.HandlerFunc {
	if directory == nil {
		panic("DirectoryService cannot be nil for Upkeep middleware")
	}
	return func(c *gin.Context) {
		go directory.Ensure()
		c.Next()
	}
}
