package http

import "github.com/gin-gonic/gin"

// registerV1Routes sets up the read-only JSON views under /api/v1.
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())

	stations := v1.Group("/stations")
	{
		stations.GET("", s.handleV1ListStations)
		stations.GET("/:id", s.handleV1GetStation)
		stations.GET("/:id/readings", s.handleV1StationReadings)
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", "v1")
		c.Next()
	}
}
