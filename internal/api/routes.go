package api

import "github.com/gin-gonic/gin"

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(router *gin.Engine, auth AuthOptions) {
	router.GET("/healthz", s.handleHealth)

	g := router.Group("/", requireTenant(auth))
	g.GET("/status", s.handleStatus)
	g.GET("/progress", s.handleProgress)
	g.GET("/progress/stream", s.handleProgressStream)
	g.GET("/history", s.handleHistory)
	g.GET("/active-sessions", s.handleActiveSessions)
	g.GET("/debug", s.handleDebug)

	// Mutating routes are rate limited per tenant.
	m := g.Group("/", s.limiter.middleware())
	m.POST("/connect", s.handleConnect)
	m.POST("/send-bulk", s.handleSendBulk)
	m.POST("/disconnect", s.handleDisconnect)
	m.POST("/force-new-session", s.handleForceNewSession)
}
