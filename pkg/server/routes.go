package server

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/smilemakc/mbflow/internal/infrastructure/api/rest"
)

// maxRequestBodyBytes bounds a flow-editing request body; flow documents
// are small JSON graphs, never bulk data (artifacts never travel over
// this API).
const maxRequestBodyBytes = 8 << 20

// setupRoutes builds the gin engine: the teacher's Recovery -> RequestLogger
// -> BodySize -> gzip -> CORS middleware chain, then every flow/editor/run
// route of spec.md §6.
func (s *Server) setupRoutes() {
	s.router = gin.New()

	recoveryMiddleware := rest.NewRecoveryMiddleware(s.logger)
	loggingMiddleware := rest.NewLoggingMiddleware(s.logger)
	bodySizeMiddleware := rest.NewBodySizeMiddleware(s.logger, maxRequestBodyBytes)

	s.router.Use(recoveryMiddleware.Recovery())
	s.router.Use(loggingMiddleware.RequestLogger())
	s.router.Use(bodySizeMiddleware.LimitBodySize())
	s.router.Use(gzip.Gzip(gzip.DefaultCompression))

	if s.config.Server.CORS {
		if len(s.config.Server.CORSAllowedOrigins) == 0 {
			s.logger.Warn("CORS is enabled with no allowed origins configured")
		}
		origins := make(map[string]bool, len(s.config.Server.CORSAllowedOrigins))
		for _, o := range s.config.Server.CORSAllowedOrigins {
			origins[o] = true
		}
		s.router.Use(func(c *gin.Context) {
			origin := c.GetHeader("Origin")
			if origin != "" && (origins["*"] || origins[origin]) {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			}
			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(204)
				return
			}
			c.Next()
		})
	}

	flowHandler := rest.NewFlowHandler(s.components.store)
	editorHandler := rest.NewEditorHandler(s.components.store)
	runHandler := rest.NewRunHandler(s.components.store, s.components.runner, s.components.bus)
	streamHandler := rest.NewStreamHandler(s.components.runner, s.components.bus, s.logger)

	s.router.GET("/healthz", func(c *gin.Context) { c.Status(200) })

	s.router.POST("/flow", flowHandler.CreateFlow)
	s.router.GET("/flow", flowHandler.GetFlow)
	s.router.GET("/flow/export", flowHandler.ExportFlow)
	s.router.POST("/flow/import", flowHandler.ImportFlow)

	s.router.POST("/editor/add_node", editorHandler.AddNode)
	s.router.POST("/editor/delete_node", editorHandler.DeleteNode)
	s.router.POST("/editor/add_connection", editorHandler.AddConnection)
	s.router.POST("/editor/delete_connection", editorHandler.DeleteConnection)
	s.router.POST("/update_settings", editorHandler.UpdateSettings)
	s.router.GET("/node", editorHandler.GetNode)
	s.router.GET("/node/data", runHandler.NodeData)

	s.router.POST("/flow/run/", runHandler.StartRun)
	s.router.POST("/flow/cancel/", runHandler.CancelRun)
	s.router.GET("/flow/run_status", runHandler.RunStatus)
	s.router.GET("/flow/logs", streamHandler.RunLogs)
}
