package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.Info)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	cameras := s.router.Group("/cameras")
	{
		cameras.GET("", s.cameraHandler.ListSources)
		cameras.GET("/relay", s.cameraHandler.RelayStatus)
	}

	sel := s.router.Group("/selection")
	{
		sel.GET("", s.selectionHandler.Get)
		sel.GET("/grid", s.selectionHandler.Grid)
		sel.POST("/toggle", s.selectionHandler.Toggle)
		sel.DELETE("/:type/:id", s.selectionHandler.Remove)
	}

	viewers := s.router.Group("/viewers")
	{
		viewers.GET("", s.viewerHandler.States)
		viewers.POST("/:type/:id/cycle", s.viewerHandler.CycleMode)
		viewers.POST("/:type/:id/retry", s.viewerHandler.Retry)
		viewers.POST("/:type/:id/refresh", s.viewerHandler.Refresh)
	}
}
