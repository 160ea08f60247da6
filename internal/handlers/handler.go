package handlers

import (
	"pulseboard/internal/logger"
	"pulseboard/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires the HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
// Reads are open; mutating routes sit behind the JWT middleware.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints
	h.registerAPIRoutes(router)

	// WebSocket live feed (HTTP upgrade) on the same port
	router.GET("/ws", h.wsFeed)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		h.registerWidgetRoutes(api)
		h.registerEngineRoutes(api)
		h.registerRuleRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerWidgetRoutes(api *gin.RouterGroup) {
	widgets := api.Group("/widgets")
	{
		widgets.GET("", h.listWidgets)
		widgets.GET("/:id/data", h.getWidgetData)

		protected := widgets.Group("", h.userIdMiddleware)
		{
			protected.POST("", h.registerWidget)
			protected.DELETE("/:id", h.unregisterWidget)
			protected.POST("/:id/execute", h.executeWidget)
			// Body example: {"section":"config","new":{"threshold":42}}
			protected.POST("/:id/config", h.pushConfigChange)
			protected.POST("/:id/pause", h.pauseWidget)
			protected.POST("/:id/resume", h.resumeWidget)
		}
	}
}

func (h *Handler) registerEngineRoutes(api *gin.RouterGroup) {
	engine := api.Group("/engine")
	{
		engine.GET("/status", h.engineStatus)
		engine.POST("/scheduler", h.userIdMiddleware, h.setScheduler)
	}
}

func (h *Handler) registerRuleRoutes(api *gin.RouterGroup) {
	rules := api.Group("/rules")
	{
		rules.GET("/bindings", h.listBindingRules)
		rules.GET("/triggers", h.listTriggerRules)

		protected := rules.Group("", h.userIdMiddleware)
		{
			protected.PUT("/bindings", h.putBindingRule)
			protected.DELETE("/bindings", h.deleteBindingRule)
			protected.PUT("/triggers", h.putTriggerRule)
			protected.DELETE("/triggers", h.deleteTriggerRule)
		}
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("", h.getLogs)
	}
}
