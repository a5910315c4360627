package handlers

import (
	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/mdario971/cactus-flasher/internal/logger"
	"github.com/mdario971/cactus-flasher/internal/service"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)
	router.POST("/api/auth/login", h.login)

	api := router.Group("/api", h.userIdMiddleware)
	{
		h.registerAuthRoutes(api)
		h.registerBoardRoutes(api)
		h.registerFlashRoutes(api)
		h.registerBuildRoutes(api)
	}
	return router
}

func (h *Handler) registerAuthRoutes(api *gin.RouterGroup) {
	auth := api.Group("/auth")
	{
		auth.POST("/register", h.register)
		auth.GET("/me", h.me)
	}
}

func (h *Handler) registerBoardRoutes(api *gin.RouterGroup) {
	boards := api.Group("/boards")
	{
		boards.GET("", h.listBoards)
		boards.POST("", h.createBoard)
		boards.GET("/scan", h.scanBoards)
		boards.GET("/discover", h.discoverBoards)
		boards.GET("/export", h.exportBoards)

		boards.GET("/status-log", h.getStatusLog)
		boards.DELETE("/status-log", h.deleteStatusLogEntry)
		boards.DELETE("/status-log/all", h.clearStatusLog)

		boards.GET("/:name", h.getBoard)
		boards.PUT("/:name", h.updateBoard)
		boards.DELETE("/:name", h.deleteBoard)
		boards.POST("/:name/ping", h.pingBoard)
		// Server-sent events of the board's web server, credentials added on the way.
		boards.GET("/:name/logs", h.boardLogs)
	}
}

func (h *Handler) registerFlashRoutes(api *gin.RouterGroup) {
	flash := api.Group("/flash")
	{
		flash.POST("/upload", h.flashUpload)
		flash.POST("/from-build", h.flashFromBuild)
		flash.GET("/status/:flash_id", h.flashStatus)
		flash.GET("/history", h.flashHistory)
		flash.GET("/ws/:flash_id", h.flashProgressWS)
	}
}

func (h *Handler) registerBuildRoutes(api *gin.RouterGroup) {
	build := api.Group("/build")
	{
		build.POST("/esphome", h.buildESPHome)
		build.POST("/arduino", h.buildArduino)
		build.POST("/platformio", h.buildPlatformIO)
		build.GET("/status/:build_id", h.buildStatus)
		build.GET("/logs/:build_id", h.buildLogs)
		build.GET("/list", h.listBuilds)
	}
}
