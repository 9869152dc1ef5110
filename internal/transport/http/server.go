package http

import (
	"github.com/gin-gonic/gin"

	"docuchat/internal/bootstrap"
	"docuchat/internal/transport/http/handler"
	"docuchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.AuthService)
	documentHandler := handler.NewDocumentHandler(
		app.DocumentService,
		int64(app.Config.Upload.MaxSizeMB)<<20,
	)
	chatHandler := handler.NewChatHandler(app.ChatService)

	jwtSecret := app.Config.Auth.JWTSecret

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(jwtSecret), authHandler.Me)

	documentGroup := v1.Group("/documents")
	documentGroup.Use(middleware.AuthJWT(jwtSecret))
	documentGroup.POST("", documentHandler.Upload)
	documentGroup.GET("", documentHandler.List)
	documentGroup.GET("/:id", documentHandler.Get)
	documentGroup.POST("/:id/reingest", documentHandler.Reingest)
	documentGroup.DELETE("/:id", documentHandler.Delete)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(middleware.AuthJWT(jwtSecret))
	chatGroup.POST("", chatHandler.Send)
	chatGroup.GET("/conversations", chatHandler.ListConversations)
	chatGroup.GET("/conversations/:id", chatHandler.GetHistory)
	chatGroup.DELETE("/conversations/:id", chatHandler.DeleteConversation)

	return router
}
