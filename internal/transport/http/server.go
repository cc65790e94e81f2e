package http

import (
	"context"
	"errors"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"bizfin-insight/internal/bootstrap"
	mysqlClient "bizfin-insight/internal/platform/mysql"
	"bizfin-insight/internal/role"
	"bizfin-insight/internal/transport/http/handler"
	"bizfin-insight/internal/transport/http/middleware"
)

var errRabbitMQClosed = errors.New("rabbitmq connection closed")

// Streaming endpoints must not be buffered by the gzip writer.
var streamPaths = []string{
	"/api/v1/analysis/query/stream",
	"/dev-console/stream",
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(app.Log),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths(streamPaths)),
	)

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, probes(app))
	router.GET("/healthz", healthHandler.Check)

	secret := app.Config.Auth.JWTSecret
	auth := middleware.AuthJWT(secret)

	authHandler := handler.NewAuthHandler(app.Services.Auth)
	uploadHandler := handler.NewUploadHandler(app.Services.Upload)
	documentHandler := handler.NewDocumentHandler(app.Services.Documents)
	analysisHandler := handler.NewAnalysisHandler(app.Services.Analysis)

	var history handler.EventHistory
	if app.EventWorker != nil {
		history = app.EventRepo
	}
	devConsoleHandler := handler.NewDevConsoleHandler(app.Events, history)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", auth, authHandler.Me)

	v1.POST("/upload/financial-data", auth, uploadHandler.FinancialData)

	docGroup := v1.Group("/documents", auth)
	docGroup.GET("", documentHandler.List)
	docGroup.DELETE("/:id", middleware.RequireRole(role.IntermediateStaff), documentHandler.Delete)

	analysisGroup := v1.Group("/analysis", auth)
	analysisGroup.POST("/query", analysisHandler.Query)
	analysisGroup.POST("/query/stream", analysisHandler.QueryStream)
	analysisGroup.POST("/report", analysisHandler.Report)
	analysisGroup.GET("/capabilities/:role", analysisHandler.Capabilities)

	devGroup := router.Group("/dev-console", auth, middleware.RequireRole(role.DepartmentalHead))
	devGroup.GET("/logs", devConsoleHandler.Logs)
	devGroup.DELETE("/logs", devConsoleHandler.Clear)
	devGroup.GET("/stats", devConsoleHandler.Stats)
	devGroup.GET("/stream", devConsoleHandler.Stream)
	devGroup.GET("/history", devConsoleHandler.History)

	return router
}

func probes(app *bootstrap.App) map[string]handler.Probe {
	p := map[string]handler.Probe{
		"mysql": func(ctx context.Context) error { return mysqlClient.Ping(ctx, app.MySQL) },
	}
	if app.Redis != nil {
		p["redis"] = func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }
	}
	if app.MQConn != nil {
		p["rabbitmq"] = func(context.Context) error {
			if app.MQConn.IsClosed() {
				return errRabbitMQClosed
			}
			return nil
		}
	}
	if app.Index != nil {
		p["vector_index"] = app.Index.EnsureReady
	}
	return p
}
