package web

import (
	"github.com/gin-gonic/gin"

	"github.com/campushq/asset-server/pkg/metrics"
)

func GetRouter(metricsListenAddress string, webHandler Handlers, withMetrics bool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), GinLogger())
	if withMetrics {
		router.Use(metrics.PromReqMiddleware())
		go metrics.Server(metricsListenAddress)
	}
	router.Use(XForwardedProto("http"))

	router.GET("/healthz", HealthCheckEndpoint)
	router.GET("/ping", PingEndpoint)

	authedGroup := router.Group("/v1")
	authedGroup.Use(webHandler.AuthRequired())
	authedGroup.POST("/uploads", webHandler.CreateUpload)
	authedGroup.POST("/downloads", webHandler.CreateDownload)
	authedGroup.POST("/scans", webHandler.ScanObject)
	authedGroup.GET("/scans", webHandler.ScanHistory)

	// Not authed. Upload completion is authorized by the single use
	// token itself, local object reads mirror public presigned URLs.
	router.PUT("/v1/uploads/:token", webHandler.CompleteDirectUpload)
	router.GET("/local/:bucket/*key", webHandler.ServeLocalObject)

	return router
}
