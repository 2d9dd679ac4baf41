package router

import (
	"time"

	"mace-freeze/internal/handler"
	"mace-freeze/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SetupRouter(svc *service.ServiceContext) *gin.Engine {
	r := gin.New()
	r.Use(ZapLogger(svc.Log.Named("http")), gin.Recovery())

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Checkpoint-Source")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 初始化handlers
	runHandler := handler.NewRunHandler(svc.RunService, svc.ConvergenceService)
	labelHandler := handler.NewLabelHandler(svc.LabelService)
	checkpointHandler := handler.NewCheckpointHandler(svc.Resolver, svc.Config.Checkpoint.DefaultRunName)
	healthHandler := handler.NewHealthHandler(svc.LabelService.HasStore())

	// API路由
	api := r.Group("/api")
	{
		api.GET("/health", healthHandler.Health)

		runs := api.Group("/runs")
		{
			runs.POST("", runHandler.CreateRun)
			runs.GET("/:runId/iterations", runHandler.ListIterations)

			// 迭代相关
			iter := runs.Group("/:runId/iterations/:iter")
			{
				iter.POST("", runHandler.EnsureIteration)
				iter.GET("/status", runHandler.IterationStatus)
				iter.GET("/convergence", runHandler.Convergence)
				iter.POST("/label", labelHandler.Label)
				iter.GET("/jobs", labelHandler.ListJobs)
			}

			// 检查点相关
			runs.GET("/:runId/checkpoint", checkpointHandler.Download)
			runs.GET("/:runId/checkpoints", checkpointHandler.List)
		}

		api.GET("/jobs/:jobId", labelHandler.GetJob)
	}

	return r
}

// ZapLogger 访问日志
func ZapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("请求失败", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("请求被拒绝", fields...)
		default:
			log.Info("请求完成", fields...)
		}
	}
}
