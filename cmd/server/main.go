// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"receipt-rag-go/internal/bootstrap"
	"receipt-rag-go/internal/config"
	"receipt-rag-go/internal/handler"
	"receipt-rag-go/internal/middleware"
	"receipt-rag-go/internal/service"
	"receipt-rag-go/pkg/database"
	"receipt-rag-go/pkg/kafka"
	"receipt-rag-go/pkg/log"
	"receipt-rag-go/pkg/token"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化存储、索引与服务
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	app, err := bootstrap.Init(rootCtx, cfg, true)
	if err != nil {
		log.Errorf("初始化失败: %v", err)
		return
	}

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	producer := kafka.NewProducer(cfg.Kafka)
	userService := service.NewUserService(app.UserRepo, jwtManager, database.RDB)
	receiptService := service.NewReceiptService(app.Objects, producer, app.StatusRepo, app.ReceiptRepo)

	// 4. 启动后台 Kafka 消费者
	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		kafka.StartConsumer(rootCtx, cfg.Kafka, database.RDB, app.Processor)
	}()

	// 5. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	var limiter *middleware.UserRateLimiter
	if cfg.RAG.RateLimitPerMin > 0 {
		limiter = middleware.NewUserRateLimiter(cfg.RAG.RateLimitPerMin, cfg.RAG.RateLimitBurst)
	}

	userHandler := handler.NewUserHandler(userService)
	receiptHandler := handler.NewReceiptHandler(receiptService)
	ragHandler := handler.NewRAGHandler(app.RAG, userService, jwtManager, limiter, cfg.RAG.TopK)
	adminHandler := handler.NewAdminHandler(app.Admin)
	authed := middleware.AuthMiddleware(jwtManager, userService)

	// 6. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			me := users.Group("/")
			me.Use(authed)
			{
				me.GET("/me", userHandler.GetProfile)
				me.POST("/logout", userHandler.Logout)
			}
		}

		receipts := apiV1.Group("/receipts")
		receipts.Use(authed)
		{
			receipts.POST("", receiptHandler.Upload)
			receipts.GET("", receiptHandler.List)
			receipts.GET("/:id", receiptHandler.Get)
			receipts.GET("/:id/image", receiptHandler.Image)
			receipts.GET("/tasks/:taskId", receiptHandler.TaskStatus)
		}

		rag := apiV1.Group("/rag")
		rag.Use(authed)
		{
			rag.POST("/question", middleware.RateLimitMiddleware(limiter), ragHandler.Ask)
			rag.GET("/history", ragHandler.History)
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(authed, middleware.AdminAuthMiddleware())
		{
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.GET("/users/:userId/history", adminHandler.UserHistory)
			admin.DELETE("/users/:userId/receipts", adminHandler.PurgeUser)
			admin.POST("/reindex", adminHandler.Reindex)
		}
	}
	// WebSocket 问答，token 通过路径传递
	r.GET("/ws/:token", ragHandler.HandleWS)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者，等待当前任务结束
	cancelRoot()
	consumers.Wait()
	if err := producer.Close(); err != nil {
		log.Warnf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
