package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	callHandler "randomtalk-backend/internal/handler/http/call"
	chatHandler "randomtalk-backend/internal/handler/http/chat"
	userHandler "randomtalk-backend/internal/handler/http/user"
	wsHandler "randomtalk-backend/internal/handler/ws"
	"randomtalk-backend/internal/middleware"
	callService "randomtalk-backend/internal/service/call"
	chatService "randomtalk-backend/internal/service/chat"
	matchService "randomtalk-backend/internal/service/match"
	presenceService "randomtalk-backend/internal/service/presence"
	userService "randomtalk-backend/internal/service/user"
	"randomtalk-backend/pkg/config"
	"randomtalk-backend/pkg/constants"
	"randomtalk-backend/pkg/jwt"
	"randomtalk-backend/pkg/logger"
	"randomtalk-backend/pkg/metrics"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger
	if err := logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry, cfg.JWT.RefreshTokenExpiry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Connect backing stores. A failed CockroachDB connection drops
	// the whole process into limited mode: everything lives in memory
	// and is lost on restart.
	backends := connectBackends(ctx, cfg)
	defer backends.close()

	// 4. Initialize services
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	userSvc := userService.NewService(backends.users, jwtManager)
	presenceSvc := presenceService.NewService(backends.users, backends.presence)
	callSvc := callService.NewService(backends.calls, appMetrics)
	matchSvc := matchService.NewService(backends.users, backends.calls, backends.binder, appMetrics)
	chatSvc := chatService.NewService(backends.messages, callSvc, backends.users, appMetrics)

	presenceSvc.StartReconciler(ctx, time.Minute)

	// 5. Initialize WebSocket relay
	hub := wsHandler.NewHub(backends.redisClient, appMetrics)
	wsHdlr := wsHandler.NewHandler(hub, callSvc, chatSvc, presenceSvc, userSvc, appMetrics)

	// 6. Initialize HTTP handlers
	userHdlr := userHandler.NewHandler(userSvc, presenceSvc, callSvc, wsHdlr)
	callHdlr := callHandler.NewHandler(callSvc, matchSvc, wsHdlr)
	chatHdlr := chatHandler.NewHandler(chatSvc)

	// 7. Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"service":      cfg.Server.ServiceName,
			"limited_mode": backends.limitedMode,
			"time":         time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")

	// Anonymous registration is the only unauthenticated write; keep it
	// rate limited when Redis is around.
	public := v1.Group("")
	if backends.redisClient != nil {
		registerLimiter := middleware.NewRateLimiter(backends.redisClient, "register", 10, time.Minute)
		public.Use(registerLimiter.Middleware())
	}
	public.POST("/users/register", userHdlr.Register)
	public.POST("/users/token/refresh", userHdlr.Refresh)

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(jwtManager))
	{
		authed.GET("/users/me", userHdlr.Me)
		authed.POST("/users/status", userHdlr.Status)
		authed.GET("/users/online", userHdlr.OnlineCount)
		authed.POST("/users/logout", userHdlr.Logout)

		authed.POST("/calls", callHdlr.Create)
		authed.GET("/calls/:id", callHdlr.Get)
		authed.POST("/calls/match", callHdlr.FindMatch)
		authed.POST("/calls/skip", callHdlr.Skip)
		authed.POST("/calls/end", callHdlr.End)

		authed.GET("/calls/:id/messages", chatHdlr.History)
		authed.POST("/calls/:id/messages", chatHdlr.Send)
		authed.POST("/calls/:id/messages/clear", chatHdlr.Clear)
		authed.DELETE("/calls/:id/messages", chatHdlr.Clear)

		authed.GET("/ws/:room", wsHdlr.ServeWS)
	}

	// 8. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 RandomTalk backend starting on %s (limited_mode=%v)", addr, backends.limitedMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// backends bundles whichever persistence layer the process ended up
// with: the real stores, or their in-memory stand-ins in limited mode.
type backends struct {
	users    userBackend
	calls    callBackend
	binder   matchService.Binder
	messages chatService.MessageStore
	presence presenceService.Cache

	redisClient *goredis.Client
	limitedMode bool

	closers []func()
}

// userBackend is the union of the user-store slices the services need.
type userBackend interface {
	userService.UserRepository
	presenceService.UserStore
	matchService.UserFinder
}

// callBackend is the union of the call-store slices the services need.
type callBackend interface {
	callService.CallStore
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}
