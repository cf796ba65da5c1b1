package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	httpHandler "ephemeral-relay/internal/handler/http"
	memorystate "ephemeral-relay/internal/infra/state/memory"
	redisstate "ephemeral-relay/internal/infra/state/redis"
	"ephemeral-relay/internal/infra/setup"
	"ephemeral-relay/internal/middleware"
	"ephemeral-relay/internal/repository"
	"ephemeral-relay/internal/service"
	"ephemeral-relay/internal/tasks"
	"ephemeral-relay/internal/worker"
)

// Config holds everything loaded from the environment.
type Config struct {
	SelfURL       string
	GenesisURLs   []string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	ServerPort    string
	LogLevel      string
	AppEnv        string
	ProxyTimeout  time.Duration
}

// LoadConfig reads configuration from the environment, preferring a .env
// file when one exists. SELF_URL is the only hard requirement: a node that
// doesn't know its own address cannot join the mesh. REDIS_ADDR is
// optional; without it all state is in-memory and periodic work runs on a
// plain ticker instead of the asynq scheduler.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SelfURL:       strings.TrimRight(os.Getenv("SELF_URL"), "/"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:     os.Getenv("REDIS_KEY_PREFIX"),
		ServerPort:    os.Getenv("SERVER_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		AppEnv:        os.Getenv("APP_ENV"),
		ProxyTimeout:  10 * time.Second,
	}

	for _, url := range strings.Split(os.Getenv("GENESIS_URLS"), ",") {
		url = strings.TrimRight(strings.TrimSpace(url), "/")
		if url != "" {
			cfg.GenesisURLs = append(cfg.GenesisURLs, url)
		}
	}

	redisDBStr := os.Getenv("REDIS_DB")
	cfg.RedisDB, _ = strconv.Atoi(redisDBStr)

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "relay:"
	}
	if cfg.SelfURL == "" {
		return nil, fmt.Errorf("environment variable SELF_URL must be set")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// App bundles the relay node's components.
type App struct {
	Config       *Config
	Log          *logrus.Logger
	RedisClient  *redis.Client
	WorkerServer *worker.WorkerServer
	Directory    *service.DirectoryService
	HttpServer   *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
	stopTicker     chan struct{}
}

// NewApp builds and wires every component of the relay node.
func NewApp() (*App, error) {
	// 1. Configuration
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. Logger
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	logrus.SetLevel(logLevel)
	log.Infof("Logger initialized (Level: %s)", logLevel.String())
	log.Info("Configuration loaded successfully")

	// 3. State backend: redis when configured, in-memory otherwise
	var redisClient *redis.Client
	var roomRepo repository.RoomRepository
	var limitRepo repository.RateLimitRepository
	if cfg.RedisAddr != "" {
		redisClient, err = setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to init Redis: %w", err)
		}
		roomRepo = redisstate.NewRoomRepository(redisClient, cfg.KeyPrefix)
		limitRepo = redisstate.NewRateLimitRepository(redisClient, cfg.KeyPrefix)
		log.Info("Redis state backend initialized")
	} else {
		roomRepo = memorystate.NewRoomRepository()
		limitRepo = memorystate.NewRateLimitRepository()
		log.Info("In-memory state backend initialized (REDIS_ADDR not set)")
	}

	// 4. Services
	log.Info("Initializing services...")
	roomService := service.NewRoomService(roomRepo)
	limitService := service.NewRateLimitService(limitRepo)
	directoryService := service.NewDirectoryService(cfg.SelfURL, cfg.GenesisURLs)
	// Seed the mesh before any traffic arrives.
	directoryService.Ensure()
	log.Info("Services initialized")

	// 5. Handlers
	log.Info("Initializing handlers...")
	proxy := httpHandler.NewProxy(cfg.ProxyTimeout)
	roomHandler := httpHandler.NewRoomHandler(roomService, limitService, directoryService, proxy)
	directoryHandler := httpHandler.NewDirectoryHandler(directoryService)
	log.Info("Handlers initialized")

	// 6. Worker server (redis deployments only)
	var workerServer *worker.WorkerServer
	var redisClientOpt asynq.RedisClientOpt
	if redisClient != nil {
		redisClientOpt = asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		workerServer = worker.NewWorkerServer(redisClientOpt, directoryService, log)
		log.Info("Worker server initialized")
	}

	// 7. Router
	log.Info("Setting up Gin router...")
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(middleware.CORS())
	router.Use(middleware.Upkeep(directoryService))
	httpHandler.RegisterRoutes(router, roomHandler, directoryHandler)
	log.Info("Router setup complete")

	// 8. HTTP server
	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		RedisClient:    redisClient,
		WorkerServer:   workerServer,
		Directory:      directoryService,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")

	return app, nil
}

// Start launches the background routines and the HTTP server.
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")

	if a.WorkerServer != nil {
		go a.WorkerServer.Start()
		a.Log.Info("Worker server routine started")
		a.registerPeriodicTasks()
	} else {
		a.startFallbackTicker()
		a.Log.Info("Fallback gossip ticker started")
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	if entryID, err := scheduler.Register(tasks.TickSchedule, tasks.NewGossipTickTask(), asynq.Queue("default")); err != nil {
		a.Log.Errorf("Could not register gossip tick task: %v", err)
	} else {
		a.Log.Infof("Gossip tick task registered with schedule '%s' (EntryID: %s)", tasks.TickSchedule, entryID)
	}

	if entryID, err := scheduler.Register(tasks.PruneSchedule, tasks.NewDirectoryPruneTask(), asynq.Queue("default")); err != nil {
		a.Log.Errorf("Could not register directory prune task: %v", err)
	} else {
		a.Log.Infof("Directory prune task registered with schedule '%s' (EntryID: %s)", tasks.PruneSchedule, entryID)
	}

	a.scheduler = scheduler
	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := scheduler.Run(); err != nil {
			if !errors.Is(err, asynq.ErrServerClosed) {
				a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			} else {
				a.Log.Info("Asynq scheduler stopped.")
			}
		}
	}()
}

// startFallbackTicker drives gossip without redis. The ticker fires more
// often than the gossip interval; Tick's own throttle enforces the
// "roughly every 30s, never faster" contract.
func (a *App) startFallbackTicker() {
	a.stopTicker = make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Directory.Tick(context.Background())
			case <-a.stopTicker:
				return
			}
		}
	}()
}

// Shutdown stops the application gracefully.
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	if a.stopTicker != nil {
		close(a.stopTicker)
	}
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.WorkerServer != nil {
		a.WorkerServer.Shutdown()
	}

	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware records one structured log line per request.
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   clientIP,
			"method":      method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else {
			if statusCode >= 500 {
				entry.Error("Server error")
			} else if statusCode >= 400 {
				entry.Warn("Client error")
			} else {
				entry.Info("Request handled")
			}
		}
	}
}
