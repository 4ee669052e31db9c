package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/talentvine/webdesk/internal/config"
	"github.com/talentvine/webdesk/internal/database"
	"github.com/talentvine/webdesk/internal/events"
	"github.com/talentvine/webdesk/internal/logger"
	"github.com/talentvine/webdesk/internal/middleware"
	"github.com/talentvine/webdesk/internal/modules/assessmentmodule"
	"github.com/talentvine/webdesk/internal/modules/modulemanager"
	"github.com/talentvine/webdesk/internal/modules/questionmodule"
	"github.com/talentvine/webdesk/internal/modules/recordingmodule"
	"github.com/talentvine/webdesk/internal/server/handlers"
)

var (
	systemEventBus    events.EventBus
	moduleInitialized bool
)

// SetupRouter builds the gin engine: middleware, event bus, module
// system and all routes. The database must be initialized first.
func SetupRouter() (*gin.Engine, error) {
	cfg := config.Get()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorLogger())

	if cfg.Server.EnableCORS {
		r.Use(corsMiddleware())
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			return nil, fmt.Errorf("setting trusted proxies: %w", err)
		}
	}

	if err := initializeEventBus(); err != nil {
		return nil, fmt.Errorf("initializing event bus: %w", err)
	}

	if err := initializeModules(); err != nil {
		return nil, fmt.Errorf("initializing modules: %w", err)
	}

	registerCoreRoutes(r)
	modulemanager.RegisterRoutes(r)

	return r, nil
}

// corsMiddleware allows the assessment tab, served from the ATS
// frontend origin, to reach this service directly.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func registerCoreRoutes(r *gin.Engine) {
	r.GET("/api/health", handlers.Health)
	r.GET("/api/v1/system/info", handlers.SystemInfo)
	r.GET("/api/v1/events/stats", func(c *gin.Context) {
		c.JSON(200, systemEventBus.GetStats())
	})
}

// initializeEventBus starts the system-wide event bus and registers it
// globally so modules can reach it during Init.
func initializeEventBus() error {
	if systemEventBus != nil {
		return nil
	}

	busConfig := events.DefaultEventBusConfig()
	bus := events.NewEventBus(busConfig)
	if err := bus.Start(context.Background()); err != nil {
		return err
	}

	systemEventBus = bus
	events.SetGlobalEventBus(bus)

	logger.Info("Event bus started with buffer size %d", busConfig.BufferSize)
	return nil
}

// initializeModules registers and loads every module. Registration
// order matters: the assessment module resolves the question bank and
// recording store during its Init.
func initializeModules() error {
	if moduleInitialized {
		return nil
	}

	questionmodule.Register()
	recordingmodule.Register()
	assessmentmodule.Register()

	if err := modulemanager.LoadAll(database.GetDB()); err != nil {
		return err
	}

	moduleInitialized = true
	logModuleStatus()

	systemEventBus.PublishAsync(events.NewSystemEvent(events.EventSystemStarted, "webdesk started"))
	return nil
}

func logModuleStatus() {
	modules := modulemanager.ListModules()
	logger.Info("Module system initialized with %d modules", len(modules))
	for _, module := range modules {
		logger.Info("  %-22s %s", module.ID(), module.Name())
	}
}

// GetEventBus returns the system event bus instance.
func GetEventBus() events.EventBus {
	return systemEventBus
}

// Shutdown finalizes every unfinished session, then stops the event
// bus. Abandoning a session never skips cleanup: capture streams must
// be released even on service exit.
func Shutdown() {
	if manager := assessmentmodule.GetManager(); manager != nil {
		logger.Info("Shutting down live sessions...")
		manager.Shutdown()
	}

	if systemEventBus != nil {
		systemEventBus.PublishAsync(events.NewSystemEvent(events.EventSystemStopped, "webdesk stopping"))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := systemEventBus.Stop(ctx); err != nil {
			logger.Warn("Event bus stop: %v", err)
		}
	}
}
