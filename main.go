package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"jobtrail/cache"
	"jobtrail/config"
	"jobtrail/handlers/api"
	"jobtrail/mailapi"
	"jobtrail/middleware"
	"jobtrail/storage"
	"jobtrail/utils"
)

func main() {
	cfg, err := config.LoadConfig("config.toml")
	if err != nil {
		utils.Log.Warn("Could not read config.toml, using defaults: %v", err)
	}

	log := utils.NewLogger(utils.ParseLevel(cfg.Log.Level))
	log.Info("Initializing jobtrail...")

	// Storage backend is selected once for the process lifetime.
	backend := storage.Open(cfg.Cache.Folder, log)
	defer backend.Close()
	log.Info("Cache storage backend: %s", backend.Name())

	store := cache.NewStore(backend, cfg.Cache.MaxSummaries, log)

	// Without IMAP credentials the app still runs, serving cached data only.
	var mail *mailapi.Client
	if cfg.MailEnabled() {
		mail, err = mailapi.NewClient(cfg.IMAP.Server, cfg.IMAP.Port, cfg.IMAP.Username, cfg.IMAP.Password, cfg.IMAP.Folder, log)
		if err != nil {
			log.Error("Mail server connection failed, serving cached data only: %v", err)
			mail = nil
		} else {
			defer mail.Close()
		}
	} else {
		log.Warn("IMAP is not configured, serving cached data only")
	}

	var fetcher cache.Fetcher
	if mail != nil {
		fetcher = mail
	}
	mailCache := cache.New(store, fetcher, log)

	events := api.NewEventsHandler(log)
	mailCache.OnThreadCached = events.NotifyThreadCached
	mailCache.OnSummariesRefreshed = events.NotifySummariesRefreshed
	mailCache.OnCacheCleared = events.NotifyCacheCleared

	threads := api.NewThreadsHandler(mailCache, mail, log)

	app := fiber.New(fiber.Config{
		AppName: "jobtrail",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError

			if appErr, ok := err.(*utils.AppError); ok {
				code = appErr.Code
				log.Error("Application error: %v", appErr)
			} else if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())
	app.Use(helmet.New())
	app.Use(middleware.RateLimiter(100, time.Minute))

	apiRoutes := app.Group("/api")
	{
		apiRoutes.Get("/threads", threads.HandleList)
		apiRoutes.Post("/threads/prefetch", threads.HandlePrefetch)
		apiRoutes.Get("/threads/:id", threads.HandleGet)
		apiRoutes.Get("/threads/:id/attachments/:filename", threads.HandleAttachment)

		apiRoutes.Get("/folders", threads.HandleFolders)

		apiRoutes.Get("/cache/status", threads.HandleStatus)
		apiRoutes.Delete("/cache", threads.HandleClear)

		apiRoutes.Get("/events", events.HandleSSE)
		apiRoutes.Get("/events/ws", websocket.New(events.HandleWebSocket))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("Shutting down...")
		app.Shutdown()
	}()

	log.Info("Starting server on port %d...", cfg.Server.Port)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Error("Error starting server: %v", err)
	}
}
