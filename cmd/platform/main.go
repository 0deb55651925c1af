package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mindreaderbio/platform/app/controllers"
	"github.com/mindreaderbio/platform/app/models"
	"github.com/mindreaderbio/platform/app/repository"
	"github.com/mindreaderbio/platform/internal/pkg/billing"
	"github.com/mindreaderbio/platform/internal/pkg/cache"
	"github.com/mindreaderbio/platform/internal/pkg/config"
	"github.com/mindreaderbio/platform/internal/pkg/database"
	"github.com/mindreaderbio/platform/internal/pkg/env"
	"github.com/mindreaderbio/platform/internal/pkg/errorreport"
	"github.com/mindreaderbio/platform/internal/pkg/mail"
	"github.com/mindreaderbio/platform/internal/pkg/metrics"
	"github.com/mindreaderbio/platform/internal/pkg/router"
)

const shutdownTimeout = 20 * time.Second

func main() {
	app, svc := NewApplication()
	if svc.EmailQueue != nil {
		svc.EmailQueue.Start()
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var err error
	select {
	case err = <-serverErrors:
	case sig := <-shutdown:
		log.Infof("[Server] %v: start shutdown", sig)
		err = app.ShutdownWithTimeout(shutdownTimeout)
	}

	// in-flight webhooks may still enqueue emails until Shutdown returns
	if svc.EmailQueue != nil {
		svc.EmailQueue.Stop()
	}
	_ = cache.Close()
	errorreport.Flush()
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *billing.Service) {
	env.SetupEnvFile()
	errorreport.Setup()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	cfg, err := config.LoadBilling()
	if err != nil {
		log.Fatalf("[Billing] invalid configuration: %v", err)
	}
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" {
		log.Warn("[Billing] STRIPE_SECRET_KEY or STRIPE_WEBHOOK_SECRET not set, billing endpoints will report configuration errors")
	}

	repos := repository.GetGlobalRepositories()
	svc := billing.NewServiceFromRepositories(repos, cache.GetClient(), cfg, mail.NewFromEnv())
	controllers.InitializeBillingController(svc, cfg.PortalPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Billing().Register(registry); err != nil {
		log.Fatalf("[Metrics] register billing collectors: %v", err)
	}
	if err := metrics.RegisterPlanGauges(registry, []string{models.PLAN_FREE, models.PLAN_PRO}, repos.User.CountByPlan); err != nil {
		log.Fatalf("[Metrics] register plan gauges: %v", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// error reporting wraps recover so recovered panics are captured
	app.Use(errorreport.Middleware(), recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if docs := findDocs(); docs != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: docs,
			Path:     "v1",
		}))
	} else {
		log.Warn("[Docs] openapi.yml not found, API docs disabled")
	}

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Users:    repos.User,
		Registry: registry,
	})

	return app, svc
}

func findDocs() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/platform to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		file := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(file); err == nil {
			return file
		}
	}
	return ""
}
