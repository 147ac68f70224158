package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulse/server/internal/config"
	"pulse/server/internal/database"
	"pulse/server/internal/handlers"
	"pulse/server/internal/routes"
	"pulse/server/internal/telemetry"
	ws "pulse/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer shutdownMetrics(context.Background())

	metrics, err := telemetry.New()
	if err != nil {
		log.Error("Failed to create instruments", "error", err)
		os.Exit(1)
	}

	// Connect to database
	gateway, err := database.Open(ctx, cfg.Store)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer gateway.Close()

	hub := ws.NewHub(gateway, ws.Options{
		PingInterval:      cfg.Relay.PingInterval,
		LivenessTimeout:   cfg.Relay.LivenessTimeout,
		SweepInterval:     cfg.Relay.SweepInterval,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		SendBuffer:        cfg.Relay.SendBuffer,
		NotificationLimit: cfg.Relay.NotificationLimit,
		PrimaryKind:       cfg.Relay.PrimaryKind,
	}, log, metrics)
	go hub.Run(ctx)

	app := fiber.New(fiber.Config{
		AppName: "Pulse Relay v1.0",
	})

	// Middleware
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowCredentials: cfg.Server.CORSOrigins != "*",
	}))

	routes.SetupRoutes(app, cfg, handlers.NewWebSocketHandler(ctx, hub))

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("Shutdown failed", "error", err)
		}
	}()

	log.Info("Server starting", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
	if err := app.Listen(cfg.Server.Addr); err != nil {
		log.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
