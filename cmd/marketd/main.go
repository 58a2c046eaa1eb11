package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aidin1998/lotmarket/api"
	"github.com/Aidin1998/lotmarket/internal/config"
	"github.com/Aidin1998/lotmarket/internal/events"
	"github.com/Aidin1998/lotmarket/internal/marketplace"
	"github.com/Aidin1998/lotmarket/pkg/logger"
	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *printConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			log.Fatal(err)
		}
		os.Stdout.Write(out)
		return
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.closeAll(zapLogger)

	shutdownTracing, err := setupTracing(cfg.Tracing)
	if err != nil {
		zapLogger.Fatal("Failed to set up tracing", zap.Error(err))
	}
	cleanup.add("tracing", func() error { return shutdownTracing(context.Background()) })

	store, err := openStore(ctx, cfg.Storage, cfg.Market.Address, &cleanup)
	if err != nil {
		zapLogger.Fatal("Failed to open storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	ledger, minter, err := openLedger(cfg.Ledger, zapLogger, &cleanup)
	if err != nil {
		zapLogger.Fatal("Failed to open ledger", zap.String("driver", cfg.Ledger.Driver), zap.Error(err))
	}

	verifier, err := newVerifier(ctx, cfg.Auth, zapLogger, &cleanup)
	if err != nil {
		zapLogger.Fatal("Failed to create verifier", zap.Error(err))
	}

	hub := events.NewHub(zapLogger, cfg.Events.ReplaySize)
	cleanup.add("event hub", func() error { hub.Close(); return nil })
	sinks := []events.Sink{hub}
	if len(cfg.Events.KafkaBrokers) > 0 {
		kafka := events.NewKafkaSink(events.KafkaConfig{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.KafkaTopic,
		})
		cleanup.add("kafka sink", kafka.Close)
		sinks = append(sinks, kafka)
	}

	market, err := marketplace.NewService(marketplace.Options{
		Address:  models.Identity(cfg.Market.Address),
		Store:    store,
		Ledger:   ledger,
		Verifier: verifier,
		Sink:     events.Fanout(sinks...),
		Logger:   zapLogger,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create marketplace service", zap.Error(err))
	}

	if cfg.Market.PaymentAsset != "" {
		err := market.Initialize(ctx, models.AssetID(cfg.Market.PaymentAsset), models.Identity(cfg.Market.Admin))
		switch {
		case err == nil:
			zapLogger.Info("Marketplace initialized", zap.String("payment_asset", cfg.Market.PaymentAsset))
		case errors.Is(err, marketplace.ErrAlreadyInitialized):
		default:
			zapLogger.Fatal("Failed to initialize marketplace", zap.Error(err))
		}
	}

	apiServer := api.NewServer(zapLogger, market, api.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		Hub:         hub,
		Minter:      minter,
		ServiceName: cfg.Tracing.ServiceName,
	})
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiServer.Handler(),
	}

	go func() {
		zapLogger.Info("Starting API server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("market", cfg.Market.Address),
			zap.String("auth", cfg.Auth.Scheme))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("API server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
