package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/progression/internal/api"
	"example.com/progression/internal/app"
	"example.com/progression/internal/auth"
	"example.com/progression/internal/config"
	"example.com/progression/internal/outbox"
	httptransport "example.com/progression/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	if !authCfg.Enabled() {
		log.Fatalf("JWT_SECRET must be set")
	}

	engine, closeStore, err := app.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}
	defer closeStore()

	var dispatcher *outbox.Dispatcher
	if engine.Pool != nil {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, outbox.WithClientID("progression-api"))
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(engine.Pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	} else {
		log.Printf("memory store selected; outbox events stay in process")
	}

	handler := api.NewHandler(engine.APIDependencies())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(authCfg)
	requestLogger := httptransport.RequestLogger(nil)
	cors := httptransport.CORS(cfg.CORSOrigin)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), requestLogger(cors(authMiddleware.Wrap(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("progression api listening on %s (tz %s, store %s)", cfg.HTTPAddress, engine.Location, cfg.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
