// Command ingestion-service is the composition root for the Ingestion
// Orchestrator (spec section 4.2): it wires one queue.Backend, one
// Broker, one Health & Circuit Registry, and the external collaborator
// clients, then serves a liveness/readiness surface. No package-level
// singletons — every dependency is constructed here and passed down
// explicitly (spec section 9).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/chris-alexander-pop/docubroker/pkg/broker"
	"github.com/chris-alexander-pop/docubroker/pkg/clients"
	"github.com/chris-alexander-pop/docubroker/pkg/config"
	"github.com/chris-alexander-pop/docubroker/pkg/health"
	"github.com/chris-alexander-pop/docubroker/pkg/ingestion"
	"github.com/chris-alexander-pop/docubroker/pkg/logger"
	natsbroker "github.com/chris-alexander-pop/docubroker/pkg/messaging/adapters/nats"
	"github.com/chris-alexander-pop/docubroker/pkg/queue/adapters/redis"
)

type appConfig struct {
	Logger     logger.Config
	Broker     broker.Config
	Health     health.Config
	Ingestion  ingestion.Config
	Redis      redis.Config
	NATS       natsbroker.Config
	PDF        clients.HTTPConfig `env-prefix:"PDF_"`
	Embedding  clients.HTTPConfig `env-prefix:"EMBEDDING_"`
	VectorDB   clients.HTTPConfig `env-prefix:"VECTOR_"`
	ListenAddr string             `env:"LISTEN_ADDR" env-default:":8081"`
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	cfg.Broker.Name = "ingestion-service"

	logger.Init(cfg.Logger)
	log := logger.L()

	backend, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	reg := health.New(backend, cfg.Health)

	notifier, err := natsbroker.New(cfg.NATS)
	if err != nil {
		log.Error("failed to connect to notification stream", "error", err)
		os.Exit(1)
	}

	br := broker.New(backend, notifier, reg, cfg.Broker)

	pdfClient := clients.NewPDFExtractorClient(cfg.PDF, reg)
	embedClient := clients.NewEmbeddingClient(cfg.Embedding, reg)
	vectorClient := clients.NewVectorStoreClient(cfg.VectorDB, reg)

	jobs := ingestion.NewStore(backend)
	orch := ingestion.New(br, jobs, pdfClient, embedClient, vectorClient, cfg.Ingestion)
	orch.RegisterHandlers()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orch.EnsureCollection(ctx); err != nil {
		log.Warn("failed to bootstrap vector collection, continuing", "error", err)
	}
	if err := br.Start(ctx); err != nil {
		log.Error("failed to start broker", "error", err)
		os.Exit(1)
	}

	e := echo.New()
	e.Use(otelecho.Middleware("ingestion-service"))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/ingestion/status", func(c echo.Context) error {
		jobs, err := orch.ListJobs(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, jobs)
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down ingestion-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = e.Shutdown(shutdownCtx)
	_ = br.Stop(shutdownCtx)
}
