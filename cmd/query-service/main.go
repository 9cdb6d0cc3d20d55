// Command query-service is the composition root for the Query
// Orchestrator (spec section 4.3): it wires one queue.Backend, the
// Session Store, the Health & Circuit Registry, and the external
// collaborator clients, then serves the chat endpoint. No package-
// level singletons (spec section 9).
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

	"github.com/chris-alexander-pop/docubroker/pkg/cache"
	cachememory "github.com/chris-alexander-pop/docubroker/pkg/cache/adapters/memory"
	cacheredis "github.com/chris-alexander-pop/docubroker/pkg/cache/adapters/redis"
	"github.com/chris-alexander-pop/docubroker/pkg/clients"
	"github.com/chris-alexander-pop/docubroker/pkg/config"
	"github.com/chris-alexander-pop/docubroker/pkg/health"
	"github.com/chris-alexander-pop/docubroker/pkg/logger"
	"github.com/chris-alexander-pop/docubroker/pkg/query"
	"github.com/chris-alexander-pop/docubroker/pkg/queue/adapters/redis"
	"github.com/chris-alexander-pop/docubroker/pkg/session"
)

type appConfig struct {
	Logger     logger.Config
	Health     health.Config
	Session    session.Config
	Query      query.Config
	Redis      redis.Config
	EmbedCache cache.Config       `env-prefix:"EMBED_CACHE_"`
	Embedding  clients.HTTPConfig `env-prefix:"EMBEDDING_"`
	VectorDB   clients.HTTPConfig `env-prefix:"VECTOR_"`
	LLM        clients.HTTPConfig `env-prefix:"LLM_"`
	ListenAddr string             `env:"LISTEN_ADDR" env-default:":8082"`
}

// newEmbedCache builds the query-embedding cache (SPEC_FULL.md §C.5)
// from the configured driver, wrapped with the resilience and tracing
// decorators every other backend-facing call in this service goes
// through. "memory" needs no external dependency and always succeeds;
// "redis" returns a nil cache and an error when it cannot connect, and
// main then runs the orchestrator without a cache.
func newEmbedCache(cfg cache.Config) (cache.Cache, error) {
	var backend cache.Cache
	if cfg.Driver == "redis" {
		redisBackend, err := cacheredis.New(cfg)
		if err != nil {
			return nil, err
		}
		backend = redisBackend
	} else {
		backend = cachememory.New()
	}

	resilient := cache.NewResilientCache(backend, cache.ResilientConfig{
		CircuitBreakerEnabled:   true,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		RetryEnabled:            true,
		RetryMaxAttempts:        2,
		RetryBackoff:            50 * time.Millisecond,
	})
	return cache.NewInstrumentedCache(resilient), nil
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}

	logger.Init(cfg.Logger)
	log := logger.L()

	backend, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	reg := health.New(backend, cfg.Health)
	sessions := session.New(backend, cfg.Session)

	embedClient := clients.NewEmbeddingClient(cfg.Embedding, reg)
	vectorClient := clients.NewVectorStoreClient(cfg.VectorDB, reg)
	llmClient := clients.NewLLMClient(cfg.LLM, reg)

	embedCache, err := newEmbedCache(cfg.EmbedCache)
	if err != nil {
		log.Warn("failed to connect to embedding cache, continuing without it", "error", err)
	}

	orch := query.New(sessions, embedClient, vectorClient, llmClient, embedCache, cfg.Query)

	e := echo.New()
	e.Use(otelecho.Middleware("query-service"))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.POST("/chat", func(c echo.Context) error {
		var req chatRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
		sessionID, resp, err := orch.Answer(c.Request().Context(), req.SessionID, req.Query)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"session_id": sessionID,
			"response":   resp,
		})
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down query-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = e.Shutdown(shutdownCtx)
}
