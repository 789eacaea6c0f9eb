// Command castd runs the cast session orchestration service: the HTTP
// request surface, the per-session workflow engine, and the orphan sweep.
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
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/gamecast-dev/gamecast/internal/api"
	"github.com/gamecast-dev/gamecast/internal/coordinator"
	"github.com/gamecast-dev/gamecast/internal/workflow"
	"github.com/gamecast-dev/gamecast/pkg/config"
	"github.com/gamecast-dev/gamecast/pkg/observability"
	"github.com/gamecast-dev/gamecast/pkg/renderer"
	"github.com/gamecast-dev/gamecast/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	observability.InitMetrics()

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("build session store: %v", err)
	}
	defer store.Close()
	log.Printf("[castd] session store ready (%s)", cfg.Store.Type)

	rendererCfg, err := cfg.RendererClientConfig()
	if err != nil {
		log.Fatalf("renderer config: %v", err)
	}
	rendererClient, err := renderer.NewHTTPClient(rendererCfg)
	if err != nil {
		log.Fatalf("build renderer client: %v", err)
	}

	workflowCfg, err := cfg.WorkflowEngineConfig()
	if err != nil {
		log.Fatalf("workflow config: %v", err)
	}
	engine := workflow.NewEngine(store, rendererClient, workflowCfg)

	checker := registerHealthChecks(store, rendererClient)

	// Resume interrupted workflows before the request surface opens.
	recoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := engine.Recover(recoverCtx); err != nil {
		cancel()
		log.Fatalf("recover workflows: %v", err)
	}
	cancel()

	if err := engine.StartSweep(); err != nil {
		log.Fatalf("start orphan sweep: %v", err)
	}

	coord := coordinator.New(store, engine)
	handler := api.NewHandler(coord)
	limiter := api.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.RateBurst)
	router := handler.SetupRoutes(limiter)

	apiServer := api.NewServer(cfg.Server.Port, router)
	obsServer := observability.NewServer(cfg.Observability.Port, checker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[castd] API listening on :%d", cfg.Server.Port)
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Printf("[castd] health/metrics listening on :%d", cfg.Observability.Port)
		if err := obsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		log.Println("[castd] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[castd] API shutdown: %v", err)
		}
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[castd] observability shutdown: %v", err)
		}
		if err := engine.Close(shutdownCtx); err != nil {
			log.Printf("[castd] workflow engine shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("castd: %v", err)
	}
	log.Println("[castd] stopped")
}

// buildStore constructs the configured session store backend.
func buildStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Store.Type {
	case "redis":
		redisCfg, err := cfg.RedisStoreConfig()
		if err != nil {
			return nil, err
		}
		return session.NewRedisStore(redisCfg)
	case "file":
		return session.NewFileStore(cfg.Store.BaseDir)
	default:
		return session.NewMemoryStore(), nil
	}
}

// registerHealthChecks wires the store and renderer fleet into the
// health endpoints.
func registerHealthChecks(store session.Store, client renderer.Client) *observability.HealthChecker {
	checker := observability.NewHealthChecker()

	checker.RegisterCheck(observability.StoreCheck(func(ctx context.Context) error {
		_, err := store.ListActive(ctx)
		return err
	}))

	// CheckHealth against a sentinel instance doubles as a reachability
	// probe: a reachable fleet answers (failed for an unknown instance),
	// an unreachable one errors.
	checker.RegisterCheck(observability.RendererCheck(func(ctx context.Context) error {
		_, err := client.CheckHealth(ctx, "healthz-probe")
		return err
	}))

	return checker
}
