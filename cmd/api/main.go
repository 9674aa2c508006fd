package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"poliux/internal/adapters/api"
	catalogadapter "poliux/internal/adapters/catalog"
	"poliux/internal/adapters/generator"
	"poliux/internal/adapters/repo"
	"poliux/internal/domain"
	"poliux/internal/infra/cache"
	"poliux/internal/infra/config"
	"poliux/internal/infra/db"
	httpinfra "poliux/internal/infra/http"
	logpkg "poliux/internal/infra/log"
	"poliux/internal/infra/metrics"
	openai "poliux/internal/infra/openai"
	"poliux/internal/infra/queue"
	"poliux/internal/usecase/campaigns"
	"poliux/internal/usecase/membership"
	"poliux/internal/usecase/reports"
	"poliux/internal/usecase/scope"
	"poliux/internal/usecase/tracking"
)

type storage interface {
	domain.Store
	repo.CatalogWriter
}

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: хранилище недоступно")
	}
	defer closeStore()

	if cfg.Storage.SeedDemo {
		n, err := repo.LoadDemoCatalog(ctx, store)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось загрузить демо-каталог")
		}
		logger.Info().Int("records", n).Msg("api: демо-каталог загружен")
	}

	var kv domain.Cache = cache.NewMemory()
	events := reports.NewBroadcaster(64, logger)
	sinks := []reports.Sink{{Name: "sse", Publisher: events}}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("api: redis недоступен")
		}
		kv = cache.NewRedis(client, "poliux:")
		sinks = append(sinks, reports.Sink{Name: "redis", Publisher: queue.NewRedisEventQueue(client, cfg.Reports.EventsKey)})
	}
	if cfg.RabbitMQURL != "" {
		rabbit, err := queue.NewRabbitEventQueue(cfg.RabbitMQURL, cfg.Reports.EventsQueue)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: rabbitmq недоступен")
		}
		defer rabbit.Close()
		sinks = append(sinks, reports.Sink{Name: "rabbitmq", Publisher: rabbit})
	}

	catalog := catalogadapter.NewCached(store, kv, cfg.Reports.CatalogCacheTTL, logger)

	var gen domain.ReportGenerator = generator.NewSimple()
	if cfg.Reports.Generator == config.GeneratorOpenAI {
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		gen = generator.NewOpenAI(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	}

	reportManager := reports.NewManager(reports.Deps{
		Store:     store,
		Catalog:   catalog,
		Resolver:  scope.NewResolver(store, logger),
		Generator: gen,
		Publisher: reports.NewFanout(sinks...),
		Cache:     kv,
	}, reports.Config{
		QueueDelay:        cfg.Reports.QueueDelay,
		ReadyDelay:        cfg.Reports.ReadyDelay,
		GenerationTimeout: cfg.Reports.GenerationTimeout,
		IdempotencyTTL:    cfg.Reports.IdempotencyTTL,
	}, logger)
	defer reportManager.Close()

	if n, err := reportManager.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("api: не удалось восстановить отчёты")
	} else if n > 0 {
		logger.Info().Int("reports", n).Msg("api: незавершённые отчёты возобновлены")
	}

	handler := api.NewHandler(api.Deps{
		Catalog:    catalog,
		Campaigns:  campaigns.NewService(store, reportManager, cfg.Campaigns.Limit, logger),
		Membership: membership.NewManager(store, catalog, logger),
		Reports:    reportManager,
		Tracking:   tracking.NewService(store, catalog, logger),
		Events:     events,
	}, logger)

	server := httpinfra.NewServer(logger)
	handler.Mount(server.Router, cfg.Auth.Secret)
	if cfg.Auth.Secret == "" {
		logger.Warn().Msg("api: AUTH_SECRET не задан, подпись владельца не проверяется")
	}

	if cfg.MetricsAddr != "" {
		metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	}

	go func() {
		if err := server.Start(ctx, fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api: сервер не остановился вовремя")
	}
}

func openStorage(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (storage, func(), error) {
	if cfg.Storage.Driver != config.StoragePostgres {
		logger.Info().Msg("api: хранилище в памяти")
		return repo.NewMemory(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.Storage.PGDSN, cfg.Storage.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	pg := repo.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info().Msg("api: хранилище postgres")
	return pg, pool.Close, nil
}
