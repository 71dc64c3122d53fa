package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/aibot-search-gateway/internal/audit"
	"github.com/xela07ax/aibot-search-gateway/internal/gateway"
	"github.com/xela07ax/aibot-search-gateway/internal/infra"
	"github.com/xela07ax/aibot-search-gateway/internal/infra/auth"
	"github.com/xela07ax/aibot-search-gateway/internal/repository/postgres"
	"github.com/xela07ax/aibot-search-gateway/internal/search"
	"github.com/xela07ax/aibot-search-gateway/internal/upstream"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM через cancel()
	// остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(appCtx).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.Error(err))
	}

	// Ключ периметра обязателен: без него нечем проверять подписи
	perimeterKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to load perimeter public key", zap.Error(err))
	}
	verifier := auth.NewVerifier(map[string]*rsa.PublicKey{"": perimeterKey}, cfg.Auth.ClockSkew)

	// 3. Аудит-трейл: Postgres, если задан, иначе просто лог
	var auditStorage audit.StorageInterface
	if cfg.Database.URL != "" {
		repo := postgres.NewAuditRepo(cfg.Database.URL)
		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := repo.Ping(pingCtx); err != nil {
			logger.Fatal("database unreachable", zap.Error(err))
		}
		pingCancel()
		defer repo.Close()
		auditStorage = repo
	} else {
		logger.Warn("no database configured, audit events go to log only")
		auditStorage = audit.NewZapStorage(logger)
	}

	trail := audit.NewTrail(auditStorage, logger, cfg.Audit.BufferSize, cfg.Audit.FlushInterval)
	trail.Start()
	defer trail.Stop()

	// 4. Control Plane: оперативный blocklist принципалов
	blocklist := gateway.NewBlocklist(rdb, logger)
	if err := blocklist.Init(appCtx); err != nil {
		logger.Fatal("failed to init principal blocklist", zap.Error(err))
	}
	go blocklist.StartListener(appCtx)

	// 5. Метрики
	reg := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(reg)

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		log.Fatal(http.ListenAndServe(addr, metricsMux))
	}()

	// Заполненность буфера аудита как gauge
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.AuditBufferFill.Set(float64(trail.Pending()))
			}
		}
	}()

	// 6. Сборка шлюза
	counter := gateway.NewRedisWindowedCounter(rdb)

	policies := make([]gateway.IntermediaryPolicy, 0, len(cfg.Auth.Intermediaries))
	for _, im := range cfg.Auth.Intermediaries {
		policies = append(policies, gateway.IntermediaryPolicy{
			Pattern:        im.Pattern,
			VerifyAudience: im.VerifyAudience,
			Audience:       im.Audience,
		})
	}

	resolver := gateway.NewResolver(verifier, counter, policies,
		cfg.Limits.ImpersonationWindow, cfg.Limits.MaxUniqueImpersonations, logger)

	// Два клиента messaging API: bot-токен для директории,
	// user-токен для чтения каналов и тредов
	directoryClient := upstream.NewSlackClient(cfg.Slack.BaseURL, cfg.Slack.BotToken, cfg.Slack.Timeout, logger)
	readerClient := upstream.NewSlackClient(cfg.Slack.BaseURL, cfg.Slack.UserToken, cfg.Slack.Timeout, logger)

	authorizer := gateway.NewAuthorizer(directoryClient, cfg.Policy, logger)

	gw := gateway.New(
		verifier,
		resolver,
		authorizer,
		blocklist,
		trail,
		metrics,
		logger,
		cfg.Auth.AssertionHeader,
		cfg.Auth.ImpersonationHeader,
		cfg.Auth.Audience,
		cfg.Auth.AllowedPaths,
	)

	// 7. Поисковый конвейер
	embedder := upstream.NewHTTPEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Timeout)
	index := upstream.NewHTTPVectorIndex(cfg.Index.BaseURL, cfg.Index.Timeout)
	pipeline := search.NewPipeline(embedder, index, readerClient, cfg.Index.TopK, logger)
	searchHandler := search.NewHandler(pipeline, logger)

	// 8. HTTP Server
	// Шлюз оборачивает ВЕСЬ роутер, а не висит на отдельных роутах:
	// запрос на несуществующий путь тоже должен пройти через allow-list.
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Post("/v1/search", searchHandler.Search)

	// Цепочка защиты (снизу вверх)
	protected := gateway.TracingMiddleware( // 1. Присваиваем Trace-ID
		gw.Middleware( // 2. Полный конвейер проверки доступа
			r, // 3. Исполняем запрос
		),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      protected,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("access gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("access gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("access gateway exited properly")
}
