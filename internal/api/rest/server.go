package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/leadworks/auction-broker/internal/infrastructure/cache"
	"github.com/leadworks/auction-broker/internal/infrastructure/config"
	"github.com/leadworks/auction-broker/internal/infrastructure/database"
	"github.com/leadworks/auction-broker/internal/infrastructure/repository"
	"github.com/leadworks/auction-broker/internal/metrics"
	"github.com/leadworks/auction-broker/internal/service/auction"
	"github.com/leadworks/auction-broker/internal/service/buyerclient"
	"github.com/leadworks/auction-broker/internal/service/eligibility"
	"github.com/leadworks/auction-broker/internal/service/workqueue"
)

// dbMetricsPollInterval is the gap between connection pool gauge updates.
const dbMetricsPollInterval = 15 * time.Second

// Server wires every infrastructure and service component into a single
// HTTP listener with a background auction worker pool.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	pool       *database.ConnectionPool
	cacheMgr   *cache.CacheManager
	queue      *workqueue.Queue
	workers    *workqueue.Pool
	logger     *zap.Logger
	metrics    *metrics.Registry

	workerCancel context.CancelFunc
}

// NewServer constructs every layer named in the configuration: persistence,
// cache, eligibility index, buyer client, auction engine, work queue and
// worker pool, then the HTTP handler tree on top.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	pool, err := database.NewConnectionPool(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	cacheMgr, err := cache.NewCacheManager(&cfg.Redis, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect cache: %w", err)
	}

	db := pool.Pool()
	zipRepo := repository.NewZipCodeRepository(db)
	txRepo := repository.NewTransactionRepository(db)

	tz, err := time.LoadLocation(cfg.Auction.DailyCounterTimezone)
	if err != nil {
		tz = time.UTC
	}
	idx := eligibility.New(zipRepo, txRepo, cacheMgr.Cache, logger, cfg.Auction.EligibilityCacheTTL, tz)

	buyers := buyerclient.New(logger, cfg.Auction.PostBackoff)

	reg := metrics.NewRegistry()

	store := auction.NewStore(pool)
	engine := auction.New(store, idx, buyers, logger, auction.Config{
		AuctionSlack:    cfg.Auction.AuctionSlack,
		PostMaxAttempts: cfg.Auction.PostMaxAttempts,
	}, reg)

	queue := workqueue.New(cacheMgr.Client(), logger, reg)
	workerPool := workqueue.NewPool(queue, engine, logger, cfg.Auction.WorkerCount, reg)

	errHandler := NewErrorHandler()
	leadHandler := NewLeadHandler(pool, queue, errHandler, logger, reg)
	webhookHandler := NewWebhookHandler(pool, errHandler, logger, reg)
	healthService := newHealthService(pool, cacheMgr, cfg, logger)

	rateLimiter := newPerIPRateLimiter(cacheMgr.RateLimiter, logger, "leads:submit", 60, time.Minute)

	router := mux.NewRouter()
	router.HandleFunc("/leads", rateLimiter.middleware(http.HandlerFunc(leadHandler.SubmitLead)).ServeHTTP).Methods(http.MethodPost)
	router.HandleFunc("/leads/{id}", leadHandler.GetLead).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/buyers/{buyerName}", webhookHandler.Receive).Methods(http.MethodPost)
	router.HandleFunc("/healthz", healthService.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", healthService.ReadinessHandler()).Methods(http.MethodGet)

	handler := chain(router,
		requestIDMiddleware,
		loggingMiddleware(logger),
		recoveryMiddleware(logger, errHandler),
		securityHeadersMiddleware,
		corsMiddleware(cfg.CORS),
		tracingMiddleware,
	)

	s := &Server{
		cfg:      cfg,
		pool:     pool,
		cacheMgr: cacheMgr,
		queue:    queue,
		workers:  workerPool,
		logger:   logger,
		metrics:  reg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
	return s, nil
}

// Start runs the auction worker pool in the background and blocks serving
// HTTP until the listener stops.
func (s *Server) Start() error {
	workerCtx, cancel := context.WithCancel(context.Background())
	s.workerCancel = cancel
	go s.workers.Run(workerCtx)
	go s.reportDBPoolMetrics(workerCtx)

	s.logger.Info("listening", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight HTTP requests, stops the worker pool, then
// closes cache and database connections.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", zap.Error(err))
	}
	if s.workerCancel != nil {
		s.workerCancel()
	}
	if err := s.cacheMgr.Close(); err != nil {
		s.logger.Error("cache close error", zap.Error(err))
	}
	return s.pool.Close()
}

// reportDBPoolMetrics polls the connection pool's stats into the
// pgxpool_connections/max_conns gauges until ctx is cancelled.
func (s *Server) reportDBPoolMetrics(ctx context.Context) {
	ticker := time.NewTicker(dbMetricsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := s.pool.Pool().Stat()
			idle := int(stat.IdleConns())
			active := int(stat.AcquiredConns())
			s.metrics.UpdateDBConnectionPoolMetrics(active, idle, active+idle, int(stat.MaxConns()))
		}
	}
}
