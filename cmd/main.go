package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ngoyal88/reqlog/pkg/api"
	"github.com/ngoyal88/reqlog/pkg/batch"
	"github.com/ngoyal88/reqlog/pkg/config"
	"github.com/ngoyal88/reqlog/pkg/middleware"
	"github.com/ngoyal88/reqlog/pkg/proxy"
	"github.com/ngoyal88/reqlog/pkg/sink"
	"github.com/ngoyal88/reqlog/pkg/storage"
)

func main() {
	// 1. Load Config with hot reload
	cfgStore, err := config.LoadAndWatch()
	if err != nil {
		log.Fatalf("[server] failed to load config: %v", err)
	}
	cfg := cfgStore.Get()
	if cfg == nil {
		log.Fatal("[server] config could not be read")
	}
	log.SetLevel(cfg.Logging.LogLevel())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 2. Batch store: Redis when enabled, in-memory otherwise
	kv, rdb, err := storage.FromConfig(cfg)
	if err != nil {
		log.Fatalf("[server] could not connect to redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
		log.Infof("[server] batches stored in redis at %s", cfg.Redis.Address)
	} else {
		log.Warn("[server] redis disabled, batches kept in memory")
	}

	// 3. Bulk sink for full batches
	in, closeSink, err := sink.FromConfig(ctx, cfg.Sink)
	if err != nil {
		log.Fatalf("[server] failed to create %s sink: %v", cfg.Sink.Type, err)
	}
	defer closeSink()

	flusher := batch.NewFlusher(kv, in, batch.FlusherOptions{
		DBBatchSize:         cfg.Logging.DBBatchSize,
		KeepOnInsertFailure: cfg.Logging.KeepOnInsertFailure,
	})
	reqLogger := batch.NewLogger(flusher, cfg.Logging.FlushTimeout)

	// 4. Upstream application
	gw, err := proxy.New(cfg.Proxy.Target)
	if err != nil {
		log.Fatalf("[server] failed to create proxy: %v", err)
	}

	// 5. Chain middleware. The request logger runs inside the router so
	// route variables are available to it.
	router := mux.NewRouter()
	router.PathPrefix("/").Handler(gw)
	router.Use(middleware.RequestLoggingMiddleware(cfgStore, reqLogger))

	serveMux := http.NewServeMux()
	serveMux.Handle("/metrics", promhttp.Handler())
	serveMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if cfg.Admin.Key != "" {
		api.NewAdminAPI(reqLogger, cfgStore, cfg.Admin.Key).RegisterRoutes(serveMux)
		log.Info("[server] admin API enabled at /admin/*")
	}
	serveMux.Handle("/", middleware.RequestLogger(router))

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           serveMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("[server] listening on %s, proxying to %s (mode %s, flush every %d, file %s)",
			cfg.Server.Port, gw.Target(), cfg.Logging.Mode, cfg.Logging.KVThreshold(), cfg.Logging.FileName())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[server] server failed: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("[server] shutting down gracefully...")

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[server] shutdown: %v", err)
	}
	// mode may have been hot-reloaded since startup
	if err := reqLogger.Close(shutdownCtx, cfgStore.Get().Logging.FileName()); err != nil {
		log.Errorf("[server] flushing request logs: %v", err)
	}
}
