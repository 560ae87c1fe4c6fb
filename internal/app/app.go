package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/pdfstore/internal/health"
	"github.com/vladislavdragonenkov/pdfstore/internal/version"
)

const shutdownTimeout = 10 * time.Second

// Run запускает HTTP API, сервер метрик и фоновые воркеры и ждёт отмены ctx.
// Ошибка любого компонента останавливает остальные.
func Run(ctx context.Context, cfg Config) error {
	logCloser, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger := log.WithField("component", "app")
	logger.WithField("build", version.String()).Info("starting pdfstore")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to release dependencies")
		}
	}()

	svc := NewServices(cfg, deps)
	api := NewHTTPServer(cfg, deps, svc)
	metricsSrv := newMetricsServer(cfg.MetricsAddr, deps.Health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(api.Start)
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return svc.OutboxWorker.Run(gctx) })
	g.Go(func() error { return svc.Cleaner.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(api.Shutdown(shutdownCtx), shutdownHTTP(shutdownCtx, metricsSrv))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("pdfstore stopped")
	return nil
}

// newMetricsServer отдаёт /metrics и health-пробы на отдельном порту.
func newMetricsServer(addr string, healthHandler *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func shutdownHTTP(ctx context.Context, srv *http.Server) error {
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
