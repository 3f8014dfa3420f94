package bot

import (
	"context"
	"errors"
	"net/http"

	"guildkeeper/internal/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthServer serves /health and, when enabled, the prometheus /metrics.
type HealthServer struct {
	server *http.Server
	logger *zap.Logger
}

func NewHealthServer(cfg config.HealthConfig, logger *zap.Logger) *HealthServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return &HealthServer{
		server: &http.Server{Addr: cfg.Addr, Handler: mux},
		logger: logger,
	}
}

func (h *HealthServer) Start() {
	go func() {
		h.logger.Info("health endpoint enabled", zap.String("addr", h.server.Addr))
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server error", zap.Error(err))
		}
	}()
}

func (h *HealthServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}
