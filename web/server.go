// Package web exposes a minimal status and control API over the running
// engine.
package web

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// Controller is the engine surface the web layer needs.
type Controller interface {
	GetOpenPositions() []models.Position
	GetRiskState() models.RiskState
	Equity() float64
	ForceClose(ctx context.Context, symbol string) error
}

// StartServer runs the status API until ctx is cancelled.
func StartServer(ctx context.Context, cfg utilities.WebConfig, logger *zap.Logger, ctrl Controller) {
	logger = logger.Named("web")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", statusHandler(ctrl))
	mux.HandleFunc("GET /api/positions", positionsHandler(ctrl))
	mux.HandleFunc("GET /api/risk", riskHandler(ctrl))
	mux.HandleFunc("POST /api/close", forceCloseHandler(ctrl, logger))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("status API listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("status API failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("status API shutdown failed", zap.Error(err))
		}
	}()
}
