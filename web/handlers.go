package web

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type statusResponse struct {
	Equity        float64   `json:"equity"`
	OpenPositions int       `json:"open_positions"`
	ServerTime    time.Time `json:"server_time"`
}

func statusHandler(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Equity:        ctrl.Equity(),
			OpenPositions: len(ctrl.GetOpenPositions()),
			ServerTime:    time.Now().UTC(),
		})
	}
}

func positionsHandler(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.GetOpenPositions())
	}
}

func riskHandler(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.GetRiskState())
	}
}

func forceCloseHandler(ctrl Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol query parameter required"})
			return
		}
		if err := ctrl.ForceClose(r.Context(), symbol); err != nil {
			logger.Warn("force close failed", zap.String("symbol", symbol), zap.Error(err))
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "symbol": symbol})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
