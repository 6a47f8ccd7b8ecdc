package handlers

import (
	"net/http"

	"autotrade/internal/bot"
)

// StopLossHandler обслуживает endpoints stop-loss монитора
type StopLossHandler struct {
	monitor *bot.StopLossMonitor
}

// NewStopLossHandler создаёт handler монитора
func NewStopLossHandler(monitor *bot.StopLossMonitor) *StopLossHandler {
	return &StopLossHandler{monitor: monitor}
}

// Stats - GET /api/v1/stoploss/stats
func (h *StopLossHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuccessResponse{Data: h.monitor.Stats()})
}

// ResetWarnings - POST /api/v1/stoploss/reset-warnings
// Начинает новый цикл предупреждений: каждая сделка снова получит
// не более одного предупреждения
func (h *StopLossHandler) ResetWarnings(w http.ResponseWriter, r *http.Request) {
	h.monitor.ResetWarnings()
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "warning cycle reset"})
}
