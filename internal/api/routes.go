package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autotrade/internal/api/handlers"
	"autotrade/internal/api/middleware"
	"autotrade/internal/bot"
	"autotrade/internal/repository"
	ws "autotrade/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	StateManager    *bot.StateManager
	StopLossMonitor *bot.StopLossMonitor
	StateRepo       repository.StateRepository
	Hub             *ws.Hub
}

// SetupRoutes настраивает все HTTP маршруты приложения.
//
// Структура маршрутов:
//
// /health - живость процесса
// /metrics - Prometheus метрики
// /api/v1/
//
//	├── /status - состояние приложения и счётчики
//	├── /control/
//	│   ├── POST /pause - приостановить торговлю
//	│   ├── POST /resume - возобновить торговлю
//	│   └── POST /shutdown - плавная остановка
//	├── /snapshots/
//	│   ├── GET / - список снапшотов (from/to/limit)
//	│   ├── POST / - создать снапшот вручную
//	│   └── GET /{id} - снапшот по идентификатору
//	├── /recovery/
//	│   └── GET /candidates - кандидаты на восстановление
//	├── /sessions/
//	│   ├── GET / - список сессий (?active=true)
//	│   ├── POST / - запустить сессию
//	│   └── POST /{id}/stop - остановить сессию
//	├── /transitions - журнал переходов (from/to/limit)
//	└── /stoploss/
//	    ├── GET /stats - статистика монитора
//	    └── POST /reset-warnings - новый цикл предупреждений
//
// /ws/stream - WebSocket для real-time обновлений
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)

	stateHandler := handlers.NewStateHandler(deps.StateManager, deps.StateRepo)
	snapshotHandler := handlers.NewSnapshotHandler(deps.StateManager, deps.StateRepo)
	sessionHandler := handlers.NewSessionHandler(deps.StateManager, deps.StateRepo)
	stopLossHandler := handlers.NewStopLossHandler(deps.StopLossMonitor)

	router.HandleFunc("/health", stateHandler.Health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/status", stateHandler.Status).Methods(http.MethodGet)
	v1.HandleFunc("/transitions", stateHandler.Transitions).Methods(http.MethodGet)

	control := v1.PathPrefix("/control").Subrouter()
	control.HandleFunc("/pause", stateHandler.Pause).Methods(http.MethodPost)
	control.HandleFunc("/resume", stateHandler.Resume).Methods(http.MethodPost)
	control.HandleFunc("/shutdown", stateHandler.Shutdown).Methods(http.MethodPost)

	snapshots := v1.PathPrefix("/snapshots").Subrouter()
	snapshots.HandleFunc("", snapshotHandler.List).Methods(http.MethodGet)
	snapshots.HandleFunc("", snapshotHandler.Create).Methods(http.MethodPost)
	snapshots.HandleFunc("/{id}", snapshotHandler.Get).Methods(http.MethodGet)

	v1.HandleFunc("/recovery/candidates", snapshotHandler.RecoveryCandidates).Methods(http.MethodGet)

	sessions := v1.PathPrefix("/sessions").Subrouter()
	sessions.HandleFunc("", sessionHandler.List).Methods(http.MethodGet)
	sessions.HandleFunc("", sessionHandler.Start).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/stop", sessionHandler.Stop).Methods(http.MethodPost)

	stoploss := v1.PathPrefix("/stoploss").Subrouter()
	stoploss.HandleFunc("/stats", stopLossHandler.Stats).Methods(http.MethodGet)
	stoploss.HandleFunc("/reset-warnings", stopLossHandler.ResetWarnings).Methods(http.MethodPost)

	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWS(deps.Hub, w, r)
		})
	}

	return router
}
