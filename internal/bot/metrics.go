package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================================
// МЕТРИКИ PROMETHEUS
// ============================================================================

var (
	// stateTransitionsTotal считает переходы между состояниями приложения
	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotrade",
		Subsystem: "lifecycle",
		Name:      "state_transitions_total",
		Help:      "Total number of application state transitions",
	}, []string{"to_state", "success"})

	// snapshotsCreatedTotal считает созданные снимки системы по типам
	snapshotsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotrade",
		Subsystem: "lifecycle",
		Name:      "snapshots_created_total",
		Help:      "Total number of system snapshots created",
	}, []string{"type"})

	// snapshotDuration измеряет время создания снимка
	snapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autotrade",
		Subsystem: "lifecycle",
		Name:      "snapshot_duration_seconds",
		Help:      "Time spent building and persisting a system snapshot",
		Buckets:   prometheus.DefBuckets,
	})

	// recoveryAttemptsTotal считает попытки восстановления после сбоя
	recoveryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autotrade",
		Subsystem: "lifecycle",
		Name:      "recovery_attempts_total",
		Help:      "Total number of crash recovery attempts",
	})

	// activeSessionsGauge показывает число активных торговых сессий
	activeSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "autotrade",
		Subsystem: "lifecycle",
		Name:      "active_sessions",
		Help:      "Number of currently active trading sessions",
	})

	// stopLossChecksTotal считает циклы проверки стоп-лоссов
	stopLossChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autotrade",
		Subsystem: "risk",
		Name:      "stoploss_checks_total",
		Help:      "Total number of stop-loss monitoring cycles",
	})

	// stopLossWarningsTotal считает отправленные предупреждения о просадке
	stopLossWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotrade",
		Subsystem: "risk",
		Name:      "stoploss_warnings_total",
		Help:      "Total number of stop-loss warnings sent",
	}, []string{"symbol"})

	// stopLossTriggeredTotal считает срабатывания защитных продаж по уровням
	stopLossTriggeredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotrade",
		Subsystem: "risk",
		Name:      "stoploss_triggered_total",
		Help:      "Total number of protective sells triggered",
	}, []string{"symbol", "tier"})

	// supportBreaksTotal считает подтверждённые пробои поддержки
	supportBreaksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotrade",
		Subsystem: "risk",
		Name:      "support_breaks_total",
		Help:      "Total number of confirmed support level breaks",
	}, []string{"symbol"})
)
