package config

import (
	"fmt"
	"strconv"
)

// Provider отдаёт конфигурацию в виде плоской карты ключ → значение.
//
// Используется менеджером состояния для расчёта контрольной суммы
// конфигурации в снапшотах. Секреты (пароли, ключи) по умолчанию
// исключаются, чтобы не протащить их в журнал снапшотов.
type Provider struct {
	cfg *Config
}

// NewProvider создаёт провайдер поверх загруженной конфигурации
func NewProvider(cfg *Config) *Provider {
	return &Provider{cfg: cfg}
}

// GetAllConfigs возвращает все параметры конфигурации.
// При includeSecrets=false секретные значения не попадают в карту.
func (p *Provider) GetAllConfigs(includeSecrets bool) (map[string]string, error) {
	if p.cfg == nil {
		return nil, fmt.Errorf("config provider: no config loaded")
	}

	c := p.cfg
	m := map[string]string{
		"server.host": c.Server.Host,
		"server.port": strconv.Itoa(c.Server.Port),

		"database.driver":  c.Database.Driver,
		"database.host":    c.Database.Host,
		"database.port":    strconv.Itoa(c.Database.Port),
		"database.name":    c.Database.Name,
		"database.sslmode": c.Database.SSLMode,
		"database.enabled": strconv.FormatBool(c.Database.Enabled),

		"state.snapshot_interval":         c.State.SnapshotInterval.String(),
		"state.monitor_interval":          c.State.MonitorInterval.String(),
		"state.snapshot_retention_days":   strconv.Itoa(c.State.SnapshotRetentionDays),
		"state.transition_retention_days": strconv.Itoa(c.State.TransitionRetentionDays),
		"state.app_version":               c.State.AppVersion,

		"stoploss.stop_loss_percent": formatFloat(c.StopLoss.StopLossPercent),
		"stoploss.warning_percent":   formatFloat(c.StopLoss.WarningPercent),
		"stoploss.critical_percent":  formatFloat(c.StopLoss.CriticalPercent),
		"stoploss.emergency_percent": formatFloat(c.StopLoss.EmergencyPercent),
		"stoploss.check_interval":    c.StopLoss.CheckInterval.String(),

		"orderbook.min_liquidity_depth": formatFloat(c.OrderBook.MinLiquidityDepth),
		"orderbook.max_spread_percent":  formatFloat(c.OrderBook.MaxSpreadPercent),
		"orderbook.big_wall_threshold":  formatFloat(c.OrderBook.BigWallThreshold),
		"orderbook.typical_order_size":  formatFloat(c.OrderBook.TypicalOrderSize),

		"logging.level":  c.Logging.Level,
		"logging.format": c.Logging.Format,
	}

	if includeSecrets {
		m["database.user"] = c.Database.User
		m["database.password"] = c.Database.Password
	}

	return m, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
