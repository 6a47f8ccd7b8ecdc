package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"autotrade/internal/models"
)

// Кодек для JSONB колонок (metadata, payload снапшотов)
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PostgresStateRepository - durable реализация StateRepository поверх Postgres.
//
// Таблицы:
// - app_state (единственная строка, upsert)
// - system_snapshots (append-only, payload в JSONB)
// - recovery_info
// - state_transitions (append-only журнал)
// - trading_sessions (upsert по session_id)
type PostgresStateRepository struct {
	db *sql.DB
}

// NewPostgresStateRepository создает новый экземпляр репозитория
func NewPostgresStateRepository(db *sql.DB) *PostgresStateRepository {
	return &PostgresStateRepository{db: db}
}

// ============================================================
// Состояние приложения
// ============================================================

// SaveStateInfo сохраняет состояние приложения (idempotent upsert)
func (r *PostgresStateRepository) SaveStateInfo(info *models.ApplicationStateInfo) error {
	lastErr, err := marshalNullable(info.LastError)
	if err != nil {
		return fmt.Errorf("failed to marshal last_error: %w", err)
	}

	query := `
		INSERT INTO app_state (
			id, current_state, previous_state, state_changed_at, uptime_seconds,
			restart_count, last_shutdown_reason, last_error, trading_active,
			maintenance_mode, safe_shutdown_requested, emergency_stop_active,
			session_start_time, deals_processed, orders_processed, errors_count
		)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			current_state = EXCLUDED.current_state,
			previous_state = EXCLUDED.previous_state,
			state_changed_at = EXCLUDED.state_changed_at,
			uptime_seconds = EXCLUDED.uptime_seconds,
			restart_count = EXCLUDED.restart_count,
			last_shutdown_reason = EXCLUDED.last_shutdown_reason,
			last_error = EXCLUDED.last_error,
			trading_active = EXCLUDED.trading_active,
			maintenance_mode = EXCLUDED.maintenance_mode,
			safe_shutdown_requested = EXCLUDED.safe_shutdown_requested,
			emergency_stop_active = EXCLUDED.emergency_stop_active,
			session_start_time = EXCLUDED.session_start_time,
			deals_processed = EXCLUDED.deals_processed,
			orders_processed = EXCLUDED.orders_processed,
			errors_count = EXCLUDED.errors_count`

	_, err = r.db.Exec(
		query,
		info.CurrentState,
		info.PreviousState,
		info.StateChangedAt,
		info.UptimeSeconds,
		info.RestartCount,
		info.LastShutdownReason,
		lastErr,
		info.TradingActive,
		info.MaintenanceMode,
		info.SafeShutdownRequested,
		info.EmergencyStopActive,
		info.SessionStartTime,
		info.DealsProcessed,
		info.OrdersProcessed,
		info.ErrorsCount,
	)

	return err
}

// LoadStateInfo загружает сохранённое состояние приложения
func (r *PostgresStateRepository) LoadStateInfo() (*models.ApplicationStateInfo, error) {
	query := `
		SELECT current_state, previous_state, state_changed_at, uptime_seconds,
		       restart_count, last_shutdown_reason, last_error, trading_active,
		       maintenance_mode, safe_shutdown_requested, emergency_stop_active,
		       session_start_time, deals_processed, orders_processed, errors_count
		FROM app_state
		WHERE id = 1`

	info := &models.ApplicationStateInfo{}
	var lastErr []byte

	err := r.db.QueryRow(query).Scan(
		&info.CurrentState,
		&info.PreviousState,
		&info.StateChangedAt,
		&info.UptimeSeconds,
		&info.RestartCount,
		&info.LastShutdownReason,
		&lastErr,
		&info.TradingActive,
		&info.MaintenanceMode,
		&info.SafeShutdownRequested,
		&info.EmergencyStopActive,
		&info.SessionStartTime,
		&info.DealsProcessed,
		&info.OrdersProcessed,
		&info.ErrorsCount,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}

	if len(lastErr) > 0 {
		info.LastError = &models.ErrorInfo{}
		if err := json.Unmarshal(lastErr, info.LastError); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last_error: %w", err)
		}
	}

	return info, nil
}

// ============================================================
// Снапшоты
// ============================================================

// SaveSnapshot сохраняет снапшот системы
func (r *PostgresStateRepository) SaveSnapshot(snapshot *models.SystemSnapshot) error {
	sessions, err := json.Marshal(snapshot.TradingSessions)
	if err != nil {
		return fmt.Errorf("failed to marshal trading_sessions: %w", err)
	}
	deals, err := json.Marshal(snapshot.ActiveDeals)
	if err != nil {
		return fmt.Errorf("failed to marshal active_deals: %w", err)
	}
	orders, err := json.Marshal(snapshot.PendingOrders)
	if err != nil {
		return fmt.Errorf("failed to marshal pending_orders: %w", err)
	}
	metrics, err := marshalNullable(snapshot.SystemMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal system_metrics: %w", err)
	}
	errInfo, err := marshalNullable(snapshot.ErrorInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal error_info: %w", err)
	}

	query := `
		INSERT INTO system_snapshots (
			snapshot_id, timestamp, application_state, trading_sessions,
			active_deals, pending_orders, system_metrics, config_checksum, error_info
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(
		query,
		snapshot.SnapshotID,
		snapshot.Timestamp,
		snapshot.ApplicationState,
		sessions,
		deals,
		orders,
		metrics,
		snapshot.ConfigChecksum,
		errInfo,
	)

	return err
}

// GetSnapshot возвращает снапшот по ID
func (r *PostgresStateRepository) GetSnapshot(snapshotID string) (*models.SystemSnapshot, error) {
	query := snapshotSelect + ` WHERE snapshot_id = $1`

	row := r.db.QueryRow(query, snapshotID)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return snapshot, nil
}

// GetLatestSnapshot возвращает самый свежий снапшот
func (r *PostgresStateRepository) GetLatestSnapshot() (*models.SystemSnapshot, error) {
	query := snapshotSelect + ` ORDER BY timestamp DESC LIMIT 1`

	row := r.db.QueryRow(query)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return snapshot, nil
}

// ListSnapshots возвращает снапшоты в диапазоне времени, новые первыми
func (r *PostgresStateRepository) ListSnapshots(from, to time.Time, limit int) ([]*models.SystemSnapshot, error) {
	query := snapshotSelect + `
		WHERE ($1::timestamptz IS NULL OR timestamp >= $1)
		  AND ($2::timestamptz IS NULL OR timestamp <= $2)
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := r.db.Query(query, nullableTime(from), nullableTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*models.SystemSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return snapshots, nil
}

const snapshotSelect = `
	SELECT snapshot_id, timestamp, application_state, trading_sessions,
	       active_deals, pending_orders, system_metrics, config_checksum, error_info
	FROM system_snapshots`

// rowScanner покрывает *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSnapshot читает одну строку снапшота, распаковывая JSONB payload
func scanSnapshot(row rowScanner) (*models.SystemSnapshot, error) {
	snapshot := &models.SystemSnapshot{}
	var sessions, deals, orders, metrics, errInfo []byte

	err := row.Scan(
		&snapshot.SnapshotID,
		&snapshot.Timestamp,
		&snapshot.ApplicationState,
		&sessions,
		&deals,
		&orders,
		&metrics,
		&snapshot.ConfigChecksum,
		&errInfo,
	)
	if err != nil {
		return nil, err
	}

	if len(sessions) > 0 {
		if err := json.Unmarshal(sessions, &snapshot.TradingSessions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trading_sessions: %w", err)
		}
	}
	if len(deals) > 0 {
		if err := json.Unmarshal(deals, &snapshot.ActiveDeals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal active_deals: %w", err)
		}
	}
	if len(orders) > 0 {
		if err := json.Unmarshal(orders, &snapshot.PendingOrders); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending_orders: %w", err)
		}
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &snapshot.SystemMetrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal system_metrics: %w", err)
		}
	}
	if len(errInfo) > 0 {
		snapshot.ErrorInfo = &models.ErrorInfo{}
		if err := json.Unmarshal(errInfo, snapshot.ErrorInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error_info: %w", err)
		}
	}

	return snapshot, nil
}

// ============================================================
// Recovery info
// ============================================================

// SaveRecoveryInfo сохраняет метаданные восстановления
func (r *PostgresStateRepository) SaveRecoveryInfo(info *models.RecoveryInfo) error {
	metadata, err := marshalNullable(info.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO recovery_info (
			snapshot_id, created_at, application_version, recovery_priority,
			recovery_notes, validation_status, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.Exec(
		query,
		info.SnapshotID,
		info.CreatedAt,
		info.ApplicationVersion,
		info.RecoveryPriority,
		info.RecoveryNotes,
		info.ValidationStatus,
		metadata,
	)

	return err
}

// GetRecoveryInfo возвращает метаданные по ID снапшота
func (r *PostgresStateRepository) GetRecoveryInfo(snapshotID string) (*models.RecoveryInfo, error) {
	query := `
		SELECT snapshot_id, created_at, application_version, recovery_priority,
		       recovery_notes, validation_status, metadata
		FROM recovery_info
		WHERE snapshot_id = $1`

	info, err := scanRecoveryInfo(r.db.QueryRow(query, snapshotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecoveryNotFound
		}
		return nil, err
	}
	return info, nil
}

// GetRecoveryCandidates возвращает кандидатов на восстановление:
// приоритет по возрастанию, затем свежие раньше
func (r *PostgresStateRepository) GetRecoveryCandidates() ([]*models.RecoveryInfo, error) {
	query := `
		SELECT snapshot_id, created_at, application_version, recovery_priority,
		       recovery_notes, validation_status, metadata
		FROM recovery_info
		ORDER BY recovery_priority ASC, created_at DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*models.RecoveryInfo
	for rows.Next() {
		info, err := scanRecoveryInfo(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, info)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return candidates, nil
}

func scanRecoveryInfo(row rowScanner) (*models.RecoveryInfo, error) {
	info := &models.RecoveryInfo{}
	var metadata []byte

	err := row.Scan(
		&info.SnapshotID,
		&info.CreatedAt,
		&info.ApplicationVersion,
		&info.RecoveryPriority,
		&info.RecoveryNotes,
		&info.ValidationStatus,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &info.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return info, nil
}

// ============================================================
// Журнал переходов
// ============================================================

// SaveTransition добавляет запись в журнал переходов
func (r *PostgresStateRepository) SaveTransition(tr *models.StateTransition) error {
	metadata, err := marshalNullable(tr.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO state_transitions (
			from_state, to_state, timestamp, reason, success, duration_ms, error_message, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return r.db.QueryRow(
		query,
		tr.FromState,
		tr.ToState,
		tr.Timestamp,
		tr.Reason,
		tr.Success,
		tr.DurationMs,
		tr.ErrorMessage,
		metadata,
	).Scan(&tr.ID)
}

// ListTransitions возвращает переходы в диапазоне времени, новые первыми
func (r *PostgresStateRepository) ListTransitions(from, to time.Time, limit int) ([]*models.StateTransition, error) {
	query := `
		SELECT id, from_state, to_state, timestamp, reason, success, duration_ms, error_message, metadata
		FROM state_transitions
		WHERE ($1::timestamptz IS NULL OR timestamp >= $1)
		  AND ($2::timestamptz IS NULL OR timestamp <= $2)
		ORDER BY timestamp DESC, id DESC
		LIMIT $3`

	rows, err := r.db.Query(query, nullableTime(from), nullableTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []*models.StateTransition
	for rows.Next() {
		tr := &models.StateTransition{}
		var metadata []byte
		err := rows.Scan(
			&tr.ID,
			&tr.FromState,
			&tr.ToState,
			&tr.Timestamp,
			&tr.Reason,
			&tr.Success,
			&tr.DurationMs,
			&tr.ErrorMessage,
			&metadata,
		)
		if err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &tr.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		transitions = append(transitions, tr)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return transitions, nil
}

// ============================================================
// Торговые сессии
// ============================================================

// SaveSession сохраняет сессию (upsert по session_id)
func (r *PostgresStateRepository) SaveSession(session *models.TradingSessionState) error {
	metadata, err := marshalNullable(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO trading_sessions (
			session_id, currency_pair, is_active, start_timestamp,
			last_activity_timestamp, active_deals_count, open_orders_count,
			total_profit, total_fees, processed_tickers, generated_signals, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			last_activity_timestamp = EXCLUDED.last_activity_timestamp,
			active_deals_count = EXCLUDED.active_deals_count,
			open_orders_count = EXCLUDED.open_orders_count,
			total_profit = EXCLUDED.total_profit,
			total_fees = EXCLUDED.total_fees,
			processed_tickers = EXCLUDED.processed_tickers,
			generated_signals = EXCLUDED.generated_signals,
			metadata = EXCLUDED.metadata`

	_, err = r.db.Exec(
		query,
		session.SessionID,
		session.CurrencyPair,
		session.IsActive,
		session.StartTimestamp,
		session.LastActivityTimestamp,
		session.ActiveDealsCount,
		session.OpenOrdersCount,
		session.TotalProfit,
		session.TotalFees,
		session.ProcessedTickers,
		session.GeneratedSignals,
		metadata,
	)

	return err
}

// GetSession возвращает сессию по ID
func (r *PostgresStateRepository) GetSession(sessionID string) (*models.TradingSessionState, error) {
	query := sessionSelect + ` WHERE session_id = $1`

	session, err := scanSession(r.db.QueryRow(query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// ListSessions возвращает сессии; activeOnly фильтрует по is_active
func (r *PostgresStateRepository) ListSessions(activeOnly bool) ([]*models.TradingSessionState, error) {
	query := sessionSelect + `
		WHERE (NOT $1::boolean OR is_active)
		ORDER BY start_timestamp ASC`

	rows, err := r.db.Query(query, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.TradingSessionState
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

const sessionSelect = `
	SELECT session_id, currency_pair, is_active, start_timestamp,
	       last_activity_timestamp, active_deals_count, open_orders_count,
	       total_profit, total_fees, processed_tickers, generated_signals, metadata
	FROM trading_sessions`

func scanSession(row rowScanner) (*models.TradingSessionState, error) {
	session := &models.TradingSessionState{}
	var metadata []byte

	err := row.Scan(
		&session.SessionID,
		&session.CurrencyPair,
		&session.IsActive,
		&session.StartTimestamp,
		&session.LastActivityTimestamp,
		&session.ActiveDealsCount,
		&session.OpenOrdersCount,
		&session.TotalProfit,
		&session.TotalFees,
		&session.ProcessedTickers,
		&session.GeneratedSignals,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return session, nil
}

// ============================================================
// Retention
// ============================================================

// CleanupOldSnapshots удаляет снапшоты (и связанные recovery_info) старше N дней
func (r *PostgresStateRepository) CleanupOldSnapshots(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	// recovery_info сначала: FK на snapshot_id
	if _, err := r.db.Exec(`DELETE FROM recovery_info WHERE created_at < $1`, cutoff); err != nil {
		return 0, err
	}

	result, err := r.db.Exec(`DELETE FROM system_snapshots WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// CleanupOldTransitions удаляет записи журнала старше N дней
func (r *PostgresStateRepository) CleanupOldTransitions(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	result, err := r.db.Exec(`DELETE FROM state_transitions WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// ============================================================
// Утилиты
// ============================================================

// marshalNullable сериализует значение в JSON; nil остаётся SQL NULL
func marshalNullable(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *models.ErrorInfo:
		if val == nil {
			return nil, nil
		}
	case map[string]interface{}:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// nullableTime превращает нулевое время в SQL NULL
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// Проверка реализации интерфейса
var _ StateRepository = (*PostgresStateRepository)(nil)
