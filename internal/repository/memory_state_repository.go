package repository

import (
	"sort"
	"sync"
	"time"

	"autotrade/internal/models"
)

// MemoryStateRepository - in-memory реализация StateRepository.
//
// Используется в dev/test режиме (DB_ENABLED=false) и в тестах ядра.
// Все методы потокобезопасны; данные живут только в памяти процесса.
type MemoryStateRepository struct {
	mu sync.RWMutex

	stateInfo   *models.ApplicationStateInfo
	snapshots   map[string]*models.SystemSnapshot
	recovery    map[string]*models.RecoveryInfo
	transitions []*models.StateTransition
	sessions    map[string]*models.TradingSessionState

	nextTransitionID int64
}

// NewMemoryStateRepository создает новый экземпляр репозитория
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{
		snapshots: make(map[string]*models.SystemSnapshot),
		recovery:  make(map[string]*models.RecoveryInfo),
		sessions:  make(map[string]*models.TradingSessionState),
	}
}

// SaveStateInfo сохраняет копию состояния приложения
func (r *MemoryStateRepository) SaveStateInfo(info *models.ApplicationStateInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stateInfo = info.Clone()
	return nil
}

// LoadStateInfo возвращает копию сохранённого состояния
func (r *MemoryStateRepository) LoadStateInfo() (*models.ApplicationStateInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stateInfo == nil {
		return nil, ErrStateNotFound
	}
	return r.stateInfo.Clone(), nil
}

// SaveSnapshot сохраняет снапшот
func (r *MemoryStateRepository) SaveSnapshot(snapshot *models.SystemSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots[snapshot.SnapshotID] = snapshot
	return nil
}

// GetSnapshot возвращает снапшот по ID
func (r *MemoryStateRepository) GetSnapshot(snapshotID string) (*models.SystemSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.snapshots[snapshotID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

// GetLatestSnapshot возвращает самый свежий снапшот
func (r *MemoryStateRepository) GetLatestSnapshot() (*models.SystemSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.SystemSnapshot
	for _, s := range r.snapshots {
		if latest == nil || s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrSnapshotNotFound
	}
	return latest, nil
}

// ListSnapshots возвращает снапшоты в диапазоне времени, новые первыми
func (r *MemoryStateRepository) ListSnapshots(from, to time.Time, limit int) ([]*models.SystemSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.SystemSnapshot
	for _, s := range r.snapshots {
		if inRange(s.Timestamp, from, to) {
			result = append(result, s)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SaveRecoveryInfo сохраняет метаданные восстановления
func (r *MemoryStateRepository) SaveRecoveryInfo(info *models.RecoveryInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recovery[info.SnapshotID] = info
	return nil
}

// GetRecoveryInfo возвращает метаданные по ID снапшота
func (r *MemoryStateRepository) GetRecoveryInfo(snapshotID string) (*models.RecoveryInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.recovery[snapshotID]
	if !ok {
		return nil, ErrRecoveryNotFound
	}
	return info, nil
}

// GetRecoveryCandidates возвращает кандидатов: приоритет по возрастанию,
// при равном приоритете свежие раньше
func (r *MemoryStateRepository) GetRecoveryCandidates() ([]*models.RecoveryInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]*models.RecoveryInfo, 0, len(r.recovery))
	for _, info := range r.recovery {
		candidates = append(candidates, info)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RecoveryPriority != candidates[j].RecoveryPriority {
			return candidates[i].RecoveryPriority < candidates[j].RecoveryPriority
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	return candidates, nil
}

// SaveTransition добавляет запись в журнал переходов
func (r *MemoryStateRepository) SaveTransition(tr *models.StateTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTransitionID++
	tr.ID = r.nextTransitionID
	r.transitions = append(r.transitions, tr)
	return nil
}

// ListTransitions возвращает переходы в диапазоне времени, новые первыми
func (r *MemoryStateRepository) ListTransitions(from, to time.Time, limit int) ([]*models.StateTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.StateTransition
	for _, tr := range r.transitions {
		if inRange(tr.Timestamp, from, to) {
			result = append(result, tr)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID > result[j].ID
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SaveSession сохраняет копию торговой сессии
func (r *MemoryStateRepository) SaveSession(session *models.TradingSessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.SessionID] = session.Clone()
	return nil
}

// GetSession возвращает копию сессии по ID
func (r *MemoryStateRepository) GetSession(sessionID string) (*models.TradingSessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// ListSessions возвращает копии сессий; activeOnly фильтрует по is_active
func (r *MemoryStateRepository) ListSessions(activeOnly bool) ([]*models.TradingSessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.TradingSessionState
	for _, s := range r.sessions {
		if activeOnly && !s.IsActive {
			continue
		}
		result = append(result, s.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTimestamp.Before(result[j].StartTimestamp)
	})

	return result, nil
}

// CleanupOldSnapshots удаляет снапшоты (и их recovery info) старше N дней
func (r *MemoryStateRepository) CleanupOldSnapshots(olderThanDays int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	var removed int64
	for id, s := range r.snapshots {
		if s.Timestamp.Before(cutoff) {
			delete(r.snapshots, id)
			delete(r.recovery, id)
			removed++
		}
	}
	return removed, nil
}

// CleanupOldTransitions удаляет записи журнала старше N дней
func (r *MemoryStateRepository) CleanupOldTransitions(olderThanDays int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	kept := r.transitions[:0]
	var removed int64
	for _, tr := range r.transitions {
		if tr.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, tr)
	}
	r.transitions = kept
	return removed, nil
}

// inRange проверяет попадание t в [from, to]; нулевые границы игнорируются
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

// Проверка реализации интерфейса
var _ StateRepository = (*MemoryStateRepository)(nil)
