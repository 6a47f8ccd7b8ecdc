package repository

import (
	"database/sql"
	"sync"
)

// PostgresCounterRepository - durable счётчики статистики.
//
// Таблица counters: (name, category) PK, value BIGINT.
// Менеджер состояния инкрементирует счётчик на каждый успешный переход
// ("state_transitions_<state>"); stop-loss монитор - на каждое событие.
type PostgresCounterRepository struct {
	db *sql.DB
}

// NewPostgresCounterRepository создает новый экземпляр репозитория
func NewPostgresCounterRepository(db *sql.DB) *PostgresCounterRepository {
	return &PostgresCounterRepository{db: db}
}

// IncrementCounter атомарно увеличивает именованный счётчик
func (r *PostgresCounterRepository) IncrementCounter(name, category string) error {
	query := `
		INSERT INTO counters (name, category, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (name, category) DO UPDATE SET value = counters.value + 1`

	_, err := r.db.Exec(query, name, category)
	return err
}

// MemoryCounterRepository - in-memory счётчики для dev/test режима
type MemoryCounterRepository struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryCounterRepository создает новый экземпляр репозитория
func NewMemoryCounterRepository() *MemoryCounterRepository {
	return &MemoryCounterRepository{
		counters: make(map[string]int64),
	}
}

// IncrementCounter увеличивает именованный счётчик
func (r *MemoryCounterRepository) IncrementCounter(name, category string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[category+"/"+name]++
	return nil
}

// Get возвращает текущее значение счётчика (для тестов и API)
func (r *MemoryCounterRepository) Get(name, category string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counters[category+"/"+name]
}

// Проверка реализации интерфейса
var (
	_ CounterRepository = (*PostgresCounterRepository)(nil)
	_ CounterRepository = (*MemoryCounterRepository)(nil)
)
