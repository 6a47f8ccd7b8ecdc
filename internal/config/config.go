package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	State     StateConfig
	StopLoss  StopLossConfig
	OrderBook OrderBookConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера (ops API)
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// Enabled = false переключает репозиторий состояния на in-memory
	// реализацию (dev/test режим без Postgres)
	Enabled bool
}

// StateConfig - настройки менеджера состояния
type StateConfig struct {
	// Периодические задачи
	SnapshotInterval time.Duration // интервал между снапшотами (только в RUNNING)
	MonitorInterval  time.Duration // интервал обновления uptime и сохранения состояния

	// Retention для журналов
	SnapshotRetentionDays   int
	TransitionRetentionDays int

	// Версия приложения, пишется в RecoveryInfo
	AppVersion string

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
}

// StopLossConfig - настройки stop-loss монитора
type StopLossConfig struct {
	// Базовый порог; фактически заменён ступенчатыми порогами ниже
	StopLossPercent float64

	WarningPercent   float64 // ступень 1: предупреждение
	CriticalPercent  float64 // ступень 2: условная защитная продажа
	EmergencyPercent float64 // ступень 3: безусловная ликвидация

	CheckInterval time.Duration
}

// OrderBookConfig - настройки анализатора стакана
type OrderBookConfig struct {
	MinLiquidityDepth float64 // минимальная глубина ликвидности; также число уровней для объёмов
	MaxSpreadPercent  float64 // максимально допустимый спред %
	BigWallThreshold  float64 // объём уровня, считающийся "стенкой"
	TypicalOrderSize  float64 // типичный размер ордера для расчёта slippage
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Development bool
}

// Load загружает конфигурацию из .env файла и переменных окружения
func Load() (*Config, error) {
	// .env опционален: в production конфигурация приходит из окружения
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "autotrade"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			Enabled:  getEnvAsBool("DB_ENABLED", true),
		},
		State: StateConfig{
			SnapshotInterval:        getEnvAsDuration("SNAPSHOT_INTERVAL", 300*time.Second),
			MonitorInterval:         getEnvAsDuration("STATE_MONITOR_INTERVAL", 60*time.Second),
			SnapshotRetentionDays:   getEnvAsInt("SNAPSHOT_RETENTION_DAYS", 7),
			TransitionRetentionDays: getEnvAsInt("TRANSITION_RETENTION_DAYS", 30),
			AppVersion:              getEnv("APP_VERSION", "dev"),
			ShutdownTimeout:         getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		StopLoss: StopLossConfig{
			StopLossPercent:  getEnvAsFloat("STOP_LOSS_PERCENT", 10.0),
			WarningPercent:   getEnvAsFloat("SL_WARNING_PERCENT", 5.0),
			CriticalPercent:  getEnvAsFloat("SL_CRITICAL_PERCENT", 10.0),
			EmergencyPercent: getEnvAsFloat("SL_EMERGENCY_PERCENT", 15.0),
			CheckInterval:    getEnvAsDuration("SL_CHECK_INTERVAL", 10*time.Second),
		},
		OrderBook: OrderBookConfig{
			MinLiquidityDepth: getEnvAsFloat("OB_MIN_LIQUIDITY_DEPTH", 10.0),
			MaxSpreadPercent:  getEnvAsFloat("OB_MAX_SPREAD_PERCENT", 1.0),
			BigWallThreshold:  getEnvAsFloat("OB_BIG_WALL_THRESHOLD", 10000.0),
			TypicalOrderSize:  getEnvAsFloat("OB_TYPICAL_ORDER_SIZE", 100.0),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.State.SnapshotInterval <= 0 {
		return fmt.Errorf("SNAPSHOT_INTERVAL must be positive, got %v", c.State.SnapshotInterval)
	}

	if c.State.MonitorInterval <= 0 {
		return fmt.Errorf("STATE_MONITOR_INTERVAL must be positive, got %v", c.State.MonitorInterval)
	}

	if c.State.SnapshotRetentionDays < 1 {
		return fmt.Errorf("SNAPSHOT_RETENTION_DAYS must be at least 1, got %d", c.State.SnapshotRetentionDays)
	}

	if c.StopLoss.CheckInterval <= 0 {
		return fmt.Errorf("SL_CHECK_INTERVAL must be positive, got %v", c.StopLoss.CheckInterval)
	}

	// Ступени должны возрастать: warning < critical < emergency
	if c.StopLoss.WarningPercent <= 0 {
		return fmt.Errorf("SL_WARNING_PERCENT must be positive, got %v", c.StopLoss.WarningPercent)
	}

	if c.StopLoss.CriticalPercent <= c.StopLoss.WarningPercent {
		return fmt.Errorf("SL_CRITICAL_PERCENT (%v) must exceed SL_WARNING_PERCENT (%v)",
			c.StopLoss.CriticalPercent, c.StopLoss.WarningPercent)
	}

	if c.StopLoss.EmergencyPercent <= c.StopLoss.CriticalPercent {
		return fmt.Errorf("SL_EMERGENCY_PERCENT (%v) must exceed SL_CRITICAL_PERCENT (%v)",
			c.StopLoss.EmergencyPercent, c.StopLoss.CriticalPercent)
	}

	if c.OrderBook.MaxSpreadPercent <= 0 {
		return fmt.Errorf("OB_MAX_SPREAD_PERCENT must be positive, got %v", c.OrderBook.MaxSpreadPercent)
	}

	if c.OrderBook.TypicalOrderSize <= 0 {
		return fmt.Errorf("OB_TYPICAL_ORDER_SIZE must be positive, got %v", c.OrderBook.TypicalOrderSize)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
