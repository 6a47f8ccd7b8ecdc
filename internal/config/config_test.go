package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.State.SnapshotInterval != 300*time.Second {
		t.Errorf("SnapshotInterval = %v, want 5m", cfg.State.SnapshotInterval)
	}
	if cfg.StopLoss.WarningPercent != 5.0 || cfg.StopLoss.CriticalPercent != 10.0 || cfg.StopLoss.EmergencyPercent != 15.0 {
		t.Errorf("stop-loss tiers = %v/%v/%v, want 5/10/15",
			cfg.StopLoss.WarningPercent, cfg.StopLoss.CriticalPercent, cfg.StopLoss.EmergencyPercent)
	}
	if !cfg.Database.Enabled {
		t.Error("Database.Enabled must default to true")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("SL_WARNING_PERCENT", "3")
	t.Setenv("SL_CRITICAL_PERCENT", "7")
	t.Setenv("SL_EMERGENCY_PERCENT", "12")
	t.Setenv("SNAPSHOT_INTERVAL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Enabled {
		t.Error("Database.Enabled must be false")
	}
	if cfg.StopLoss.WarningPercent != 3 || cfg.StopLoss.CriticalPercent != 7 || cfg.StopLoss.EmergencyPercent != 12 {
		t.Errorf("stop-loss tiers = %v/%v/%v, want 3/7/12",
			cfg.StopLoss.WarningPercent, cfg.StopLoss.CriticalPercent, cfg.StopLoss.EmergencyPercent)
	}
	if cfg.State.SnapshotInterval != 90*time.Second {
		t.Errorf("SnapshotInterval = %v, want 90s", cfg.State.SnapshotInterval)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("SL_CHECK_INTERVAL", "garbage")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.StopLoss.CheckInterval != 10*time.Second {
		t.Errorf("CheckInterval = %v, want default 10s", cfg.StopLoss.CheckInterval)
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "port out of range",
			env:     map[string]string{"SERVER_PORT": "70000"},
			wantErr: "SERVER_PORT",
		},
		{
			name:    "critical below warning",
			env:     map[string]string{"SL_WARNING_PERCENT": "10", "SL_CRITICAL_PERCENT": "8"},
			wantErr: "SL_CRITICAL_PERCENT",
		},
		{
			name:    "emergency below critical",
			env:     map[string]string{"SL_EMERGENCY_PERCENT": "9"},
			wantErr: "SL_EMERGENCY_PERCENT",
		},
		{
			name:    "zero retention",
			env:     map[string]string{"SNAPSHOT_RETENTION_DAYS": "0"},
			wantErr: "SNAPSHOT_RETENTION_DAYS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestDSNMasking(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		Name:     "autotrade",
		User:     "bot",
		Password: "s3cret",
		SSLMode:  "require",
	}

	if !strings.Contains(db.DSN(), "password=s3cret") {
		t.Error("DSN must carry the password")
	}
	if strings.Contains(db.DSNWithoutPassword(), "s3cret") {
		t.Error("DSNWithoutPassword must not leak the password")
	}
}

func TestProviderExcludesSecrets(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := NewProvider(cfg)

	public, err := p.GetAllConfigs(false)
	if err != nil {
		t.Fatalf("GetAllConfigs: %v", err)
	}
	if _, ok := public["database.password"]; ok {
		t.Error("secrets must be excluded by default")
	}
	if public["database.host"] == "" {
		t.Error("non-secret values must be present")
	}

	full, err := p.GetAllConfigs(true)
	if err != nil {
		t.Fatalf("GetAllConfigs(secrets): %v", err)
	}
	if _, ok := full["database.password"]; !ok {
		t.Error("includeSecrets must expose the password")
	}
}
