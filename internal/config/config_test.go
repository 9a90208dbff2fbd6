package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/scheduler"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, 10*time.Second, cfg.Solver.TimeLimit)
	assert.Equal(t, scheduler.DefaultMaxEnd, cfg.Solver.MaxEnd)
	assert.True(t, cfg.Solver.Repair)
	assert.Equal(t, AutomationPartial, cfg.DRS.AutomationLevel)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address())
	assert.True(t, cfg.HA.Enabled)
	assert.Equal(t, 30*time.Second, cfg.HA.HeartbeatTimeout)
	assert.Equal(t, 3, cfg.HA.FailureThreshold)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
solver:
  time_limit: 3s
  optimize: true
  durations:
    migrate_vm: 5
drs:
  automation_level: full
  max_migrations: 3
`), 0o600))
	t.Setenv("PLANNER_SOLVER_MAX_END", "600")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, AutomationFull, cfg.DRS.AutomationLevel)
	assert.Equal(t, 3, cfg.DRS.MaxMigrations)
	assert.Equal(t, 600, cfg.Solver.MaxEnd)

	p := cfg.Solver.Parameters()
	assert.Equal(t, 3*time.Second, p.TimeLimit)
	assert.True(t, p.Optimize)
	assert.Equal(t, 600, p.MaxEnd)

	mo := model.New()
	d, err := p.Durations.EvaluateVM(mo, plan.ActionMigrateVM, "vm1")
	require.NoError(t, err)
	assert.Equal(t, 5, d)
	d, err = p.Durations.EvaluateVM(mo, plan.ActionBootVM, "vm1")
	require.NoError(t, err)
	assert.Equal(t, 1, d)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DRS: DRSConfig{Enabled: true, AutomationLevel: AutomationManual, Interval: time.Minute, OvercommitCPU: 1, OvercommitMem: 1},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"automation level": func(c *Config) { c.DRS.AutomationLevel = "sometimes" },
		"interval":         func(c *Config) { c.DRS.Interval = 0 },
		"overcommit":       func(c *Config) { c.DRS.OvercommitCPU = 0.5 },
		"duration":         func(c *Config) { c.Solver.Durations = map[string]int{"boot_vm": 0} },
		"jwt secret":       func(c *Config) { c.Auth.Enabled = true },
		"ha threshold":     func(c *Config) { c.HA = HAConfig{Enabled: true, CheckInterval: time.Second, HeartbeatTimeout: time.Second} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
