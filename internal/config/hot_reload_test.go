package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "hft-engine/config"
	"hft-engine/risk"
)

const configTemplate = `
env: dev
risk:
  maxPositionSize: %v
  maxOrderSize: 1
  dailyLossLimit: 1000
  priceCollarPct: 0.05
symbols:
  BTCUSDT:
    startPrice: 100
`

func writeConfig(t *testing.T, path string, maxPos float64) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(configTemplate, maxPos)), 0o644))
}

func newReloader(t *testing.T, maxPos float64) (*HotReloader, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, maxPos)
	reloader, err := NewHotReloader(path, HotReloadConfig{Enabled: true}, nil)
	require.NoError(t, err)
	reloader.load = appconfig.Load
	t.Cleanup(func() { _ = reloader.Stop() })
	return reloader, path
}

func TestHotReloader_New(t *testing.T) {
	reloader, path := newReloader(t, 10)
	assert.Equal(t, path, reloader.configPath)
	assert.True(t, reloader.GetLastReloadTime().IsZero())
}

func TestHotReloader_ReloadAppliesRiskLimits(t *testing.T) {
	reloader, path := newReloader(t, 10)
	rm := risk.NewManager(risk.DefaultLimits(), nil)
	reloader.RegisterApplier("risk", RiskLimitsApplier(rm))

	writeConfig(t, path, 3)
	require.NoError(t, reloader.Reload())
	assert.Equal(t, 3.0, rm.Status().Limits.MaxPositionSize)
	assert.Equal(t, 1, reloader.Reloads())
	assert.False(t, reloader.GetLastReloadTime().IsZero())
}

func TestHotReloader_InvalidConfigKeepsOldLimits(t *testing.T) {
	reloader, path := newReloader(t, 10)
	rm := risk.NewManager(risk.DefaultLimits(), nil)
	reloader.RegisterApplier("risk", RiskLimitsApplier(rm))

	writeConfig(t, path, 0)
	assert.Error(t, reloader.Reload())
	assert.Equal(t, 10.0, rm.Status().Limits.MaxPositionSize)
	assert.Equal(t, 0, reloader.Reloads())
}

func TestHotReloader_ApplierErrorReported(t *testing.T) {
	reloader, _ := newReloader(t, 10)
	called := 0
	reloader.RegisterApplier("a", ApplierFunc(func(appconfig.AppConfig) error {
		called++
		return errors.New("boom")
	}))
	reloader.RegisterApplier("b", ApplierFunc(func(appconfig.AppConfig) error {
		called++
		return nil
	}))

	err := reloader.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply a")
	assert.Equal(t, 2, called)
}

func TestHotReloader_WatchesFile(t *testing.T) {
	reloader, path := newReloader(t, 10)
	rm := risk.NewManager(risk.DefaultLimits(), nil)
	reloader.RegisterApplier("risk", RiskLimitsApplier(rm))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reloader.Start(ctx))

	writeConfig(t, path, 4)
	require.Eventually(t, func() bool {
		return rm.Status().Limits.MaxPositionSize == 4
	}, 3*time.Second, 20*time.Millisecond)
}

func TestHotReloader_Cooldown(t *testing.T) {
	reloader, _ := newReloader(t, 10)
	reloader.config.CooldownTime = time.Hour

	reloader.handleConfigChange()
	reloader.handleConfigChange()
	assert.Equal(t, 1, reloader.Reloads())
}

func TestHotReloader_DisabledStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 10)
	reloader, err := NewHotReloader(path, HotReloadConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NoError(t, reloader.Start(context.Background()))
	assert.NoError(t, reloader.Stop())
	assert.NoError(t, reloader.Stop())
}
