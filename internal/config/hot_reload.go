package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "hft-engine/config"
	"hft-engine/infrastructure/logger"
	"hft-engine/risk"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: time.Second,
	}
}

// Applier 把新配置应用到运行中的组件。
type Applier interface {
	Apply(cfg appconfig.AppConfig) error
}

// ApplierFunc 函数适配器
type ApplierFunc func(cfg appconfig.AppConfig) error

func (f ApplierFunc) Apply(cfg appconfig.AppConfig) error { return f(cfg) }

// LimitsSetter 是 risk.Manager 的热更新入口。
type LimitsSetter interface {
	SetLimits(l risk.Limits)
}

// RiskLimitsApplier 把 risk 段应用到风控。
func RiskLimitsApplier(m LimitsSetter) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		if err := cfg.Risk.Validate(); err != nil {
			return err
		}
		m.SetLimits(cfg.Risk)
		return nil
	})
}

// HotReloader 配置热更新器
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	load       func(path string) (appconfig.AppConfig, error)
	log        *logger.Logger

	mu         sync.RWMutex
	appliers   map[string]Applier
	lastReload time.Time
	reloads    int
	stopChan   chan struct{}
	doneChan   chan struct{}
	stopOnce   sync.Once
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, log *logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &HotReloader{
		config:     cfg,
		configPath: configPath,
		watcher:    watcher,
		load:       appconfig.LoadWithEnvOverrides,
		log:        logger.OrNop(log).Named("hot_reload"),
		appliers:   make(map[string]Applier),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterApplier 注册参数应用器
func (h *HotReloader) RegisterApplier(name string, applier Applier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers[name] = applier
}

// Start 启动热更新监听。监听所在目录，编辑器的原子替换也能收到事件。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		close(h.doneChan)
		return nil
	}

	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go h.watch(ctx)

	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		close(h.stopChan)
		select {
		case <-h.doneChan:
		case <-time.After(time.Second):
			// watch goroutine 没有启动
		}
		err = h.watcher.Close()
	})
	return err
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	target := filepath.Clean(h.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			// 只处理写入和创建事件
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.handleConfigChange()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			h.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// handleConfigChange 处理配置变化，冷却时间内的重复事件被忽略。
func (h *HotReloader) handleConfigChange() {
	h.mu.RLock()
	last := h.lastReload
	h.mu.RUnlock()
	if time.Since(last) < h.config.CooldownTime {
		return
	}
	if err := h.Reload(); err != nil {
		h.log.Error("Failed to reload config", zap.Error(err))
	}
}

// Reload 立即重新加载并应用配置。加载或校验失败时保留旧配置。
func (h *HotReloader) Reload() error {
	cfg, err := h.load(h.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.appliers))
	for name := range h.appliers {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		if err := h.appliers[name].Apply(cfg); err != nil {
			h.log.Error("apply config failed", zap.String("applier", name), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("apply %s: %w", name, err)
			}
		}
	}
	h.lastReload = time.Now()
	h.reloads++
	h.log.Info("config reloaded", zap.String("path", h.configPath), zap.Int("appliers", len(names)))
	return firstErr
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// Reloads 成功加载的次数
func (h *HotReloader) Reloads() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reloads
}
