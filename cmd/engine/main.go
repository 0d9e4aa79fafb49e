package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hft-engine/config"
	"hft-engine/infrastructure/alert"
	"hft-engine/infrastructure/logger"
	"hft-engine/infrastructure/monitor"
	snapcache "hft-engine/internal/cache/redis"
	hotreload "hft-engine/internal/config"
	"hft-engine/internal/engine"
	"hft-engine/inventory"
	"hft-engine/latency"
	"hft-engine/market"
	"hft-engine/order"
	"hft-engine/risk"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *cfgPath, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine exited with error", zap.Error(err))
		log.Close()
		os.Exit(1)
	}
	log.Info("engine exited")
}

func run(ctx context.Context, cfg config.AppConfig, cfgPath string, log *logger.Logger) error {
	log = log.WithFields(map[string]interface{}{"env": cfg.Env, "paper": cfg.Engine.Paper})
	mon := monitor.New(cfg.Metrics)

	st, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	alerts := alert.NewManager([]alert.Channel{alert.NewLogChannel("log", log)},
		time.Duration(cfg.Alert.ThrottleSeconds)*time.Second)

	books := market.NewBooks(cfg.OrderBook.Market(), nil)
	defer books.Publisher().Close()

	var cache *snapcache.SnapshotCache
	if cfg.Redis.Enabled {
		rc, err := snapcache.New(ctx, snapcache.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		cache = snapcache.NewSnapshotCache(rc,
			time.Duration(cfg.Redis.SnapshotTTLMs)*time.Millisecond,
			time.Duration(cfg.Redis.MinIntervalMs)*time.Millisecond, log)
		if cfg.Alert.Redis {
			alerts.AddChannel(alert.NewRedisChannel(rc.Underlying(), cfg.Redis.AlertTopic))
		}
	}

	lat := latency.NewMonitor(1000)
	rm := risk.NewManager(cfg.Risk, log)
	ex := order.NewExecutor(order.ExecutorConfig{Paper: cfg.Engine.Paper}, st, lat, log)
	for _, sym := range cfg.SymbolNames() {
		ex.SetConstraints(sym, cfg.Symbols[sym].Constraints())
	}
	positions := inventory.NewTracker(st, log)

	eng, err := engine.New(engine.Config{
		TickInterval:    cfg.Engine.TickInterval(),
		IntentQueueSize: cfg.Engine.IntentQueueSize,
		IntentWorkers:   cfg.Engine.IntentWorkers,
	}, engine.Components{
		Books:     books,
		Risk:      rm,
		Executor:  ex,
		Positions: positions,
		Latency:   lat,
		Strategy:  newStrategy(cfg, positions),
		Monitor:   mon,
		Alerts:    alerts,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	// 任何返回路径都要撤单并停止 worker
	defer shutdownEngine(eng, log)

	var reloader *hotreload.HotReloader
	if cfg.HotReload.Enabled {
		reloader, err = hotreload.NewHotReloader(cfgPath, hotreload.HotReloadConfig{
			Enabled:      true,
			CooldownTime: time.Duration(cfg.HotReload.CooldownMs) * time.Millisecond,
		}, log)
		if err != nil {
			return err
		}
		reloader.RegisterApplier("risk", hotreload.RiskLimitsApplier(rm))
		if err := reloader.Start(ctx); err != nil {
			return err
		}
		defer reloader.Stop()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	abort := func(err error) error {
		cancelRun()
		_ = g.Wait()
		return err
	}

	if cfg.Metrics.Listen != "" {
		startMetricsServer(gctx, g, cfg.Metrics.Listen, mon, log)
	}
	if cache != nil {
		snaps := books.Publisher().SubscribeSnapshots(256)
		g.Go(func() error { return cache.Run(gctx, snaps) })
	}

	for _, sym := range cfg.SymbolNames() {
		feed, err := newFeed(cfg, sym, mon, log)
		if err != nil {
			return abort(err)
		}
		if err := eng.StartMarketData(gctx, sym, feed); err != nil {
			return abort(fmt.Errorf("start market data %s: %w", sym, err))
		}
		symbol := sym
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-eng.MarketDataDone(symbol):
				// 行情循环不自动重启，交给进程管理器
				return eng.MarketDataErr(symbol)
			}
		})
	}

	g.Go(func() error { return notifySystemd(gctx, log) })

	log.Info("engine running",
		zap.Strings("symbols", cfg.SymbolNames()),
		zap.String("feed", cfg.Feed.Mode))

	<-gctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdownEngine(eng, log)

	return g.Wait()
}

// shutdownEngine 停止引擎（撤销全部挂单）并记录最终状态；可重复调用。
func shutdownEngine(eng *engine.TradingEngine, log *logger.Logger) {
	if eng.GetState() == engine.StateStopped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		log.Error("engine stop failed", zap.Error(err))
	}
	rs := eng.RiskStatus()
	pnl := eng.TotalPnL()
	log.Info("final state",
		zap.Float64("daily_pnl", rs.DailyPnL),
		zap.Float64("realized", pnl.Realized),
		zap.Float64("unrealized", pnl.Unrealized),
		zap.Int64("risk_rejects", rs.RejectedOrders))
}

func startMetricsServer(ctx context.Context, g *errgroup.Group, addr string, mon *monitor.Monitor, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mon.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// notifySystemd 发送 READY 并按 WatchdogSec 的一半周期喂狗；不在 systemd 下时为空操作。
func notifySystemd(ctx context.Context, log *logger.Logger) error {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready failed", zap.Error(err))
	} else if !ok {
		return nil
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
