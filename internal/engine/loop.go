package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"hft-engine/infrastructure/logger"
	"hft-engine/latency"
	"hft-engine/market"
)

// Feed 行情源。NextTick 可以阻塞，ctx 取消时应尽快返回。
type Feed interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	NextTick(ctx context.Context) (market.Tick, error)
}

// TickHandler 处理一条行情；返回错误会终止循环。
type TickHandler func(ctx context.Context, t market.Tick) error

// ErrAlreadyRunning 同一交易对的行情循环已在运行。
var ErrAlreadyRunning = errors.New("market data loop already running")

// FatalLoopError 行情循环因非取消原因退出。
type FatalLoopError struct {
	Symbol string
	Err    error
	Stack  string
}

func (e *FatalLoopError) Error() string {
	return fmt.Sprintf("market data loop %s: %v", e.Symbol, e.Err)
}

func (e *FatalLoopError) Unwrap() error { return e.Err }

// LoopConfig 行情循环配置。
type LoopConfig struct {
	Symbol   string
	Interval time.Duration
	// OnFatal 在循环异常退出后调用一次（循环 goroutine 内）。
	OnFatal func(err *FatalLoopError)
}

// MarketDataLoop pulls ticks for one symbol until stopped or a fatal error.
// Cancellation is observed between iterations; an iteration that has
// started always runs to completion.
type MarketDataLoop struct {
	cfg     LoopConfig
	feed    Feed
	handler TickHandler
	lat     latency.Sink
	log     *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     *FatalLoopError
	ticks   int64
}

func NewMarketDataLoop(cfg LoopConfig, feed Feed, handler TickHandler, lat latency.Sink, log *logger.Logger) *MarketDataLoop {
	if lat == nil {
		lat = latency.Nop{}
	}
	done := make(chan struct{})
	close(done)
	return &MarketDataLoop{
		cfg:     cfg,
		feed:    feed,
		handler: handler,
		lat:     lat,
		log:     logger.OrNop(log).Named("loop"),
		done:    done,
	}
}

// Start 启动行情源和循环；已在运行时返回 ErrAlreadyRunning。
func (l *MarketDataLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, l.cfg.Symbol)
	}
	if err := l.feed.Start(ctx); err != nil {
		return fmt.Errorf("start feed %s: %w", l.cfg.Symbol, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	l.err = nil
	l.ticks = 0

	go l.run(loopCtx, l.done)
	l.log.LogLoop("started", l.cfg.Symbol, map[string]interface{}{"interval": l.cfg.Interval.String()})
	return nil
}

// Stop 发出取消信号并等待当前迭代结束；未运行时为空操作。
func (l *MarketDataLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-done
}

// Running 是否在运行。
func (l *MarketDataLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Done 在循环退出后关闭。
func (l *MarketDataLoop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Err 返回导致循环退出的致命错误；正常停止为 nil。
func (l *MarketDataLoop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		return nil
	}
	return l.err
}

// Ticks 本次运行处理的行情数。
func (l *MarketDataLoop) Ticks() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

func (l *MarketDataLoop) run(ctx context.Context, done chan struct{}) {
	var fatal *FatalLoopError
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.feed.Stop(stopCtx); err != nil {
			l.log.Warn("feed stop failed", zap.String("symbol", l.cfg.Symbol), zap.Error(err))
		}
		cancel()

		l.mu.Lock()
		l.running = false
		l.cancel = nil
		l.err = fatal
		ticks := l.ticks
		l.mu.Unlock()
		close(done)

		if fatal != nil {
			l.log.Error("market data loop terminated",
				zap.String("symbol", l.cfg.Symbol), zap.Error(fatal.Err), zap.String("stack", fatal.Stack))
			if l.cfg.OnFatal != nil {
				l.cfg.OnFatal(fatal)
			}
			return
		}
		l.log.LogLoop("stopped", l.cfg.Symbol, map[string]interface{}{"ticks": ticks})
	}()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.iterate(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return
			}
			fatal = err
			return
		}
		if l.cfg.Interval <= 0 {
			continue
		}
		timer.Reset(l.cfg.Interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// iterate 执行一次迭代；取消只影响阻塞的 NextTick，处理阶段不受取消影响。
func (l *MarketDataLoop) iterate(ctx context.Context) (fatal *FatalLoopError) {
	defer func() {
		if r := recover(); r != nil {
			fatal = &FatalLoopError{
				Symbol: l.cfg.Symbol,
				Err:    fmt.Errorf("panic: %v", r),
				Stack:  string(debug.Stack()),
			}
		}
	}()

	token := l.lat.StartTimer()
	tick, err := l.feed.NextTick(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// 取消期间的读错误视为正常退出
			return &FatalLoopError{Symbol: l.cfg.Symbol, Err: ctx.Err()}
		}
		return &FatalLoopError{Symbol: l.cfg.Symbol, Err: fmt.Errorf("next tick: %w", err)}
	}
	l.lat.Record(latency.StageMarketData, token)
	if tick.Symbol == "" {
		tick.Symbol = l.cfg.Symbol
	}

	if err := l.handler(context.WithoutCancel(ctx), tick); err != nil {
		return &FatalLoopError{Symbol: l.cfg.Symbol, Err: err}
	}
	l.mu.Lock()
	l.ticks++
	l.mu.Unlock()
	return nil
}
