package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hft-engine/infrastructure/logger"
	"hft-engine/market"
)

// BinanceSpotWSEndpoint 现货 raw stream 入口。
const BinanceSpotWSEndpoint = "wss://stream.binance.com:9443/ws"

// ErrFeedClosed 行情源已停止。
var ErrFeedClosed = errors.New("depth feed closed")

// DepthFeedConfig 深度行情配置。
type DepthFeedConfig struct {
	Endpoint      string // 默认 BinanceSpotWSEndpoint
	Symbol        string
	Levels        int           // 5, 10 或 20
	UpdateSpeed   time.Duration // 100ms 或 1s
	ReadTimeout   time.Duration
	MaxReconnects int // 连续重连失败次数上限，超过后 NextTick 返回错误
	Backoff       time.Duration
}

func (c DepthFeedConfig) withDefaults() DepthFeedConfig {
	if c.Endpoint == "" {
		c.Endpoint = BinanceSpotWSEndpoint
	}
	if c.Levels <= 0 {
		c.Levels = 20
	}
	if c.UpdateSpeed <= 0 {
		c.UpdateSpeed = 100 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	return c
}

// StreamURL 构造 <symbol>@depth<levels>@<speed> 的订阅地址。
func (c DepthFeedConfig) StreamURL() string {
	c = c.withDefaults()
	stream := fmt.Sprintf("%s@depth%d", strings.ToLower(c.Symbol), c.Levels)
	if c.UpdateSpeed < time.Second {
		stream += "@100ms"
	}
	return strings.TrimRight(c.Endpoint, "/") + "/" + stream
}

// DepthFeed 订阅 binance 部分深度流。读 goroutine 只保留最新一条
// 未消费的 tick，慢消费者看到的是最新盘口而不是积压。
type DepthFeed struct {
	cfg         DepthFeedConfig
	dialer      *websocket.Dialer
	limiter     RateLimiter
	log         *logger.Logger
	onReconnect func()

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	sess   *session
}

// session 一次 Start 到 Stop 之间的通道。
type session struct {
	ticks chan market.Tick
	errs  chan error
	done  chan struct{}
}

func newSession() *session {
	return &session{
		ticks: make(chan market.Tick, 1),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
}

// NewDepthFeed 创建深度行情源。
func NewDepthFeed(cfg DepthFeedConfig, log *logger.Logger) *DepthFeed {
	return &DepthFeed{
		cfg:     cfg.withDefaults(),
		dialer:  websocket.DefaultDialer,
		limiter: NewTokenBucketLimiter(1, 3),
		log:     logger.OrNop(log).Named("depth_feed"),
	}
}

// SetReconnectHook 每次重连成功后调用。
func (f *DepthFeed) SetReconnectHook(fn func()) { f.onReconnect = fn }

// Start 建立首个连接并启动读循环；首连失败直接返回错误。
func (f *DepthFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return fmt.Errorf("depth feed %s already started", f.cfg.Symbol)
	}
	conn, err := f.dial(ctx)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	f.conn = conn
	f.cancel = cancel
	f.sess = newSession()
	go f.readLoop(runCtx, conn, f.sess)
	return nil
}

// Stop 关闭连接并等待读循环退出。
func (f *DepthFeed) Stop(ctx context.Context) error {
	f.mu.Lock()
	cancel, conn, sess := f.cancel, f.conn, f.sess
	f.cancel = nil
	f.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextTick 阻塞直到有新盘口、读循环失败或 ctx 取消。
func (f *DepthFeed) NextTick(ctx context.Context) (market.Tick, error) {
	f.mu.Lock()
	s := f.sess
	f.mu.Unlock()
	if s == nil {
		return market.Tick{}, ErrFeedClosed
	}
	select {
	case <-ctx.Done():
		return market.Tick{}, ctx.Err()
	case t := <-s.ticks:
		return t, nil
	case err := <-s.errs:
		return market.Tick{}, err
	case <-s.done:
		select {
		case err := <-s.errs:
			return market.Tick{}, err
		default:
			return market.Tick{}, ErrFeedClosed
		}
	}
}

func (f *DepthFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	url := f.cfg.StreamURL()
	conn, _, err := f.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	f.log.Info("depth stream connected", zap.String("url", url))
	return conn, nil
}

func (f *DepthFeed) readLoop(ctx context.Context, conn *websocket.Conn, s *session) {
	defer close(s.done)
	for {
		err := f.consume(conn, s)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		f.log.Warn("depth stream read failed, reconnecting",
			zap.String("symbol", f.cfg.Symbol), zap.Error(err))

		conn, err = f.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.errs <- err
			}
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		if f.onReconnect != nil {
			f.onReconnect()
		}
	}
}

// consume 读到出错为止。非深度消息被忽略。
func (f *DepthFeed) consume(conn *websocket.Conn, s *session) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		u, err := ParseDepth(msg)
		if err != nil {
			if !errors.Is(err, ErrNotDepth) {
				f.log.Debug("skip depth message", zap.Error(err))
			}
			continue
		}
		s.deliver(u.Tick(f.cfg.Symbol))
	}
}

func (s *session) deliver(t market.Tick) {
	select {
	case s.ticks <- t:
		return
	default:
	}
	// 丢弃未消费的旧盘口
	select {
	case <-s.ticks:
	default:
	}
	select {
	case s.ticks <- t:
	default:
	}
}

func (f *DepthFeed) reconnect(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	backoff := f.cfg.Backoff
	for attempt := 1; attempt <= f.cfg.MaxReconnects; attempt++ {
		conn, err := f.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("depth feed %s: %d reconnects failed: %w", f.cfg.Symbol, f.cfg.MaxReconnects, lastErr)
}
