package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft-engine/market"
)

const depthMsg = `{"lastUpdateId":1,"bids":[["100.0","1"],["99.9","2"]],"asks":[["100.2","1"],["100.3","3"]]}`

// depthServer 每个连接发送 msgs 后按 hold 决定是否保持连接。
func depthServer(t *testing.T, msgs []string, hold bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if hold {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsEndpoint(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestStreamURL(t *testing.T) {
	cfg := DepthFeedConfig{Symbol: "BTCUSDT"}
	assert.Equal(t, "wss://stream.binance.com:9443/ws/btcusdt@depth20@100ms", cfg.StreamURL())

	cfg = DepthFeedConfig{Endpoint: "ws://localhost/ws/", Symbol: "ETHUSDT", Levels: 5, UpdateSpeed: time.Second}
	assert.Equal(t, "ws://localhost/ws/ethusdt@depth5", cfg.StreamURL())
}

func TestDepthFeedDeliversTicks(t *testing.T) {
	srv, _ := depthServer(t, []string{`{"result":null,"id":1}`, depthMsg}, true)
	feed := NewDepthFeed(DepthFeedConfig{Endpoint: wsEndpoint(srv), Symbol: "BTCUSDT"}, nil)
	require.NoError(t, feed.Start(context.Background()))
	defer feed.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tick, err := feed.NextTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, 100.0, tick.Bid)
	assert.Equal(t, 100.2, tick.Ask)
	assert.Len(t, tick.Bids, 2)
}

func TestDepthFeedReconnects(t *testing.T) {
	// 服务端发送一条后断开，客户端应重连
	srv, conns := depthServer(t, []string{depthMsg}, false)
	feed := NewDepthFeed(DepthFeedConfig{Endpoint: wsEndpoint(srv), Symbol: "BTCUSDT", Backoff: 5 * time.Millisecond}, nil)
	feed.limiter = NewTokenBucketLimiter(1000, 10)
	var reconnects atomic.Int32
	feed.SetReconnectHook(func() { reconnects.Add(1) })
	require.NoError(t, feed.Start(context.Background()))
	defer feed.Stop(context.Background())

	require.Eventually(t, func() bool { return reconnects.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := feed.NextTick(ctx)
	assert.NoError(t, err)
}

func TestDepthFeedGivesUpAfterMaxReconnects(t *testing.T) {
	srv, _ := depthServer(t, nil, false)
	feed := NewDepthFeed(DepthFeedConfig{
		Endpoint: wsEndpoint(srv), Symbol: "BTCUSDT", MaxReconnects: 2, Backoff: time.Millisecond,
	}, nil)
	feed.limiter = NewTokenBucketLimiter(1000, 10)
	require.NoError(t, feed.Start(context.Background()))
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := feed.NextTick(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnects failed")
	assert.NoError(t, feed.Stop(context.Background()))
}

func TestDepthFeedStartFailure(t *testing.T) {
	feed := NewDepthFeed(DepthFeedConfig{Endpoint: "ws://127.0.0.1:1/ws", Symbol: "BTCUSDT"}, nil)
	err := feed.Start(context.Background())
	assert.Error(t, err)
	_, err = feed.NextTick(context.Background())
	assert.ErrorIs(t, err, ErrFeedClosed)
}

func TestDepthFeedNextTickHonoursContext(t *testing.T) {
	srv, _ := depthServer(t, nil, true)
	feed := NewDepthFeed(DepthFeedConfig{Endpoint: wsEndpoint(srv), Symbol: "BTCUSDT"}, nil)
	require.NoError(t, feed.Start(context.Background()))
	defer feed.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := feed.NextTick(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeliverKeepsLatest(t *testing.T) {
	s := newSession()
	s.deliver(market.Tick{Price: 1})
	s.deliver(market.Tick{Price: 2})
	s.deliver(market.Tick{Price: 3})
	assert.Equal(t, 3.0, (<-s.ticks).Price)
	assert.Empty(t, s.ticks)
}
