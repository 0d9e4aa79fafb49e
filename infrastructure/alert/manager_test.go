package alert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// mockChannel 记录告警（用于测试验证）
type mockChannel struct {
	mu        sync.Mutex
	name      string
	alerts    []Alert
	shouldErr bool
}

func newMockChannel(name string) *mockChannel { return &mockChannel{name: name} }

func (c *mockChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return errors.New("mock error")
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *mockChannel) Name() string { return c.name }

func (c *mockChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func TestSendAlert(t *testing.T) {
	mock := newMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendCritical("kill switch activated", map[string]interface{}{"reason": "daily loss"})
	require.NoError(t, err)
	require.Equal(t, 1, mock.count())

	a := mock.alerts[0]
	assert.Equal(t, LevelCritical, a.Level)
	assert.Equal(t, "daily loss", a.Fields["reason"])
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, []string{"mock"}, mgr.GetChannels())
}

func TestThrottling(t *testing.T) {
	mock := newMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 50*time.Millisecond)

	require.NoError(t, mgr.SendWarning("intent queue full", nil))
	require.NoError(t, mgr.SendWarning("intent queue full", nil))
	assert.Equal(t, 1, mock.count())

	// 不同消息不受影响
	require.NoError(t, mgr.SendWarning("feed stale", nil))
	assert.Equal(t, 2, mock.count())

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, mgr.SendWarning("intent queue full", nil))
	assert.Equal(t, 3, mock.count())

	mgr.ResetThrottle()
	require.NoError(t, mgr.SendWarning("feed stale", nil))
	assert.Equal(t, 4, mock.count())
}

func TestChannelFailures(t *testing.T) {
	bad := newMockChannel("bad")
	bad.shouldErr = true
	mgr := NewManager([]Channel{bad}, time.Minute)
	assert.Error(t, mgr.SendCritical("x", nil))

	good := newMockChannel("good")
	mgr.AddChannel(good)
	assert.NoError(t, mgr.SendCritical("y", nil))
	assert.Equal(t, 1, good.count())
}

func TestLogChannel(t *testing.T) {
	ch := NewLogChannel("log", nil)
	assert.Equal(t, "log", ch.Name())
	for _, lvl := range []Level{LevelInfo, LevelWarning, LevelCritical} {
		assert.NoError(t, ch.Send(Alert{Level: lvl, Message: "m", Fields: map[string]interface{}{"k": 1}}))
	}
}

func TestConcurrentAlerts(t *testing.T) {
	mock := newMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = mgr.SendWarning("same", map[string]interface{}{"id": id})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, mock.count())
}

func TestRedisChannel(t *testing.T) {
	addr := os.Getenv("HFT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HFT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	topic := fmt.Sprintf("hft:alerts:test:%d", time.Now().UnixNano())
	sub := client.Subscribe(context.Background(), topic)
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	ch := NewRedisChannel(client, topic)
	require.NoError(t, ch.Send(Alert{Level: LevelCritical, Message: "loop fatal", Fields: map[string]interface{}{"symbol": "BTCUSDT"}}))

	msg, err := sub.ReceiveMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "loop fatal", gjson.Get(msg.Payload, "message").String())
	assert.Equal(t, "BTCUSDT", gjson.Get(msg.Payload, "fields.symbol").String())
}
