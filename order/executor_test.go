package order

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft-engine/internal/store"
)

type fakeStore struct {
	mu         sync.Mutex
	orders     map[string]Order
	trades     []Trade
	updates    int
	failInsert error
	failUpdate error
	failTrade  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]Order)}
}

func (s *fakeStore) InsertOrder(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert != nil {
		return s.failInsert
	}
	s.orders[o.ID] = o
	return nil
}

func (s *fakeStore) UpdateOrder(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		return s.failUpdate
	}
	s.updates++
	s.orders[o.ID] = o
	return nil
}

func (s *fakeStore) InsertTrade(_ context.Context, t Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTrade != nil {
		return s.failTrade
	}
	s.trades = append(s.trades, t)
	return nil
}

func (s *fakeStore) order(id string) Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *fakeStore) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func limitBuy(size, price float64) Order {
	return Order{Symbol: "BTCUSDT", Type: TypeLimit, Side: SideBuy, Price: price, Size: size}
}

func TestPaperPlaceFillsImmediately(t *testing.T) {
	st := newFakeStore()
	ex := NewExecutor(ExecutorConfig{Paper: true}, st, nil, nil)
	var got []Trade
	ex.SetFillHandler(func(_ context.Context, tr Trade) { got = append(got, tr) })

	o, err := ex.PlaceOrder(context.Background(), limitBuy(0.5, 50000))
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, 0.5, o.FilledSize)
	assert.False(t, o.FilledAt.IsZero())
	assert.Empty(t, ex.PendingOrders())

	require.Len(t, got, 1)
	assert.Equal(t, o.ID, got[0].OrderID)
	assert.Equal(t, 50000.0, got[0].Price)
	assert.Equal(t, 0.5, got[0].Size)
	assert.Equal(t, StatusFilled, st.order(o.ID).Status)
	assert.Equal(t, 1, st.tradeCount())
}

func TestPlaceThenCancelBeforeFill(t *testing.T) {
	st := newFakeStore()
	ex := NewExecutor(ExecutorConfig{}, st, nil, nil)
	ctx := context.Background()

	o, err := ex.PlaceOrder(ctx, limitBuy(1, 100))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	require.Len(t, ex.PendingOrders(), 1)

	c, err := ex.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, c.Status)
	assert.Empty(t, ex.PendingOrders())
	assert.Equal(t, StatusCanceled, st.order(o.ID).Status)

	_, err = ex.CancelOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = ex.ApplyFill(ctx, o.ID, 100, 1)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, 0, st.tradeCount())
}

func TestCancelUnknownOrder(t *testing.T) {
	ex := NewExecutor(ExecutorConfig{}, newFakeStore(), nil, nil)
	_, err := ex.CancelOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPartialFills(t *testing.T) {
	ex := NewExecutor(ExecutorConfig{}, newFakeStore(), nil, nil)
	ctx := context.Background()
	o, err := ex.PlaceOrder(ctx, limitBuy(1, 100))
	require.NoError(t, err)

	tr, err := ex.ApplyFill(ctx, o.ID, 99.5, 0.4)
	require.NoError(t, err)
	assert.Equal(t, 0.4, tr.Size)
	cur, ok := ex.Pending(o.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPartial, cur.Status)
	assert.InDelta(t, 0.6, cur.Remaining(), 1e-12)

	// 超量回报按剩余数量截断
	tr, err = ex.ApplyFill(ctx, o.ID, 100, 5)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, tr.Size, 1e-12)
	_, ok = ex.Pending(o.ID)
	assert.False(t, ok)
}

// slowInsertStore 阻塞 InsertOrder 直到 release 关闭，然后返回 err。
type slowInsertStore struct {
	*fakeStore
	entered chan struct{}
	release chan struct{}
	err     error
}

func (s *slowInsertStore) InsertOrder(ctx context.Context, o Order) error {
	close(s.entered)
	<-s.release
	if s.err != nil {
		return s.err
	}
	return s.fakeStore.InsertOrder(ctx, o)
}

func TestInsertFailureDoesNotRegister(t *testing.T) {
	st := newFakeStore()
	st.failInsert = errors.New("db down")
	ex := NewExecutor(ExecutorConfig{Paper: true}, st, nil, nil)

	_, err := ex.PlaceOrder(context.Background(), limitBuy(1, 100))
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))
	assert.Empty(t, ex.PendingOrders())
}

func TestOrderHiddenWhileInsertInFlight(t *testing.T) {
	for _, tc := range []struct {
		name    string
		err     error
		pending int
	}{
		{"insert fails", errors.New("db down"), 0},
		{"insert succeeds", nil, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st := &slowInsertStore{
				fakeStore: newFakeStore(),
				entered:   make(chan struct{}),
				release:   make(chan struct{}),
				err:       tc.err,
			}
			ex := NewExecutor(ExecutorConfig{}, st, nil, nil)
			o := limitBuy(1, 100)
			o.ID = "slow-1"

			done := make(chan error, 1)
			go func() {
				_, err := ex.PlaceOrder(context.Background(), o)
				done <- err
			}()
			<-st.entered

			assert.Empty(t, ex.PendingOrders())
			_, ok := ex.Pending(o.ID)
			assert.False(t, ok)
			n, err := ex.CancelAll(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)

			close(st.release)
			err = <-done
			if tc.err != nil {
				require.Error(t, err)
				assert.True(t, store.IsTransient(err))
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, ex.PendingOrders(), tc.pending)
		})
	}
}

func TestTradeInsertFailureRollsBackFill(t *testing.T) {
	st := newFakeStore()
	ex := NewExecutor(ExecutorConfig{}, st, nil, nil)
	ctx := context.Background()
	fills := 0
	ex.SetFillHandler(func(context.Context, Trade) { fills++ })

	o, err := ex.PlaceOrder(ctx, limitBuy(1, 100))
	require.NoError(t, err)

	st.failTrade = errors.New("trade table locked")
	_, err = ex.ApplyFill(ctx, o.ID, 100, 1)
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))

	cur, ok := ex.Pending(o.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, cur.Status)
	assert.Equal(t, StatusPending, st.order(o.ID).Status)
	assert.Equal(t, 0, fills)

	// 重试成功
	st.failTrade = nil
	_, err = ex.ApplyFill(ctx, o.ID, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, fills)
}

func TestPaperFillFailureRejectsOrder(t *testing.T) {
	st := newFakeStore()
	st.failTrade = errors.New("boom")
	ex := NewExecutor(ExecutorConfig{Paper: true}, st, nil, nil)

	o, err := ex.PlaceOrder(context.Background(), limitBuy(1, 100))
	require.Error(t, err)
	assert.Equal(t, StatusRejected, o.Status)
	assert.Empty(t, ex.PendingOrders())
	assert.Equal(t, StatusRejected, st.order(o.ID).Status)
}

func TestInvalidOrdersRejectedBeforeStore(t *testing.T) {
	st := newFakeStore()
	ex := NewExecutor(ExecutorConfig{Paper: true}, st, nil, nil)
	ctx := context.Background()

	cases := []Order{
		limitBuy(0, 100),
		limitBuy(-1, 100),
		limitBuy(1, 0),
		{Symbol: "BTCUSDT", Side: "HOLD", Type: TypeLimit, Price: 1, Size: 1},
		{Side: SideBuy, Type: TypeLimit, Price: 1, Size: 1},
	}
	for _, c := range cases {
		_, err := ex.PlaceOrder(ctx, c)
		assert.ErrorIs(t, err, ErrInvalidOrder)
	}
	assert.Empty(t, st.orders)
}

func TestConstraintsApplied(t *testing.T) {
	ex := NewExecutor(ExecutorConfig{}, newFakeStore(), nil, nil)
	ex.SetConstraints("BTCUSDT", SymbolConstraints{TickSize: 0.1, StepSize: 0.001, MinNotional: 5})

	_, err := ex.PlaceOrder(context.Background(), limitBuy(0.001, 100.05))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = ex.PlaceOrder(context.Background(), limitBuy(0.001, 100))
	assert.ErrorIs(t, err, ErrInvalidOrder) // notional 0.1 < 5
	_, err = ex.PlaceOrder(context.Background(), limitBuy(0.1, 100))
	assert.NoError(t, err)
}

func TestDuplicateClientID(t *testing.T) {
	ex := NewExecutor(ExecutorConfig{}, newFakeStore(), nil, nil)
	o := limitBuy(1, 100)
	o.ID = "fixed"
	_, err := ex.PlaceOrder(context.Background(), o)
	require.NoError(t, err)
	_, err = ex.PlaceOrder(context.Background(), o)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestCancelFillRaceExactlyOneWins(t *testing.T) {
	st := newFakeStore()
	ex := NewExecutor(ExecutorConfig{}, st, nil, nil)
	ctx := context.Background()

	const n = 200
	ids := make([]string, n)
	for i := range ids {
		o, err := ex.PlaceOrder(ctx, limitBuy(1, 100))
		require.NoError(t, err)
		ids[i] = o.ID
	}

	var fills, cancels int64
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			if _, err := ex.ApplyFill(ctx, id, 100, 1); err == nil {
				atomic.AddInt64(&fills, 1)
			} else {
				assert.ErrorIs(t, err, ErrOrderNotFound)
			}
		}(id)
		go func(id string) {
			defer wg.Done()
			if _, err := ex.CancelOrder(ctx, id); err == nil {
				atomic.AddInt64(&cancels, 1)
			} else {
				assert.ErrorIs(t, err, ErrOrderNotFound)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int64(n), fills+cancels)
	assert.Equal(t, int(fills), st.tradeCount())
	assert.Empty(t, ex.PendingOrders())
	for _, id := range ids {
		s := st.order(id).Status
		assert.True(t, s == StatusFilled || s == StatusCanceled, s)
	}
}

func TestCancelAll(t *testing.T) {
	ex := NewExecutor(ExecutorConfig{}, newFakeStore(), nil, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := ex.PlaceOrder(ctx, limitBuy(1, 100))
		require.NoError(t, err)
	}
	n, err := ex.CancelAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, ex.PendingOrders())
}
