package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hft-engine/infrastructure/logger"
	"hft-engine/market"
)

// ErrNotFound 缓存中没有该交易对。
var ErrNotFound = errors.New("redis: snapshot not found")

// SnapshotCache stores the latest order-book snapshot per symbol.
//
// Key schema:
//
//	book:{symbol}:bids     - sorted set of bid prices (score = price)
//	book:{symbol}:asks     - sorted set of ask prices (score = price)
//	book:{symbol}:bid:size - hash price -> size
//	book:{symbol}:ask:size - hash price -> size
//	book:{symbol}:meta     - hash mid/spread/spread_bps/imbalance/updates/ts
type SnapshotCache struct {
	rdb         *redis.Client
	ttl         time.Duration
	minInterval time.Duration
	log         *logger.Logger

	mu        sync.Mutex
	lastWrite map[string]time.Time
}

// NewSnapshotCache minInterval 限制单个交易对的写入频率，0 表示每个快照都写。
func NewSnapshotCache(c *Client, ttl, minInterval time.Duration, log *logger.Logger) *SnapshotCache {
	return &SnapshotCache{
		rdb:         c.Underlying(),
		ttl:         ttl,
		minInterval: minInterval,
		log:         logger.OrNop(log).Named("redis_cache"),
		lastWrite:   make(map[string]time.Time),
	}
}

func bidsKey(s string) string    { return "book:" + s + ":bids" }
func asksKey(s string) string    { return "book:" + s + ":asks" }
func bidSizeKey(s string) string { return "book:" + s + ":bid:size" }
func askSizeKey(s string) string { return "book:" + s + ":ask:size" }
func metaKey(s string) string    { return "book:" + s + ":meta" }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// SetSnapshot atomically replaces the cached snapshot of snap.Symbol.
func (c *SnapshotCache) SetSnapshot(ctx context.Context, snap market.Snapshot) error {
	sym := snap.Symbol
	keys := []string{bidsKey(sym), asksKey(sym), bidSizeKey(sym), askSizeKey(sym), metaKey(sym)}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	for _, lv := range snap.Bids {
		p := ftoa(lv.Price)
		pipe.ZAdd(ctx, keys[0], redis.Z{Score: lv.Price, Member: p})
		pipe.HSet(ctx, keys[2], p, ftoa(lv.Size))
	}
	for _, lv := range snap.Asks {
		p := ftoa(lv.Price)
		pipe.ZAdd(ctx, keys[1], redis.Z{Score: lv.Price, Member: p})
		pipe.HSet(ctx, keys[3], p, ftoa(lv.Size))
	}
	pipe.HSet(ctx, keys[4],
		"mid", ftoa(snap.Mid),
		"spread", ftoa(snap.Spread),
		"spread_bps", ftoa(snap.SpreadBps),
		"imbalance", ftoa(snap.Imbalance),
		"updates", strconv.FormatInt(snap.Updates, 10),
		"ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
	)
	if c.ttl > 0 {
		for _, k := range keys {
			pipe.Expire(ctx, k, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", sym, err)
	}
	return nil
}

// GetSnapshot rebuilds a snapshot from Redis.
func (c *SnapshotCache) GetSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	pipe := c.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bidsKey(symbol), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, asksKey(symbol), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bidSizeKey(symbol))
	askSizeCmd := pipe.HGetAll(ctx, askSizeKey(symbol))
	metaCmd := pipe.HGetAll(ctx, metaKey(symbol))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return market.Snapshot{}, fmt.Errorf("redis: get snapshot %s: %w", symbol, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return market.Snapshot{}, ErrNotFound
	}
	snap := market.Snapshot{Symbol: symbol}
	snap.Mid, _ = strconv.ParseFloat(meta["mid"], 64)
	snap.Spread, _ = strconv.ParseFloat(meta["spread"], 64)
	snap.SpreadBps, _ = strconv.ParseFloat(meta["spread_bps"], 64)
	snap.Imbalance, _ = strconv.ParseFloat(meta["imbalance"], 64)
	snap.Updates, _ = strconv.ParseInt(meta["updates"], 10, 64)
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		snap.Timestamp = time.Unix(0, ns).UTC()
	}

	snap.Bids = levels(bidsCmd.Val(), bidSizeCmd.Val())
	snap.Asks = levels(asksCmd.Val(), askSizeCmd.Val())
	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0]
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0]
	}
	return snap, nil
}

func levels(zs []redis.Z, sizes map[string]string) []market.Level {
	out := make([]market.Level, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		size, _ := strconv.ParseFloat(sizes[member], 64)
		out = append(out, market.Level{Price: z.Score, Size: size})
	}
	return out
}

// Run 消费快照流并写入 Redis，直到 ctx 取消或通道关闭。写失败只记日志。
func (c *SnapshotCache) Run(ctx context.Context, snaps <-chan market.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if !c.due(snap.Symbol, snap.Timestamp) {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, time.Second)
			if err := c.SetSnapshot(wctx, snap); err != nil {
				c.log.Warn("snapshot write failed", zap.String("symbol", snap.Symbol), zap.Error(err))
			}
			cancel()
		}
	}
}

func (c *SnapshotCache) due(symbol string, ts time.Time) bool {
	if c.minInterval <= 0 {
		return true
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastWrite[symbol]; ok && ts.Sub(last) < c.minInterval {
		return false
	}
	c.lastWrite[symbol] = ts
	return true
}
