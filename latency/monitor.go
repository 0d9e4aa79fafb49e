// Package latency records per-stage latency samples over a sliding window.
package latency

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stage names used across the pipeline.
const (
	StageMarketData = "market_data"
	StageStrategy   = "strategy"
	StageRisk       = "risk"
	StageExecution  = "execution"
	StageTotal      = "total"
)

// Token 计时起点，由 StartTimer 返回。
type Token struct {
	start time.Time
}

// Elapsed returns the time since the token was issued.
func (t Token) Elapsed() time.Duration {
	if t.start.IsZero() {
		return 0
	}
	return time.Since(t.start)
}

// Sink 是行情循环和下单器依赖的最小计时接口。
type Sink interface {
	StartTimer() Token
	Record(stage string, t Token) time.Duration
}

// Stats summarises one stage; all durations are microseconds.
type Stats struct {
	Count    int     `json:"count"`
	Total    int64   `json:"total"`
	MeanUs   float64 `json:"mean_us"`
	MedianUs float64 `json:"median_us"`
	P95Us    float64 `json:"p95_us"`
	P99Us    float64 `json:"p99_us"`
	MinUs    float64 `json:"min_us"`
	MaxUs    float64 `json:"max_us"`
}

// Breakdown is the mean latency of one stage.
type Breakdown struct {
	MeanUs float64 `json:"mean_us"`
	MeanMs float64 `json:"mean_ms"`
}

// Monitor 按阶段保存最近 windowSize 个样本（微秒）。
type Monitor struct {
	mu         sync.RWMutex
	windowSize int
	samples    map[string][]float64
	counts     map[string]int64
	observer   func(stage string, d time.Duration)
}

func NewMonitor(windowSize int) *Monitor {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Monitor{
		windowSize: windowSize,
		samples:    make(map[string][]float64),
		counts:     make(map[string]int64),
	}
}

// SetObserver registers a hook called for every recorded sample, e.g. a
// prometheus histogram. It is called outside the monitor lock.
func (m *Monitor) SetObserver(fn func(stage string, d time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

func (m *Monitor) StartTimer() Token {
	return Token{start: time.Now()}
}

// Record 记录从 token 到现在的耗时并返回该耗时。
func (m *Monitor) Record(stage string, t Token) time.Duration {
	d := t.Elapsed()
	m.RecordDuration(stage, d)
	return d
}

// RecordDuration records a pre-computed duration.
func (m *Monitor) RecordDuration(stage string, d time.Duration) {
	us := float64(d) / float64(time.Microsecond)
	m.mu.Lock()
	buf := append(m.samples[stage], us)
	if len(buf) > m.windowSize {
		// 复制到新切片，避免底层数组无限增长
		trimmed := make([]float64, m.windowSize, m.windowSize+m.windowSize/4)
		copy(trimmed, buf[len(buf)-m.windowSize:])
		buf = trimmed
	}
	m.samples[stage] = buf
	m.counts[stage]++
	obs := m.observer
	m.mu.Unlock()

	if obs != nil {
		obs(stage, d)
	}
}

// Stats returns the window statistics of one stage; zero value if unknown.
func (m *Monitor) Stats(stage string) Stats {
	m.mu.RLock()
	data := append([]float64(nil), m.samples[stage]...)
	total := m.counts[stage]
	m.mu.RUnlock()
	return summarise(data, total)
}

// AllStats returns stats for every stage seen so far.
func (m *Monitor) AllStats() map[string]Stats {
	out := make(map[string]Stats)
	for _, stage := range m.Stages() {
		out[stage] = m.Stats(stage)
	}
	return out
}

// Breakdown 返回各阶段平均耗时。
func (m *Monitor) Breakdown() map[string]Breakdown {
	out := make(map[string]Breakdown)
	for stage, st := range m.AllStats() {
		out[stage] = Breakdown{MeanUs: st.MeanUs, MeanMs: st.MeanUs / 1000}
	}
	return out
}

// Stages lists known stage names in sorted order.
func (m *Monitor) Stages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.samples))
	for stage := range m.samples {
		out = append(out, stage)
	}
	sort.Strings(out)
	return out
}

// Reset clears one stage, or every stage when stage is empty.
func (m *Monitor) Reset(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stage == "" {
		m.samples = make(map[string][]float64)
		m.counts = make(map[string]int64)
		return
	}
	delete(m.samples, stage)
	delete(m.counts, stage)
}

func summarise(data []float64, total int64) Stats {
	if len(data) == 0 {
		return Stats{Total: total}
	}
	sort.Float64s(data)
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return Stats{
		Count:    len(data),
		Total:    total,
		MeanUs:   sum / float64(len(data)),
		MedianUs: percentile(data, 50),
		P95Us:    percentile(data, 95),
		P99Us:    percentile(data, 99),
		MinUs:    data[0],
		MaxUs:    data[len(data)-1],
	}
}

// percentile uses linear interpolation between closest ranks; sorted must be ascending.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// Nop discards every sample.
type Nop struct{}

func (Nop) StartTimer() Token                  { return Token{start: time.Now()} }
func (Nop) Record(string, Token) time.Duration { return 0 }
