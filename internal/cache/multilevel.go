package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/telemetry"
)

// MultiLevel is the read-through cache facade. Reads probe L1 then L2 then
// L3, promoting hits upward; writes go to every enabled layer. L2 and L3 are
// optional and nil when disabled.
type MultiLevel struct {
	l1 *L1
	l2 *L2
	l3 *L3

	metrics *telemetry.Metrics
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New builds the cache stack from config. A nil metrics is allowed in tests.
func New(cfg config.CacheConfig, metrics *telemetry.Metrics) (*MultiLevel, error) {
	m := &MultiLevel{
		l1:      NewL1(cfg.L1.MaxItems, cfg.L1.MaxMB, time.Duration(cfg.L1.DefaultTTLS)*time.Second),
		metrics: metrics,
	}
	if cfg.L2.Enabled {
		l2, err := NewL2(cfg.L2.URL, cfg.L2.Prefix, time.Duration(cfg.L2.TTLS)*time.Second)
		if err != nil {
			return nil, err
		}
		m.l2 = l2
	}
	if cfg.L3.Enabled {
		l3, err := NewL3(cfg.L3.Dir, cfg.L3.MaxGB, time.Duration(cfg.L3.TTLS)*time.Second)
		if err != nil {
			return nil, err
		}
		m.l3 = l3
	}
	return m, nil
}

// NewWithLayers assembles a cache from explicit layers, used by tests.
func NewWithLayers(l1 *L1, l2 *L2, l3 *L3, metrics *telemetry.Metrics) *MultiLevel {
	return &MultiLevel{l1: l1, l2: l2, l3: l3, metrics: metrics}
}

// Get returns the payload for key, promoting lower-layer hits into the layers
// above with the remaining default TTL of each layer.
func (m *MultiLevel) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := m.l1.Get(key); ok {
		m.recordHit("l1")
		return v, true
	}
	if m.l2 != nil {
		if v, ok := m.l2.Get(ctx, key); ok {
			m.l1.Set(key, v, 0)
			m.recordHit("l2")
			return v, true
		}
	}
	if m.l3 != nil {
		if v, ok := m.l3.Get(ctx, key); ok {
			m.l1.Set(key, v, 0)
			if m.l2 != nil {
				m.l2.Set(ctx, key, v, 0)
			}
			m.recordHit("l3")
			return v, true
		}
	}
	m.recordMiss()
	return nil, false
}

// Set writes the payload through every enabled layer.
func (m *MultiLevel) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.l1.Set(key, value, ttl)
	if m.l2 != nil {
		m.l2.Set(ctx, key, value, ttl)
	}
	if m.l3 != nil {
		m.l3.Set(ctx, key, value, ttl)
	}
}

// Delete removes one key from every layer.
func (m *MultiLevel) Delete(ctx context.Context, key string) {
	m.l1.Delete(key)
	if m.l2 != nil {
		m.l2.Delete(ctx, key)
	}
	if m.l3 != nil {
		m.l3.Delete(ctx, key)
	}
}

// DeletePrefix removes a fingerprint prefix (typically "{purpose}:") from
// every layer and returns the total entries removed.
func (m *MultiLevel) DeletePrefix(ctx context.Context, prefix string) int {
	n := m.l1.DeletePrefix(prefix)
	if m.l2 != nil {
		n += m.l2.DeletePrefix(ctx, prefix)
	}
	if m.l3 != nil {
		n += m.l3.DeletePrefix(ctx, prefix)
	}
	return n
}

// FlushLayer clears one named layer ("l1", "l2", "l3"); unknown names are a
// no-op.
func (m *MultiLevel) FlushLayer(ctx context.Context, layer string) {
	switch layer {
	case "l1":
		m.l1.Flush()
	case "l2":
		if m.l2 != nil {
			m.l2.Flush(ctx)
		}
	case "l3":
		if m.l3 != nil {
			m.l3.Flush(ctx)
		}
	}
}

// Flush clears every layer.
func (m *MultiLevel) Flush(ctx context.Context) {
	m.l1.Flush()
	if m.l2 != nil {
		m.l2.Flush(ctx)
	}
	if m.l3 != nil {
		m.l3.Flush(ctx)
	}
}

// Stats reports per-layer statistics plus the overall hit rate.
type Stats struct {
	L1      LayerStats  `json:"l1"`
	L2      *LayerStats `json:"l2,omitempty"`
	L3      *LayerStats `json:"l3,omitempty"`
	HitRate float64     `json:"hit_rate"`
}

// Stats collects current statistics from each enabled layer.
func (m *MultiLevel) Stats(ctx context.Context) Stats {
	s := Stats{L1: m.l1.Stats(), HitRate: m.hitRate()}
	if m.l2 != nil {
		l2 := m.l2.Stats(ctx)
		s.L2 = &l2
	}
	if m.l3 != nil {
		l3 := m.l3.Stats(ctx)
		s.L3 = &l3
	}
	return s
}

// Ready reports whether the shared layer is reachable; a disabled L2 is
// always ready.
func (m *MultiLevel) Ready(ctx context.Context) error {
	if m.l2 == nil {
		return nil
	}
	return m.l2.Ping(ctx)
}

// Close flushes the hottest L1 entries to the disk layer (when enabled) and
// releases layer resources.
func (m *MultiLevel) Close(ctx context.Context) error {
	if m.l3 != nil {
		hot := m.l1.Hottest(100)
		for _, kv := range hot {
			m.l3.SetWithExpiry(ctx, kv.Key, kv.Value, kv.Expires)
		}
		if len(hot) > 0 {
			log.Info().Int("entries", len(hot)).Msg("persisted hot cache entries to disk")
		}
	}
	var err error
	if m.l2 != nil {
		err = m.l2.Close()
	}
	if m.l3 != nil {
		if cerr := m.l3.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (m *MultiLevel) recordHit(layer string) {
	m.hits.Add(1)
	if m.metrics != nil {
		m.metrics.CacheHits.WithLabelValues(layer).Inc()
		m.metrics.CacheHitRate.Set(m.hitRate())
	}
}

func (m *MultiLevel) recordMiss() {
	m.misses.Add(1)
	if m.metrics != nil {
		m.metrics.CacheMisses.Inc()
		m.metrics.CacheHitRate.Set(m.hitRate())
	}
}

func (m *MultiLevel) hitRate() float64 {
	h, mi := m.hits.Load(), m.misses.Load()
	if h+mi == 0 {
		return 0
	}
	return float64(h) / float64(h+mi)
}
