package replay

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	id "registryd/pkg/domain"
)

var checkDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "registryd_trid_replay_check_duration_ms",
	Help:    "Latency of client TRID replay checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// Redis key prefix for reserved client TRIDs
const tridKeyPrefix = "trid:"

// RedisGuard is a Redis-backed Guard. This is the production implementation
// for distributed deployments where multiple instances must agree on which
// client TRIDs have been used.
type RedisGuard struct {
	client *redis.Client
	window time.Duration
}

// RedisGuardOption configures a RedisGuard instance.
type RedisGuardOption func(*RedisGuard)

// WithRedisWindow overrides the reservation window.
func WithRedisWindow(window time.Duration) RedisGuardOption {
	return func(g *RedisGuard) { g.window = window }
}

// NewRedisGuard constructs a Redis-backed replay guard.
func NewRedisGuard(client *redis.Client, opts ...RedisGuardOption) *RedisGuard {
	g := &RedisGuard{
		client: client,
		window: DefaultWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// CheckAndRemember reserves the TRID with SETNX so the check and the
// reservation are one atomic operation; the TTL releases it after the
// window.
func (g *RedisGuard) CheckAndRemember(ctx context.Context, registrar id.RegistrarID, clientTrid string) (bool, error) {
	start := time.Now()
	defer func() {
		checkDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	key := tridKeyPrefix + registrar.String() + ":" + clientTrid
	return g.client.SetNX(ctx, key, "1", g.window).Result()
}
