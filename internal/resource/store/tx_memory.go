package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
)

// shardedTx serializes flows per resource using sharded mutexes. Operations
// hash the resource ID onto one of N shards, so commands against distinct
// resources proceed concurrently while commands against the same resource
// run one at a time.
//
// This gives the serialization half of the transaction contract. Rollback is
// provided by discipline rather than machinery: flows validate everything
// before the first write, and the in-memory store itself cannot fail a
// write, so a flow that errors has written nothing.
const numTxShards = 64

// defaultTxTimeout bounds a single flow execution.
const defaultTxTimeout = 5 * time.Second

type shardedTx struct {
	shards  [numTxShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// NewShardedTx wraps a store with per-resource serialization.
func NewShardedTx(s Store) Tx {
	return &shardedTx{store: s}
}

func (t *shardedTx) RunInTx(ctx context.Context, resourceID id.ResourceID, fn func(ctx context.Context, s Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := &t.shards[shardFor(resourceID)]
	shard.Lock()
	defer shard.Unlock()

	return fn(ctx, t.store)
}

func shardFor(resourceID id.ResourceID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(resourceID))
	return h.Sum32() % numTxShards
}
