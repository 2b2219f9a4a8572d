// Package batch splits bulk writes into atomic groups no larger than the
// storage provider allows.
//
// Each group commits on its own. When group k fails, groups before k stay
// committed and groups from k on are not applied: there is no atomicity
// across groups. Callers must therefore make every item idempotent so that
// re-running the whole batch after a partial failure converges on the fully
// applied state.
package batch

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/storage"
)

type Coordinator struct {
	store  storage.Store
	maxOps int
	log    zerolog.Logger
	groups prometheus.Counter
}

type Option func(*Coordinator)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithGroupCounter counts committed groups.
func WithGroupCounter(counter prometheus.Counter) Option {
	return func(c *Coordinator) { c.groups = counter }
}

// New builds a coordinator; maxOps <= 0 falls back to
// storage.DefaultMaxOpsPerGroup.
func New(store storage.Store, maxOps int, opts ...Option) *Coordinator {
	if maxOps <= 0 {
		maxOps = storage.DefaultMaxOpsPerGroup
	}
	c := &Coordinator{store: store, maxOps: maxOps, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) MaxOps() int { return c.maxOps }

// Reserve returns a coordinator whose groups leave n writes free for
// per-group bookkeeping such as an audit record.
func (c *Coordinator) Reserve(n int) *Coordinator {
	cp := *c
	cp.maxOps = max(c.maxOps-n, 1)
	return &cp
}

// Partition cuts items into consecutive groups of at most size elements.
func Partition[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = storage.DefaultMaxOpsPerGroup
	}
	groups := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		groups = append(groups, items[start:end])
	}
	return groups
}

// GroupError reports which group stopped the run.
type GroupError struct {
	Group     int
	Committed int
	Err       error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("batch group %d failed after %d committed items: %v", e.Group, e.Committed, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// Run applies fn to each group inside its own atomic unit, one group after
// another, and returns how many items belong to committed groups.
func Run[T any](ctx context.Context, c *Coordinator, items []T, fn func(ctx context.Context, tx storage.Tx, group []T) error) (int, error) {
	committed := 0
	for i, group := range Partition(items, c.maxOps) {
		if err := ctx.Err(); err != nil {
			return committed, &GroupError{Group: i + 1, Committed: committed, Err: err}
		}
		err := c.store.Atomic(ctx, func(tx storage.Tx) error {
			return fn(ctx, tx, group)
		})
		if err != nil {
			c.log.Warn().Err(err).Int("group", i+1).Int("committed", committed).Msg("batch group failed")
			return committed, &GroupError{Group: i + 1, Committed: committed, Err: err}
		}
		committed += len(group)
		if c.groups != nil {
			c.groups.Inc()
		}
	}
	return committed, nil
}
