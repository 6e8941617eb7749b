package facade

import (
	"context"
	"sync"

	"github.com/cuemby/teeplane/pkg/log"
	"github.com/cuemby/teeplane/pkg/store"
	"github.com/cuemby/teeplane/pkg/types"
)

// Invalidation is the (kind, namespace, key) triple an outer cache needs to
// evict its own copy of a resource after the store mutates it.
type Invalidation struct {
	Kind      string
	Namespace string
	Key       string
}

// OuterCachePort is the contract an external read-through cache binds to.
// The core never calls an outer cache directly; it only ever drives one
// through this interface via CacheInvalidator.
type OuterCachePort interface {
	Invalidate(Invalidation)
}

// CacheInvalidator watches a store's change stream and fans each
// ChangeEvent out to every registered OuterCachePort as an Invalidation,
// the way the teacher's event broker fanned published events out to its
// subscribers.
type CacheInvalidator struct {
	mu   sync.RWMutex
	subs map[int]OuterCachePort
	next int

	cancel context.CancelFunc
}

// NewCacheInvalidator constructs an invalidator with no subscribers yet.
func NewCacheInvalidator() *CacheInvalidator {
	return &CacheInvalidator{subs: make(map[int]OuterCachePort)}
}

// Subscribe registers port to receive invalidations and returns an ID usable
// with Unsubscribe.
func (c *CacheInvalidator) Subscribe(port OuterCachePort) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.subs[id] = port
	return id
}

// Unsubscribe removes a previously registered port.
func (c *CacheInvalidator) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Run watches s for the given kind, across every namespace, and fans out
// invalidations until ctx is cancelled or the watch is disconnected. It blocks; call it
// from its own goroutine.
func (c *CacheInvalidator) Run(ctx context.Context, s *store.Store, kind string) error {
	handle, err := s.Watch(ctx, kind, "", 0)
	if err != nil {
		return err
	}
	defer handle.Cancel()

	logger := log.WithComponent("facade-cache")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-handle.Events:
			if !ok {
				if err := handle.Err(); err != nil {
					logger.Warn().Err(err).Msg("cache invalidation watch disconnected")
					return err
				}
				return nil
			}
			c.broadcast(ev)
		}
	}
}

func (c *CacheInvalidator) broadcast(ev types.ChangeEvent) {
	inv := Invalidation{
		Kind:      string(ev.Kind),
		Namespace: ev.Namespace,
		Key:       ev.Name,
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subs {
		sub.Invalidate(inv)
	}
}
