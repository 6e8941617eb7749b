package metrics

import "time"

// StoreSnapshot is the minimal view of store state the collector gauges
// from; pkg/store's Store satisfies this without metrics importing store
// (which would cycle back through pkg/store -> pkg/metrics).
type StoreSnapshot interface {
	ClusterVersion() uint64
	ResourceCountsByKind() map[string]int
	ChangeRingSize() int
	WatchSubscriberCount() int
}

// PlacementSnapshot is the minimal view of placement engine state gauged by
// the collector.
type PlacementSnapshot interface {
	NodeCacheSize() int
}

// ReconcilerSnapshot is the minimal view of reconciler state gauged by the
// collector.
type ReconcilerSnapshot interface {
	QueueDepths() map[string]int
	ActiveLeaseCount() int
}

// Collector periodically samples gauges from the three core components.
// Unlike counters/histograms (updated inline by the components themselves),
// gauges that reflect "current size of X" are cheaper to sample on a timer
// than to keep precisely in sync on every mutation.
type Collector struct {
	store      StoreSnapshot
	placement  PlacementSnapshot
	reconciler ReconcilerSnapshot
	interval   time.Duration
	stopCh     chan struct{}
}

// NewCollector creates a metrics collector. Any of the three sources may be
// nil, in which case its gauges are left unset.
func NewCollector(store StoreSnapshot, placement PlacementSnapshot, reconciler ReconcilerSnapshot, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:      store,
		placement:  placement,
		reconciler: reconciler,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins collecting metrics in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.store != nil {
		StoreClusterVersion.Set(float64(c.store.ClusterVersion()))
		for kind, count := range c.store.ResourceCountsByKind() {
			StoreResourcesTotal.WithLabelValues(kind).Set(float64(count))
		}
		StoreChangeRingSize.Set(float64(c.store.ChangeRingSize()))
		StoreWatchSubscribersTotal.Set(float64(c.store.WatchSubscriberCount()))
	}

	if c.placement != nil {
		PlacementNodeCacheSize.Set(float64(c.placement.NodeCacheSize()))
	}

	if c.reconciler != nil {
		for priority, depth := range c.reconciler.QueueDepths() {
			ReconcilerQueueDepth.WithLabelValues(priority).Set(float64(depth))
		}
		ReconcilerActiveLeases.Set(float64(c.reconciler.ActiveLeaseCount()))
	}
}
