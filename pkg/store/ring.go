package store

import (
	"sync"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/types"
)

// changeRing is a bounded, fixed-capacity ring of change events shared by
// every watcher. A watcher whose own channel buffer is full when an event
// arrives is disconnected rather than allowed to apply backpressure to
// writers; it must reconnect, and gets apierrors.Expired if the version it
// asked to resume from has already been evicted.
type changeRing struct {
	mu             sync.Mutex
	buf            []types.ChangeEvent
	head           int
	count          int
	evictedThrough uint64
	subs           map[*subscriber]struct{}
}

func newChangeRing(capacity int) *changeRing {
	if capacity <= 0 {
		capacity = 1024
	}
	return &changeRing{
		buf:  make([]types.ChangeEvent, capacity),
		subs: make(map[*subscriber]struct{}),
	}
}

func (r *changeRing) push(ev types.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.buf) {
		idx := (r.head + r.count) % len(r.buf)
		r.buf[idx] = ev
		r.count++
	} else {
		r.evictedThrough = r.buf[r.head].Version
		r.buf[r.head] = ev
		r.head = (r.head + 1) % len(r.buf)
	}

	for sub := range r.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.fail(apierrors.Expired("watch subscriber fell behind the change ring and was disconnected"))
			delete(r.subs, sub)
		}
	}
}

func (r *changeRing) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *changeRing) subscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// subscribe registers a new watcher and returns the backlog of events since
// (exclusive) the requested version, captured atomically with registration
// so no event is ever missed or duplicated across the handoff.
func (r *changeRing) subscribe(kind, namespace string, since uint64, bufferSize int) (*WatchHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if since > 0 && since < r.evictedThrough {
		return nil, apierrors.Expired("requested resume version has already been evicted from the change ring")
	}

	sub := &subscriber{
		kind:      kind,
		namespace: namespace,
		ch:        make(chan types.ChangeEvent, bufferSize),
	}

	backlog := make([]types.ChangeEvent, 0, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.head + i) % len(r.buf)
		ev := r.buf[idx]
		if ev.Version <= since {
			continue
		}
		if !sub.matches(ev) {
			continue
		}
		backlog = append(backlog, ev)
	}

	// Backlog is delivered here, still holding r.mu, so no concurrently
	// pushed live event can land in the channel ahead of it. bufferSize
	// must be large enough to hold the backlog plus whatever arrives
	// before the caller starts draining; if not, the subscriber is
	// disconnected immediately rather than handed a gap in its stream.
	for _, ev := range backlog {
		select {
		case sub.ch <- ev:
		default:
			return nil, apierrors.Expired("watch subscriber's buffer is too small for the backlog since the requested version")
		}
	}

	r.subs[sub] = struct{}{}

	handle := &WatchHandle{
		Events: sub.ch,
		sub:    sub,
		ring:   r,
	}

	return handle, nil
}

func (r *changeRing) unsubscribe(sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; ok {
		delete(r.subs, sub)
	}
}

type subscriber struct {
	kind      string
	namespace string
	ch        chan types.ChangeEvent

	mu  sync.Mutex
	err error
}

func (s *subscriber) matches(ev types.ChangeEvent) bool {
	if s.kind != "" && s.kind != string(ev.Kind) {
		return false
	}
	if s.namespace != "" && s.namespace != ev.Namespace {
		return false
	}
	return true
}

func (s *subscriber) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
		close(s.ch)
	}
}

// WatchHandle is the caller-facing handle for an active watch. Events
// arrives in order; if the watch is disconnected for falling behind, the
// channel closes and Err returns apierrors.Expired.
type WatchHandle struct {
	Events <-chan types.ChangeEvent

	sub  *subscriber
	ring *changeRing
}

// Err returns the reason Events closed, or nil if it is still open or was
// closed by a clean Cancel.
func (h *WatchHandle) Err() error {
	h.sub.mu.Lock()
	defer h.sub.mu.Unlock()
	return h.sub.err
}

// Cancel stops the watch and releases its subscription.
func (h *WatchHandle) Cancel() {
	h.ring.unsubscribe(h.sub)
	h.sub.mu.Lock()
	defer h.sub.mu.Unlock()
	if h.sub.err == nil {
		h.sub.err = errWatchCancelled
		close(h.sub.ch)
	}
}

var errWatchCancelled = apierrors.New(apierrors.KindInternal, "watch cancelled by caller")
