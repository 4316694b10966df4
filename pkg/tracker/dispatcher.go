package tracker

import (
	"sync"

	"github.com/cuemby/routeward/pkg/log"
	"github.com/cuemby/routeward/pkg/metrics"
	"github.com/cuemby/routeward/pkg/types"
	"github.com/rs/zerolog"
)

// Listener receives ordered lifecycle notifications from the tracker. A
// listener implementation (the command scheduler, in practice) must not
// block the dispatcher for long — there is exactly one dispatcher worker
// shared by all listeners.
type Listener interface {
	CreateSession(s types.Session)
	DeleteSession(s types.Session)
	CreateTopicRoute(s types.Session, r types.TopicRoute)
	DeleteTopicRoute(s types.Session, r types.TopicRoute)
}

type notification struct {
	kind    notificationKind
	session types.Session
	route   types.TopicRoute
}

type notificationKind int

const (
	kindCreateSession notificationKind = iota
	kindDeleteSession
	kindCreateRoute
	kindDeleteRoute
)

// dispatchQueueSize bounds the dispatcher's FIFO queue. Overflow is a
// configuration bug (spec.md §9): the tracker produces events no faster
// than discovery callbacks arrive, and the scheduler listener should never
// block for long, so a queue this deep filling up means something is
// stuck, not that load is high.
const dispatchQueueSize = 4096

// dispatcher is the tracker's single-threaded ordered dispatcher: one
// consumer goroutine draining a FIFO queue, so listeners observe events in
// exactly the order state transitions occurred even though discovery
// callbacks may arrive on multiple transport goroutines concurrently.
// Adapted from the teacher's events.Broker (buffered channel + one
// consumer + copy-on-write subscriber snapshot), replacing pub/sub fan-out
// with strict ordering guarantees the broker didn't need to make.
type dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
	queue     chan notification
	stop      chan struct{}
	done      chan struct{}
	logger    zerolog.Logger
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		queue:  make(chan notification, dispatchQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: log.WithComponent("tracker-dispatcher"),
	}
	go d.run()
	return d
}

// Register adds a listener. Registration itself is copy-on-write so that
// dispatch never holds a lock across a listener callback.
func (d *dispatcher) Register(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := make([]Listener, len(d.listeners)+1)
	copy(next, d.listeners)
	next[len(d.listeners)] = l
	d.listeners = next
}

func (d *dispatcher) emit(n notification) {
	metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
	select {
	case d.queue <- n:
	default:
		metrics.DispatchDroppedTotal.Inc()
		d.logger.Error().Interface("notification", n).Msg("dispatcher queue overflowed, dropping event")
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.stop:
			return
		}
	}
}

func (d *dispatcher) deliver(n notification) {
	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()

	for _, l := range listeners {
		d.safeDeliver(l, n)
	}
}

// safeDeliver contains a listener panic within the dispatcher worker so
// one broken listener can't stop delivery to the others or kill the loop.
func (d *dispatcher) safeDeliver(l Listener, n notification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("listener panicked, dropping it from this notification")
		}
	}()

	switch n.kind {
	case kindCreateSession:
		l.CreateSession(n.session)
	case kindDeleteSession:
		l.DeleteSession(n.session)
	case kindCreateRoute:
		l.CreateTopicRoute(n.session, n.route)
	case kindDeleteRoute:
		l.DeleteTopicRoute(n.session, n.route)
	}
}

// Close stops the dispatcher worker forcefully; in-flight deliveries are
// not drained, matching spec.md §5's shutdown policy.
func (d *dispatcher) Close() {
	close(d.stop)
	<-d.done
}
