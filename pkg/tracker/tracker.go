/*
Package tracker implements the partition/route state tracker (the
"Observer" in spec.md §4.2): it maintains the derived mapping

	M : Session → (TopicRoute → multiset<Handle>)

from a stream of discovered/lost publication and subscription events,
computing create/delete transitions and emitting them to registered
Listeners through a single-threaded ordered dispatcher (see dispatcher.go)
so downstream consumers — in practice the command scheduler — see a total
order consistent with the state transitions, regardless of how many
discovery goroutines delivered the underlying events concurrently.
*/
package tracker

import (
	"sync"

	"github.com/cuemby/routeward/pkg/discovery"
	"github.com/cuemby/routeward/pkg/filter"
	"github.com/cuemby/routeward/pkg/log"
	"github.com/cuemby/routeward/pkg/metrics"
	"github.com/cuemby/routeward/pkg/types"
	"github.com/rs/zerolog"
)

// routeState is a route's handle multiset: count per handle, absorbing
// duplicate-discovered/duplicate-lost deliveries without spurious
// create/delete pairs (spec.md §7, "Tracker inconsistency").
type routeState map[types.Handle]int

// Tracker maintains the derived session/route/handle mapping and emits
// lifecycle events to its registered Listeners.
type Tracker struct {
	mu      sync.Mutex
	m       map[types.Session]map[types.TopicRoute]routeState
	filters *filter.Chain
	lookup  discovery.ParticipantLookup
	disp    *dispatcher
	logger  zerolog.Logger
}

// New builds a Tracker over the given filter chain. lookup resolves
// participant metadata for filters that need it; it may be nil.
func New(filters *filter.Chain, lookup discovery.ParticipantLookup) *Tracker {
	if filters == nil {
		filters = filter.NewChain()
	}
	return &Tracker{
		m:       make(map[types.Session]map[types.TopicRoute]routeState),
		filters: filters,
		lookup:  lookup,
		disp:    newDispatcher(),
		logger:  log.WithComponent("tracker"),
	}
}

// Register adds a listener for session/route lifecycle events.
func (t *Tracker) Register(l Listener) {
	t.disp.Register(l)
}

// Close stops the tracker's dispatcher worker. In-flight discovery
// callbacks already in the mutex are unaffected; queued notifications are
// not drained, per spec.md §5.
func (t *Tracker) Close() {
	t.disp.Close()
}

func (t *Tracker) participant(key string) *discovery.Participant {
	if t.lookup == nil {
		return nil
	}
	return t.lookup.Participant(key)
}

// OnPublicationDiscovered implements discovery.Sink.
func (t *Tracker) OnPublicationDiscovered(handle types.Handle, data discovery.TopicData) {
	t.onDiscovered(types.DirectionOut, handle, data)
}

// OnPublicationLost implements discovery.Sink.
func (t *Tracker) OnPublicationLost(handle types.Handle, data discovery.TopicData) {
	t.onLost(types.DirectionOut, handle, data)
}

// OnSubscriptionDiscovered implements discovery.Sink.
func (t *Tracker) OnSubscriptionDiscovered(handle types.Handle, data discovery.TopicData) {
	t.onDiscovered(types.DirectionIn, handle, data)
}

// OnSubscriptionLost implements discovery.Sink.
func (t *Tracker) OnSubscriptionLost(handle types.Handle, data discovery.TopicData) {
	t.onLost(types.DirectionIn, handle, data)
}

func (t *Tracker) ignoreEvent(direction types.Direction, data discovery.TopicData) bool {
	p := t.participant(data.ParticipantKey)
	if direction == types.DirectionOut {
		return t.filters.IgnorePublication(p, data.ParticipantKey, data)
	}
	return t.filters.IgnoreSubscription(p, data.ParticipantKey, data)
}

// partitions expands the event's partition list: an empty list synthesises
// a single "" partition; otherwise each partition is yielded unless the
// filter chain ignores it. Filtered-out partitions are skipped, never used
// to short-circuit the remaining partitions — for both discovered and lost
// events — per spec.md §4.2/§9.
func (t *Tracker) partitions(data discovery.TopicData) []string {
	if len(data.Partitions) == 0 {
		return []string{""}
	}
	out := make([]string, 0, len(data.Partitions))
	for _, p := range data.Partitions {
		if t.filters.IgnorePartition(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (t *Tracker) onDiscovered(direction types.Direction, handle types.Handle, data discovery.TopicData) {
	if t.ignoreEvent(direction, data) {
		return
	}

	route := types.TopicRoute{Direction: direction, Topic: data.TopicName, Type: data.TypeName}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, partition := range t.partitions(data) {
		session := types.Session{Topic: data.TopicName, Partition: partition}
		t.publish(t.insert(session, route, handle))
	}
}

func (t *Tracker) onLost(direction types.Direction, handle types.Handle, data discovery.TopicData) {
	if t.ignoreEvent(direction, data) {
		return
	}

	route := types.TopicRoute{Direction: direction, Topic: data.TopicName, Type: data.TypeName}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, partition := range t.partitions(data) {
		session := types.Session{Topic: data.TopicName, Partition: partition}
		t.publish(t.remove(session, route, handle))
	}
}

// insert must be called with t.mu held. It returns the notifications to
// emit, in order, for this single (session, route, handle) triple.
func (t *Tracker) insert(session types.Session, route types.TopicRoute, handle types.Handle) []notification {
	var events []notification

	routes, sessionExists := t.m[session]
	if !sessionExists {
		routes = make(map[types.TopicRoute]routeState)
		t.m[session] = routes
		events = append(events, notification{kind: kindCreateSession, session: session})
		log.WithHandle(log.WithSession(t.logger, session), handle).Debug().Msg("session discovered")
	}

	handles, routeExists := routes[route]
	if !routeExists {
		handles = make(routeState)
		routes[route] = handles
		events = append(events, notification{kind: kindCreateRoute, session: session, route: route})
		log.WithHandle(log.WithRoute(log.WithSession(t.logger, session), route), handle).Debug().Msg("topic route discovered")
	}

	// Duplicate inserts of the same handle are idempotent by multiset
	// semantics but must never re-emit create events (spec.md §4.2).
	handles[handle]++

	t.updateGauges()
	return events
}

// remove must be called with t.mu held. It returns the notifications to
// emit, in order. A lost event for a handle not present is silently
// tolerated (spec.md §7): decrementing an absent handle is a no-op.
func (t *Tracker) remove(session types.Session, route types.TopicRoute, handle types.Handle) []notification {
	var events []notification

	routes, ok := t.m[session]
	if !ok {
		return nil
	}
	handles, ok := routes[route]
	if !ok {
		return nil
	}
	if handles[handle] <= 0 {
		return nil
	}

	handles[handle]--
	if handles[handle] <= 0 {
		delete(handles, handle)
	}

	if len(handles) == 0 {
		delete(routes, route)
		events = append(events, notification{kind: kindDeleteRoute, session: session, route: route})
		log.WithHandle(log.WithRoute(log.WithSession(t.logger, session), route), handle).Debug().Msg("topic route lost")

		if len(routes) == 0 {
			delete(t.m, session)
			events = append(events, notification{kind: kindDeleteSession, session: session})
			log.WithHandle(log.WithSession(t.logger, session), handle).Debug().Msg("session lost")
		}
	}

	t.updateGauges()
	return events
}

// updateGauges must be called with t.mu held.
func (t *Tracker) updateGauges() {
	sessions := len(t.m)
	routesByDirection := map[types.Direction]int{}
	for _, routes := range t.m {
		for route := range routes {
			routesByDirection[route.Direction]++
		}
	}
	metrics.SessionsTotal.Set(float64(sessions))
	metrics.RoutesTotal.WithLabelValues(string(types.DirectionIn)).Set(float64(routesByDirection[types.DirectionIn]))
	metrics.RoutesTotal.WithLabelValues(string(types.DirectionOut)).Set(float64(routesByDirection[types.DirectionOut]))
}

// publish must be called with t.mu held: enqueueing into the dispatcher
// while still holding the lock keeps per-session enqueue order identical to
// mutation order, even when multiple discovery goroutines call into the
// tracker concurrently (I4, spec.md §5). emit is a non-blocking channel
// send, so this never blocks while the lock is held.
func (t *Tracker) publish(events []notification) {
	for _, e := range events {
		t.disp.emit(e)
	}
}

// HandleCount returns the number of live handles for a session/route, for
// tests and diagnostics. Zero means the route does not currently exist.
func (t *Tracker) HandleCount(session types.Session, route types.TopicRoute) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	routes, ok := t.m[session]
	if !ok {
		return 0
	}
	handles, ok := routes[route]
	if !ok {
		return 0
	}
	count := 0
	for _, n := range handles {
		count += n
	}
	return count
}

// Sessions returns a snapshot of the currently live sessions, for tests and
// diagnostics.
func (t *Tracker) Sessions() []types.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Session, 0, len(t.m))
	for s := range t.m {
		out = append(out, s)
	}
	return out
}
