// Package scheduler implements the command scheduler (spec.md §4.3): for
// every session/route lifecycle event handed to it by the tracker's
// dispatcher, it drives the target forwarder via the Admin Transport
// until the forwarder's state matches, retrying at a fixed delay and
// letting a newer inverse request pre-empt an outstanding one. Scheduler
// implements the tracker's Listener interface structurally, so it can be
// registered directly with a Tracker without either package importing
// the other.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/routeward/pkg/admin"
	"github.com/cuemby/routeward/pkg/log"
	"github.com/cuemby/routeward/pkg/metrics"
	"github.com/cuemby/routeward/pkg/provider"
	"github.com/cuemby/routeward/pkg/types"
	"github.com/rs/zerolog"
)

// allOps enumerates the operations the pending-commands gauge tracks.
var allOps = []types.Op{types.OpCreateSession, types.OpDeleteSession, types.OpCreateRoute, types.OpDeleteRoute}

// entry is one identity's row in the pending-command table. generation is
// bumped on every request() for this key; a scheduled fire whose
// generation no longer matches the entry's current generation is stale
// and must be dropped rather than sent (spec.md §9, "cancellation
// races").
type entry struct {
	key        types.CommandKey
	op         types.Op
	generation uint64
	timer      *time.Timer
}

type fireEvent struct {
	key        types.CommandKey
	generation uint64
}

// Scheduler is the per-identity pending-command state machine described
// in spec.md §4.3.
type Scheduler struct {
	mu      sync.Mutex
	entries map[types.CommandKey]*entry

	transport    admin.Transport
	provider     provider.ConfigProvider
	targetRouter string

	retryDelay     time.Duration
	requestTimeout time.Duration

	fireCh chan fireEvent
	stop   chan struct{}
	done   chan struct{}

	logger zerolog.Logger
}

// NewScheduler validates its configuration and returns a Scheduler, or a
// *types.ConfigError if the configuration is invalid. Per spec.md §7,
// this is the only point at which the scheduler can fail upward; once
// constructed it only ever converges or retries.
func NewScheduler(transport admin.Transport, cfgProvider provider.ConfigProvider, targetRouter string, retryDelay, requestTimeout time.Duration) (*Scheduler, error) {
	if targetRouter == "" {
		return nil, &types.ConfigError{Msg: "targetRoutingService must be non-empty"}
	}
	if cfgProvider == nil {
		return nil, &types.ConfigError{Msg: "config provider must not be nil"}
	}
	if transport == nil {
		return nil, &types.ConfigError{Msg: "admin transport must not be nil"}
	}
	if retryDelay < 0 {
		return nil, &types.ConfigError{Msg: "retryDelay must be >= 0"}
	}
	if requestTimeout <= 0 {
		return nil, &types.ConfigError{Msg: "requestTimeout must be > 0"}
	}

	return &Scheduler{
		entries:        make(map[types.CommandKey]*entry),
		transport:      transport,
		provider:       cfgProvider,
		targetRouter:   targetRouter,
		retryDelay:     retryDelay,
		requestTimeout: requestTimeout,
		fireCh:         make(chan fireEvent),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		logger:         log.WithComponent("scheduler"),
	}, nil
}

// Start launches the scheduler's single worker goroutine. Sends are
// serialised through it: at most one admin request is in flight at a
// time, per spec.md §5.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the worker and cancels every outstanding retry timer.
// In-flight sends are allowed to finish; their results are discarded
// once stop is observed.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

// CreateSession implements the tracker's Listener interface.
func (s *Scheduler) CreateSession(sess types.Session) {
	s.request(types.SessionKey(sess), types.OpCreateSession)
}

// DeleteSession implements the tracker's Listener interface.
func (s *Scheduler) DeleteSession(sess types.Session) {
	s.request(types.SessionKey(sess), types.OpDeleteSession)
}

// CreateTopicRoute implements the tracker's Listener interface.
func (s *Scheduler) CreateTopicRoute(sess types.Session, route types.TopicRoute) {
	s.request(types.RouteKey(sess, route), types.OpCreateRoute)
}

// DeleteTopicRoute implements the tracker's Listener interface.
func (s *Scheduler) DeleteTopicRoute(sess types.Session, route types.TopicRoute) {
	s.request(types.RouteKey(sess, route), types.OpDeleteRoute)
}

// request applies one event to the per-identity state machine: Idle ->
// Pending(X) on a fresh key, Pending(X) -> Pending(X) restarting the
// schedule on a repeat of the same op, and Pending(X) -> Pending(Y) on an
// inverse op pre-empting the outstanding one. In every case the prior
// schedule (if any) is invalidated by bumping the generation counter
// before a new immediate fire is scheduled.
func (s *Scheduler) request(key types.CommandKey, op types.Op) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{key: key, op: op, generation: 1}
		s.entries[key] = e
	} else {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.generation++
		e.op = op
	}

	s.keyLogger(key).Debug().Stringer("op", op).Uint64("generation", e.generation).Msg("scheduling command")
	e.timer = s.scheduleAt(key, e.generation, 0)
	s.refreshPendingGaugeLocked()
}

// keyLogger scopes s.logger to the session (and route, for a route-level
// key) a log line is reporting on.
func (s *Scheduler) keyLogger(key types.CommandKey) zerolog.Logger {
	l := log.WithSession(s.logger, key.Session)
	if key.IsRoute() {
		l = log.WithRoute(l, key.Route)
	}
	return l
}

// scheduleAt arms a timer that, after delay, hands the identity's current
// generation to the worker goroutine for a send attempt. delay == 0 fires
// as soon as the worker is free, satisfying the "retryDelay = 0" boundary
// case (spec.md §8) without busy-spinning: time.AfterFunc still only
// fires once.
func (s *Scheduler) scheduleAt(key types.CommandKey, generation uint64, delay time.Duration) *time.Timer {
	return time.AfterFunc(delay, func() {
		select {
		case s.fireCh <- fireEvent{key: key, generation: generation}:
		case <-s.stop:
		}
	})
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case fe := <-s.fireCh:
			s.fire(fe)
		case <-s.stop:
			return
		}
	}
}

// fire sends one admin command for fe's identity, if it is still current,
// and either clears the entry (success) or reschedules it (failure).
func (s *Scheduler) fire(fe fireEvent) {
	s.mu.Lock()
	e, ok := s.entries[fe.key]
	if !ok || e.generation != fe.generation {
		// Superseded or deleted between scheduling and firing.
		s.mu.Unlock()
		return
	}
	op := e.op
	s.mu.Unlock()

	req, cfgErr := s.buildRequest(fe.key, op)
	if cfgErr != nil {
		s.keyLogger(fe.key).Error().Err(cfgErr).Msg("dropping command: configuration error")
		s.mu.Lock()
		if e2, ok := s.entries[fe.key]; ok && e2.generation == fe.generation {
			delete(s.entries, fe.key)
			s.refreshPendingGaugeLocked()
		}
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	resp, err := s.transport.SendRequest(ctx, req)
	cancel()

	outcome := "failure"
	switch {
	case err != nil:
		outcome = "failure"
		s.keyLogger(fe.key).Warn().Err(err).Msg("admin send error")
	case resp == nil:
		outcome = "timeout"
	case resp.Kind == admin.ResponseOK:
		outcome = "success"
	default:
		outcome = "failure"
		s.keyLogger(fe.key).Warn().Str("response_kind", string(resp.Kind)).Str("message", resp.Message).Msg("admin send returned non-OK response")
	}
	metrics.CommandSendsTotal.WithLabelValues(op.String(), outcome).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok = s.entries[fe.key]
	if !ok || e.generation != fe.generation {
		// A newer request pre-empted this one while the send was in
		// flight; its outcome no longer matters.
		return
	}

	if outcome == "success" {
		delete(s.entries, fe.key)
		s.refreshPendingGaugeLocked()
		return
	}

	metrics.CommandRetriesTotal.WithLabelValues(op.String()).Inc()
	e.timer = s.scheduleAt(fe.key, e.generation, s.retryDelay)
}

// buildRequest maps an operation on an identity to a CommandRequest,
// per spec.md §4.3's send procedure.
func (s *Scheduler) buildRequest(key types.CommandKey, op types.Op) (*admin.CommandRequest, *types.ConfigError) {
	session := key.Session

	switch op {
	case types.OpCreateSession:
		return s.buildCreate(s.provider.SessionParent(session), s.provider.SessionConfiguration(session))
	case types.OpDeleteSession:
		return buildDelete(s.targetRouter, s.provider.SessionEntityName(session)), nil
	case types.OpCreateRoute:
		route := key.Route
		return s.buildCreate(s.provider.SessionEntityName(session), s.provider.TopicRouteConfiguration(session, route))
	case types.OpDeleteRoute:
		route := key.Route
		return buildDelete(s.targetRouter, s.provider.TopicRouteEntityName(session, route)), nil
	default:
		return nil, &types.ConfigError{Msg: fmt.Sprintf("unknown op %v", op)}
	}
}

func (s *Scheduler) buildCreate(entityName, xmlContent string) (*admin.CommandRequest, *types.ConfigError) {
	if len(xmlContent) > admin.MaxXMLLength {
		return nil, &types.ConfigError{Msg: fmt.Sprintf("xml content length %d exceeds maximum %d", len(xmlContent), admin.MaxXMLLength)}
	}
	return &admin.CommandRequest{
		TargetRouter: s.targetRouter,
		Command: admin.Command{
			Kind: admin.CommandCreate,
			EntityDesc: &admin.EntityDesc{
				Name: entityName,
				XMLURL: admin.XMLURL{
					IsFinal: true,
					Content: xmlContent,
				},
			},
		},
	}, nil
}

func buildDelete(targetRouter, entityName string) *admin.CommandRequest {
	return &admin.CommandRequest{
		TargetRouter: targetRouter,
		Command: admin.Command{
			Kind:       admin.CommandDelete,
			EntityName: entityName,
		},
	}
}

// refreshPendingGaugeLocked must be called with s.mu held.
func (s *Scheduler) refreshPendingGaugeLocked() {
	counts := make(map[types.Op]int, len(allOps))
	for _, e := range s.entries {
		counts[e.op]++
	}
	for _, op := range allOps {
		metrics.PendingCommandsTotal.WithLabelValues(op.String()).Set(float64(counts[op]))
	}
}

// Pending reports the op currently outstanding for key, and whether one
// exists, for tests and diagnostics.
func (s *Scheduler) Pending(key types.CommandKey) (types.Op, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	return e.op, true
}
