// Package filter implements the ordered, short-circuit-OR predicate chain
// that decides which discovery events and partitions the tracker should
// ignore, per spec.md §4.1.
package filter

import (
	"strings"
	"sync"

	"github.com/cuemby/routeward/pkg/discovery"
	"github.com/cuemby/routeward/pkg/metrics"
)

// PublicationFilter decides whether a discovered/lost publication should
// be ignored.
type PublicationFilter interface {
	Name() string
	IgnorePublication(participant *discovery.Participant, handle string, data discovery.TopicData) bool
}

// SubscriptionFilter decides whether a discovered/lost subscription should
// be ignored.
type SubscriptionFilter interface {
	Name() string
	IgnoreSubscription(participant *discovery.Participant, handle string, data discovery.TopicData) bool
}

// PartitionFilter decides whether a single partition string should be
// ignored.
type PartitionFilter interface {
	Name() string
	IgnorePartition(partition string) bool
}

// Filter may implement any subset of PublicationFilter, SubscriptionFilter
// and PartitionFilter; the chain only calls the methods a registered
// filter actually implements.
type Filter interface {
	Name() string
}

// Chain is an ordered list of filters, OR-combined: any filter returning
// true suppresses the event or partition. Evaluation short-circuits on
// the first true per spec.md §4.1/§9 ("ordered short-circuit, no dynamic
// composition language").
type Chain struct {
	filters []Filter
}

// NewChain builds a filter chain from the given filters, evaluated in the
// given order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// IgnorePublication reports whether any registered PublicationFilter
// ignores this publication.
func (c *Chain) IgnorePublication(participant *discovery.Participant, handle string, data discovery.TopicData) bool {
	for _, f := range c.filters {
		pf, ok := f.(PublicationFilter)
		if !ok {
			continue
		}
		if pf.IgnorePublication(participant, handle, data) {
			metrics.FilteredEventsTotal.WithLabelValues(f.Name()).Inc()
			return true
		}
	}
	return false
}

// IgnoreSubscription reports whether any registered SubscriptionFilter
// ignores this subscription.
func (c *Chain) IgnoreSubscription(participant *discovery.Participant, handle string, data discovery.TopicData) bool {
	for _, f := range c.filters {
		sf, ok := f.(SubscriptionFilter)
		if !ok {
			continue
		}
		if sf.IgnoreSubscription(participant, handle, data) {
			metrics.FilteredEventsTotal.WithLabelValues(f.Name()).Inc()
			return true
		}
	}
	return false
}

// IgnorePartition reports whether any registered PartitionFilter ignores
// this partition string.
func (c *Chain) IgnorePartition(partition string) bool {
	for _, f := range c.filters {
		pf, ok := f.(PartitionFilter)
		if !ok {
			continue
		}
		if pf.IgnorePartition(partition) {
			metrics.FilteredEventsTotal.WithLabelValues(f.Name()).Inc()
			return true
		}
	}
	return false
}

// --- built-in filters ---

const routingServiceKind = "routing-service"

// groupNameProperty is the participant property key the group self-filter
// matches against.
const groupNameProperty = "rti.routing_service.group_name"

// SelfFilter ignores endpoints whose participant advertises
// service kind = routing-service, so the controller never routes its own
// traffic. Per spec.md §9, a participant that can't yet be looked up (nil)
// is conservatively NOT ignored.
type SelfFilter struct{}

func (SelfFilter) Name() string { return "self" }

func (SelfFilter) IgnorePublication(p *discovery.Participant, _ string, _ discovery.TopicData) bool {
	return isRoutingService(p)
}

func (SelfFilter) IgnoreSubscription(p *discovery.Participant, _ string, _ discovery.TopicData) bool {
	return isRoutingService(p)
}

func isRoutingService(p *discovery.Participant) bool {
	if p == nil {
		return false
	}
	return p.ServiceKind == routingServiceKind
}

// GroupSelfFilter is like SelfFilter but additionally restricted to
// participants in the configured group, for when peer forwarders coexist.
type GroupSelfFilter struct {
	GroupName string
}

func (GroupSelfFilter) Name() string { return "group-self" }

func (f GroupSelfFilter) IgnorePublication(p *discovery.Participant, _ string, _ discovery.TopicData) bool {
	return f.matches(p)
}

func (f GroupSelfFilter) IgnoreSubscription(p *discovery.Participant, _ string, _ discovery.TopicData) bool {
	return f.matches(p)
}

func (f GroupSelfFilter) matches(p *discovery.Participant) bool {
	if p == nil || !isRoutingService(p) {
		return false
	}
	if p.Properties == nil {
		return false
	}
	return p.Properties[groupNameProperty] == f.GroupName
}

// PrefixFilter ignores topics whose name begins with the given prefix
// (vendor-internal topics use "rti" by default).
type PrefixFilter struct {
	Prefix string
}

// NewPrefixFilter returns the default vendor-internal-topic prefix filter.
func NewPrefixFilter() PrefixFilter {
	return PrefixFilter{Prefix: "rti"}
}

func (PrefixFilter) Name() string { return "prefix" }

func (f PrefixFilter) IgnorePublication(_ *discovery.Participant, _ string, data discovery.TopicData) bool {
	return strings.HasPrefix(data.TopicName, f.Prefix)
}

func (f PrefixFilter) IgnoreSubscription(_ *discovery.Participant, _ string, data discovery.TopicData) bool {
	return strings.HasPrefix(data.TopicName, f.Prefix)
}

// WildcardPartitionFilter ignores partition strings containing pub/sub
// wildcard metacharacters, since those can't be materialised as concrete
// partition configurations.
type WildcardPartitionFilter struct{}

func (WildcardPartitionFilter) Name() string { return "wildcard-partition" }

func (WildcardPartitionFilter) IgnorePartition(partition string) bool {
	return strings.ContainsAny(partition, "*?")
}

// ParticipantCache caches participant metadata by key with no eviction —
// participants are low-cardinality and long-lived for the life of the
// process, per spec.md §4.1.
type ParticipantCache struct {
	mu    sync.RWMutex
	cache map[string]*discovery.Participant
	miss  func(key string) *discovery.Participant
}

// NewParticipantCache wraps a participant-resolving function with an
// unbounded, never-evicted cache.
func NewParticipantCache(miss func(key string) *discovery.Participant) *ParticipantCache {
	return &ParticipantCache{
		cache: make(map[string]*discovery.Participant),
		miss:  miss,
	}
}

// Participant implements discovery.ParticipantLookup.
func (c *ParticipantCache) Participant(key string) *discovery.Participant {
	c.mu.RLock()
	p, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return p
	}

	p = c.miss(key)

	c.mu.Lock()
	c.cache[key] = p
	c.mu.Unlock()
	return p
}
