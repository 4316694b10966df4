// Package discovery translates the pub/sub middleware's built-in
// publication/subscription discovery events into the uniform shape the
// filter chain and tracker operate on. The discovery source itself — the
// thing that actually walks the wire protocol and calls back into this
// adapter — is an external collaborator and is not implemented here; only
// the translation contract is.
package discovery

import "github.com/cuemby/routeward/pkg/types"

// TopicData is the subset of a discovered publication or subscription's
// built-in topic data that routeward consumes.
type TopicData struct {
	TopicName      string
	TypeName       string
	Partitions     []string
	ParticipantKey string
}

// Participant is the metadata the filter chain looks up about the remote
// endpoint's owning participant. A nil *Participant (not found, or not yet
// fully discovered) must be treated as "don't ignore" by filters — see
// spec.md §9.
type Participant struct {
	Key        string
	ServiceKind string
	Properties map[string]string
}

// ParticipantLookup resolves participant metadata by key, for filter use.
type ParticipantLookup interface {
	Participant(key string) *Participant
}

// Sink receives the four uniform discovery operations that the tracker
// implements. Event emits through this 4-method contract keep the adapter
// decoupled from the tracker's own map bookkeeping.
type Sink interface {
	OnPublicationDiscovered(handle types.Handle, data TopicData)
	OnPublicationLost(handle types.Handle, data TopicData)
	OnSubscriptionDiscovered(handle types.Handle, data TopicData)
	OnSubscriptionLost(handle types.Handle, data TopicData)
}

// Adapter forwards raw discovery callbacks straight to a Sink. It exists
// as its own type (rather than having the discovery source call the
// tracker directly) so that a participant lookup can be layered in without
// the tracker needing to know about the discovery source's API shape.
type Adapter struct {
	sink   Sink
	lookup ParticipantLookup
}

// NewAdapter builds a discovery Adapter over the given sink. lookup may be
// nil if no participant-based filtering is needed.
func NewAdapter(sink Sink, lookup ParticipantLookup) *Adapter {
	return &Adapter{sink: sink, lookup: lookup}
}

// Participant resolves participant metadata through the configured lookup,
// or returns nil if none is configured or the participant is unknown.
func (a *Adapter) Participant(key string) *Participant {
	if a.lookup == nil {
		return nil
	}
	return a.lookup.Participant(key)
}

func (a *Adapter) PublicationDiscovered(handle types.Handle, data TopicData) {
	a.sink.OnPublicationDiscovered(handle, data)
}

func (a *Adapter) PublicationLost(handle types.Handle, data TopicData) {
	a.sink.OnPublicationLost(handle, data)
}

func (a *Adapter) SubscriptionDiscovered(handle types.Handle, data TopicData) {
	a.sink.OnSubscriptionDiscovered(handle, data)
}

func (a *Adapter) SubscriptionLost(handle types.Handle, data TopicData) {
	a.sink.OnSubscriptionLost(handle, data)
}
