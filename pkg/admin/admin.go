// Package admin implements the request/reply Admin Transport that drives
// the target forwarder's configuration (spec.md §4.4/§6): it sends typed
// CommandRequests and awaits a CommandResponse within a bounded timeout,
// returning nil rather than an error on timeout so the scheduler's retry
// loop is the only place that interprets failure.
package admin

import "context"

// CommandKind is the admin operation kind sent to the target forwarder.
type CommandKind string

const (
	CommandCreate CommandKind = "CREATE"
	CommandDelete CommandKind = "DELETE"
)

// ResponseKind classifies a CommandResponse. Only OK means success; every
// other kind (including ones this process doesn't recognize) is a
// transient failure to be retried.
type ResponseKind string

const ResponseOK ResponseKind = "OK"

// MaxXMLLength is the admin transport's maximum accepted xml_url content
// length. Exceeding it at request-construction time is a configuration
// error per spec.md §4.3/§7, never a retryable runtime condition.
const MaxXMLLength = 1 << 16 // 64 KiB

// XMLURL carries inline XML configuration content for a CREATE command.
type XMLURL struct {
	IsFinal bool   `json:"is_final"`
	Content string `json:"content"`
}

// EntityDesc names the entity to create and its configuration, for a
// CREATE command.
type EntityDesc struct {
	Name   string `json:"name"`
	XMLURL XMLURL `json:"xml_url"`
}

// Command is the operation embedded in a CommandRequest: a CREATE carries
// an EntityDesc, a DELETE carries an EntityName.
type Command struct {
	Kind       CommandKind `json:"kind"`
	EntityDesc *EntityDesc `json:"entity_desc,omitempty"`
	EntityName string      `json:"entity_name,omitempty"`
}

// CommandRequest is sent to the target forwarder's admin interface. The
// unary RPC call itself correlates the reply to this request; no
// application-level request id is needed.
type CommandRequest struct {
	TargetRouter string  `json:"target_router"`
	Command      Command `json:"command"`
}

// CommandResponse is the target forwarder's reply.
type CommandResponse struct {
	Kind    ResponseKind `json:"kind"`
	Message string       `json:"message"`
}

// Transport sends a CommandRequest and awaits a CommandResponse up to the
// context's deadline. It must never return an error for an ordinary
// timeout or non-OK reply — those are reported as (nil, nil) and
// (*CommandResponse{Kind: something other than OK}, nil) respectively —
// so the scheduler's retry loop is the single place that decides what a
// failure means. A non-nil error is reserved for conditions the transport
// itself cannot recover from (e.g. the connection was never established).
type Transport interface {
	SendRequest(ctx context.Context, req *CommandRequest) (*CommandResponse, error)
}
