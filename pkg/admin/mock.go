package admin

import (
	"context"
	"sync"
)

// MockTransport is an in-memory Transport test double. Responses queues
// one (*CommandResponse, error) pair per SendRequest call, in FIFO order;
// once drained, calls fall back to a configurable default so retry loops
// under test don't need to queue an exact reply count.
type MockTransport struct {
	mu        sync.Mutex
	responses []mockReply
	calls     []*CommandRequest
	Default   func(req *CommandRequest) (*CommandResponse, error)
}

type mockReply struct {
	resp *CommandResponse
	err  error
}

// NewMockTransport returns a MockTransport that replies OK to every
// request until reconfigured.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Default: func(*CommandRequest) (*CommandResponse, error) {
			return &CommandResponse{Kind: ResponseOK}, nil
		},
	}
}

// QueueTimeout enqueues a (nil, nil) reply, simulating the timeout
// outcome SendRequest must produce per spec.md §4.4.
func (m *MockTransport) QueueTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockReply{})
}

// QueueResponse enqueues a specific reply.
func (m *MockTransport) QueueResponse(resp *CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockReply{resp: resp})
}

// SendRequest implements Transport.
func (m *MockTransport) SendRequest(_ context.Context, req *CommandRequest) (*CommandResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	var r mockReply
	haveQueued := len(m.responses) > 0
	if haveQueued {
		r, m.responses = m.responses[0], m.responses[1:]
	}
	m.mu.Unlock()

	if haveQueued {
		return r.resp, r.err
	}
	return m.Default(req)
}

// Calls returns every request observed so far, in order.
func (m *MockTransport) Calls() []*CommandRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*CommandRequest, len(m.calls))
	copy(out, m.calls)
	return out
}
