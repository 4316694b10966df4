package scheduler

import (
	"testing"
	"time"

	"github.com/cuemby/routeward/pkg/admin"
	"github.com/cuemby/routeward/pkg/provider"
	"github.com/cuemby/routeward/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, transport admin.Transport) *Scheduler {
	t.Helper()
	s, err := NewScheduler(transport, provider.NewDefaultProvider("routeward"), "target1", time.Millisecond, time.Second)
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestNewScheduler_ValidatesConfig(t *testing.T) {
	p := provider.NewDefaultProvider("routeward")
	transport := admin.NewMockTransport()

	tests := []struct {
		name           string
		transport      admin.Transport
		provider       provider.ConfigProvider
		target         string
		retryDelay     time.Duration
		requestTimeout time.Duration
	}{
		{"empty target", transport, p, "", time.Second, time.Second},
		{"nil provider", transport, nil, "target1", time.Second, time.Second},
		{"nil transport", nil, p, "target1", time.Second, time.Second},
		{"negative retry delay", transport, p, "target1", -time.Second, time.Second},
		{"zero request timeout", transport, p, "target1", time.Second, 0},
		{"negative request timeout", transport, p, "target1", time.Second, -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(tt.transport, tt.provider, tt.target, tt.retryDelay, tt.requestTimeout)
			require.Error(t, err)
			var cfgErr *types.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestScheduler_CreateSession_SucceedsImmediately(t *testing.T) {
	transport := admin.NewMockTransport()
	s := newTestScheduler(t, transport)

	sess := types.Session{Topic: "Square", Partition: "A"}
	s.CreateSession(sess)

	assert.Eventually(t, func() bool {
		_, pending := s.Pending(types.SessionKey(sess))
		return !pending
	}, time.Second, time.Millisecond)

	calls := transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, admin.CommandCreate, calls[0].Command.Kind)
}

func TestScheduler_RetriesUntilSuccess(t *testing.T) {
	transport := admin.NewMockTransport()
	transport.QueueTimeout()
	transport.QueueTimeout()
	transport.QueueTimeout()
	transport.QueueResponse(&admin.CommandResponse{Kind: admin.ResponseOK})

	s := newTestScheduler(t, transport)

	sess := types.Session{Topic: "T", Partition: "P"}
	s.CreateSession(sess)

	assert.Eventually(t, func() bool {
		_, pending := s.Pending(types.SessionKey(sess))
		return !pending
	}, 2*time.Second, time.Millisecond)

	assert.Len(t, transport.Calls(), 4)
}

func TestScheduler_SameOpRestartsSchedule(t *testing.T) {
	transport := admin.NewMockTransport()
	transport.Default = func(*admin.CommandRequest) (*admin.CommandResponse, error) {
		return nil, nil // never succeeds on its own
	}
	s, err := NewScheduler(transport, provider.NewDefaultProvider("routeward"), "target1", 50*time.Millisecond, time.Second)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	sess := types.Session{Topic: "T", Partition: "P"}
	s.CreateSession(sess)
	time.Sleep(5 * time.Millisecond)
	s.CreateSession(sess) // same op: restarts the schedule, doesn't change state

	op, pending := s.Pending(types.SessionKey(sess))
	require.True(t, pending)
	assert.Equal(t, types.OpCreateSession, op)
}

func TestScheduler_InverseRequestPreempts(t *testing.T) {
	transport := admin.NewMockTransport()
	transport.Default = func(*admin.CommandRequest) (*admin.CommandResponse, error) {
		return nil, nil // create never completes
	}
	s, err := NewScheduler(transport, provider.NewDefaultProvider("routeward"), "target1", time.Hour, time.Second)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	sess := types.Session{Topic: "T", Partition: "P"}
	s.CreateSession(sess)
	time.Sleep(20 * time.Millisecond)

	s.DeleteSession(sess)
	time.Sleep(20 * time.Millisecond)

	op, pending := s.Pending(types.SessionKey(sess))
	require.True(t, pending)
	assert.Equal(t, types.OpDeleteSession, op)
}

func TestScheduler_RouteAndSessionKeysDontCollide(t *testing.T) {
	transport := admin.NewMockTransport()
	transport.Default = func(*admin.CommandRequest) (*admin.CommandResponse, error) {
		return nil, nil
	}
	s, err := NewScheduler(transport, provider.NewDefaultProvider("routeward"), "target1", time.Hour, time.Second)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	sess := types.Session{Topic: "T", Partition: "P"}
	route := types.TopicRoute{Direction: types.DirectionOut, Topic: "T", Type: "X"}

	s.CreateSession(sess)
	s.CreateTopicRoute(sess, route)
	time.Sleep(20 * time.Millisecond)

	_, sessionPending := s.Pending(types.SessionKey(sess))
	_, routePending := s.Pending(types.RouteKey(sess, route))
	assert.True(t, sessionPending)
	assert.True(t, routePending)
}

func TestScheduler_ConfigurationErrorDropsEntryWithoutRetry(t *testing.T) {
	transport := admin.NewMockTransport()
	oversizedProvider := oversizedXMLProvider{provider.NewDefaultProvider("routeward")}

	s, err := NewScheduler(transport, oversizedProvider, "target1", time.Millisecond, time.Second)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	sess := types.Session{Topic: "T", Partition: "P"}
	s.CreateSession(sess)

	assert.Eventually(t, func() bool {
		_, pending := s.Pending(types.SessionKey(sess))
		return !pending
	}, time.Second, time.Millisecond)

	// No admin send should ever have been attempted: the XML-too-long
	// check fails before a request is built.
	assert.Empty(t, transport.Calls())
}

// oversizedXMLProvider wraps a ConfigProvider and forces session
// configuration past admin.MaxXMLLength, to exercise the fail-fast
// configuration-error path.
type oversizedXMLProvider struct {
	provider.ConfigProvider
}

func (oversizedXMLProvider) SessionConfiguration(types.Session) string {
	return string(make([]byte, admin.MaxXMLLength+1))
}
