package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/routeward/pkg/log"
	"github.com/cuemby/routeward/pkg/metrics"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// sendCommandMethod is the full method name invoked on the target
// forwarder's admin service. No .proto-generated client stub exists for
// this interface in this deployment, so the call is issued directly
// through ClientConn.Invoke using the jsonCodec registered below, rather
// than through generated message types.
const sendCommandMethod = "/routeward.admin.AdminService/SendCommand"

// jsonCodecName is registered with grpc's encoding package so Invoke can
// be told to use it via grpc.CallContentSubtype, in place of the default
// protobuf codec.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCTransport is a Transport backed by a grpc.ClientConn, matching the
// connection style of the teacher's client package (grpc.Dial over an
// address, insecure credentials for the plain case). It carries messages
// as JSON rather than protobuf, since no generated stub ships for the
// admin service in this deployment; see jsonCodec.
type GRPCTransport struct {
	conn *grpc.ClientConn
}

// NewGRPCTransport dials addr. The connection is lazy-verified by the
// first call, matching grpc.Dial's non-blocking default.
func NewGRPCTransport(addr string) (*GRPCTransport, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)))
	if err != nil {
		return nil, fmt.Errorf("admin: dial %s: %w", addr, err)
	}
	return &GRPCTransport{conn: conn}, nil
}

// Close releases the underlying connection.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

// SendRequest implements Transport. Per spec.md §4.4/§7, any failure to
// obtain a reply within ctx's deadline — a transport-level error, a
// context cancellation, or a reply the target never sent — is reported
// as (nil, nil) so the scheduler treats it uniformly as a transient admin
// failure to retry. A reply that arrives is returned as is, whatever its
// kind. Only connection setup failures
// already surfaced at NewGRPCTransport time are treated as real errors.
func (t *GRPCTransport) SendRequest(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	// requestID correlates this attempt across log lines; the unary call
	// itself is what actually ties the reply to the request.
	requestID := uuid.New().String()
	logger := log.WithComponent("admin-transport").With().Str("request_id", requestID).Logger()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CommandSendDuration)

	resp := &CommandResponse{}
	err := t.conn.Invoke(ctx, sendCommandMethod, req, resp, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		logger.Debug().Err(err).Str("target", req.TargetRouter).Msg("admin send failed or timed out")
		return nil, nil
	}
	return resp, nil
}

// jsonCodec implements grpc/encoding.Codec over encoding/json, so
// CommandRequest/CommandResponse can travel over a grpc connection
// without a protoc-generated message type.
type jsonCodec struct{}

func (jsonCodec) Name() string { return jsonCodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
