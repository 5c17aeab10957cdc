// Package profilerpb defines the wire contract between a perfprobe CLI
// instance and a perfcollect server.
//
// A normal Go gRPC service is generated by protoc-gen-go /
// protoc-gen-go-grpc from a .proto file into a .pb.go carrying a compiled
// descriptorpb.FileDescriptorProto (see the TripWire agent's own
// internal/proto/gen/gen.go, which builds exactly such a descriptor for
// AlertService at generation time). Reproducing that generator's output by
// hand for a new schema means hand-computing a FileDescriptorProto's raw
// bytes, field tags, and wire-compatible ordering — a process whose whole
// purpose is to be machine-checked by protoc, and one a single subtly wrong
// byte turns into a service that "compiles" but is semantically broken.
//
// Since running protoc/go generate isn't an option here, this package
// instead builds the service on google.golang.org/protobuf's well-known
// message types: google.protobuf.Struct for the event envelope and
// google.protobuf.Empty for the acknowledgement and health-check request.
// Those types ship with real, pre-compiled descriptors, so every message
// on the wire is still genuine, reflectable protobuf — only the
// grpc.ServiceDesc and the client/server stubs around it are hand-written,
// which is the same mechanical boilerplate protoc-gen-go-grpc would emit,
// just without a generator to emit it.
package profilerpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event field names within the google.protobuf.Struct envelope streamed by
// StreamEvents. Kept as constants rather than a generated struct tag table
// since there is no generated type to attach them to.
const (
	FieldKind      = "kind"
	FieldSessionID = "session_id"
	FieldPid       = "pid"
	FieldTimestamp = "timestamp_ms"
	FieldMessage   = "message"  // for log/error events
	FieldSnapshot  = "snapshot" // nested struct, for metric events
)

// EventKind is the value of the "kind" field in a streamed event envelope.
type EventKind string

const (
	EventKindMetric EventKind = "metric"
	EventKindLog    EventKind = "log"
	EventKindError  EventKind = "error"
)

// NewEventEnvelope builds the google.protobuf.Struct sent over the wire for
// one observer event. fields is merged into the envelope under its own
// keys (FieldMessage for log/error, FieldSnapshot for metric).
func NewEventEnvelope(kind EventKind, sessionID string, pid int32, fields map[string]any) (*structpb.Struct, error) {
	base := map[string]any{
		FieldKind:      string(kind),
		FieldSessionID: sessionID,
		FieldPid:       float64(pid),
	}
	for k, v := range fields {
		base[k] = v
	}
	return structpb.NewStruct(base)
}

const (
	serviceName        = "profilerpb.Collector"
	methodStreamEvents = "StreamEvents"
	methodGetHealth    = "GetHealth"
)

// CollectorClient is the client API for the Collector service.
type CollectorClient interface {
	// StreamEvents opens a client-streaming RPC: the caller sends one
	// *structpb.Struct event envelope per observer callback and receives a
	// single *emptypb.Empty acknowledgement when it closes the send side.
	StreamEvents(ctx context.Context, opts ...grpc.CallOption) (Collector_StreamEventsClient, error)
	// GetHealth is a unary health check.
	GetHealth(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type collectorClient struct {
	cc grpc.ClientConnInterface
}

// NewCollectorClient wraps cc as a CollectorClient.
func NewCollectorClient(cc grpc.ClientConnInterface) CollectorClient {
	return &collectorClient{cc: cc}
}

func (c *collectorClient) StreamEvents(ctx context.Context, opts ...grpc.CallOption) (Collector_StreamEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], serviceName+"/"+methodStreamEvents, opts...)
	if err != nil {
		return nil, err
	}
	return &collectorStreamEventsClient{stream}, nil
}

func (c *collectorClient) GetHealth(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+methodGetHealth, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Collector_StreamEventsClient is the client side of the StreamEvents RPC.
type Collector_StreamEventsClient interface {
	Send(*structpb.Struct) error
	CloseAndRecv() (*emptypb.Empty, error)
	grpc.ClientStream
}

type collectorStreamEventsClient struct {
	grpc.ClientStream
}

func (x *collectorStreamEventsClient) Send(m *structpb.Struct) error {
	return x.ClientStream.SendMsg(m)
}

func (x *collectorStreamEventsClient) CloseAndRecv() (*emptypb.Empty, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(emptypb.Empty)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CollectorServer is the server API for the Collector service.
type CollectorServer interface {
	StreamEvents(Collector_StreamEventsServer) error
	GetHealth(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedCollectorServer can be embedded in a CollectorServer
// implementation to satisfy the interface for methods not yet overridden,
// following the same forward-compatibility convention as protoc-gen-go-grpc
// generated code.
type UnimplementedCollectorServer struct{}

func (UnimplementedCollectorServer) StreamEvents(Collector_StreamEventsServer) error {
	return status.Error(codes.Unimplemented, "method StreamEvents not implemented")
}

func (UnimplementedCollectorServer) GetHealth(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetHealth not implemented")
}

// Collector_StreamEventsServer is the server side of the StreamEvents RPC.
type Collector_StreamEventsServer interface {
	SendAndClose(*emptypb.Empty) error
	Recv() (*structpb.Struct, error)
	grpc.ServerStream
}

type collectorStreamEventsServer struct {
	grpc.ServerStream
}

func (x *collectorStreamEventsServer) SendAndClose(m *emptypb.Empty) error {
	return x.ServerStream.SendMsg(m)
}

func (x *collectorStreamEventsServer) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Collector_StreamEvents_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(CollectorServer).StreamEvents(&collectorStreamEventsServer{stream})
}

func _Collector_GetHealth_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).GetHealth(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/" + methodGetHealth,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).GetHealth(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodGetHealth,
			Handler:    _Collector_GetHealth_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    methodStreamEvents,
			Handler:       _Collector_StreamEvents_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "profilerpb/collector.proto",
}

// RegisterCollectorServer registers srv with s.
func RegisterCollectorServer(s grpc.ServiceRegistrar, srv CollectorServer) {
	s.RegisterService(&serviceDesc, srv)
}
