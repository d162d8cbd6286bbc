package control

import (
	"context"
	"sort"

	"google.golang.org/grpc"

	"github.com/backtest-replay/server/internal/datasource"
	"github.com/backtest-replay/server/internal/logger"
	"github.com/backtest-replay/server/internal/transport"
)

// Service is the gRPC-exposed admin surface over the running server,
// grounded on the shape of the teacher's ControlService
// (src/grpc_control/service.go) but scoped to what a replay server
// operator needs: which tables are loaded, who is currently replaying,
// and the ability to sever a stuck connection.
type Service struct {
	Source datasource.Source
	Hub    *transport.Hub
	Log    *logger.Logger
}

// NewService builds a Service ready to register on a grpc.Server.
func NewService(src datasource.Source, hub *transport.Hub, log *logger.Logger) *Service {
	return &Service{Source: src, Hub: hub, Log: log}
}

// Empty is the request message for RPCs that take no arguments.
type Empty struct{}

// TableStatus mirrors protocol.TableInfoWire's fields for the admin
// surface; its start/end times are always unix seconds.
type TableStatus struct {
	Name      string `json:"name"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// ListReplayTablesResponse is the result of ListReplayTables.
type ListReplayTablesResponse struct {
	Tables []TableStatus `json:"tables"`
}

// GetActiveReplayResponse lists connections currently holding the
// per-connection replay lock (spec.md §4.4's single active replay per
// connection invariant).
type GetActiveReplayResponse struct {
	ConnectionIDs []string `json:"connectionIds"`
}

// DisconnectConnectionRequest names a connection to force-close.
type DisconnectConnectionRequest struct {
	ConnectionID string `json:"connectionId"`
}

// DisconnectConnectionResponse reports whether the connection was found.
type DisconnectConnectionResponse struct {
	Disconnected bool `json:"disconnected"`
}

// ListReplayTables reports every table the data source advertises.
func (s *Service) ListReplayTables(ctx context.Context, _ *Empty) (*ListReplayTablesResponse, error) {
	tables, err := s.Source.EnumerateTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TableStatus, len(tables))
	for i, t := range tables {
		out[i] = TableStatus{Name: t.Name, StartTime: t.StartTime.Unix(), EndTime: t.EndTime.Unix()}
	}
	return &ListReplayTablesResponse{Tables: out}, nil
}

// GetActiveReplay reports every connection currently mid-replay.
func (s *Service) GetActiveReplay(ctx context.Context, _ *Empty) (*GetActiveReplayResponse, error) {
	var ids []string
	for _, id := range s.Hub.IDs() {
		client, ok := s.Hub.Get(id)
		if ok && client.ReplayActive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return &GetActiveReplayResponse{ConnectionIDs: ids}, nil
}

// DisconnectConnection force-closes a live connection by id.
func (s *Service) DisconnectConnection(ctx context.Context, req *DisconnectConnectionRequest) (*DisconnectConnectionResponse, error) {
	ok := s.Hub.Disconnect(req.ConnectionID)
	if ok {
		s.Log.Info("admin disconnected connection %s", req.ConnectionID)
	}
	return &DisconnectConnectionResponse{Disconnected: ok}, nil
}

// -----------------------------------------------------------------------------
// Hand-written gRPC service descriptor. See codec.go for why this
// isn't generated by protoc.
// -----------------------------------------------------------------------------

const serviceName = "backtestreplay.control.Control"

func _Control_ListReplayTables_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).ListReplayTables(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ListReplayTables"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).ListReplayTables(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_GetActiveReplay_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).GetActiveReplay(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetActiveReplay"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).GetActiveReplay(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_DisconnectConnection_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DisconnectConnectionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).DisconnectConnection(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/DisconnectConnection"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).DisconnectConnection(ctx, req.(*DisconnectConnectionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc registers Service on a grpc.Server: grpcServer.RegisterService(&control.ServiceDesc, service).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListReplayTables", Handler: _Control_ListReplayTables_Handler},
		{MethodName: "GetActiveReplay", Handler: _Control_GetActiveReplay_Handler},
		{MethodName: "DisconnectConnection", Handler: _Control_DisconnectConnection_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "control.proto",
}
