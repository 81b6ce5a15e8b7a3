package nbi

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "sewersim.v1.SimulationService"

// SimulationServiceServer is the server API for the simulation service.
// Messages are the protobuf well-known types so no generated code is
// required on either side.
type SimulationServiceServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// GetSnapshot returns the given hour, or the latest one for hour 0.
	GetSnapshot(context.Context, *wrapperspb.Int32Value) (*structpb.Struct, error)
	// GetHistory takes optional numeric "from" and "to" fields.
	GetHistory(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	GetSummary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetTopology(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// MoveSite takes "id", "lon" and "lat".
	MoveSite(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pause(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Resume(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func newEmpty() *emptypb.Empty         { return new(emptypb.Empty) }
func newStruct() *structpb.Struct      { return new(structpb.Struct) }
func newInt32() *wrapperspb.Int32Value { return new(wrapperspb.Int32Value) }
func fullMethod(method string) string  { return "/" + ServiceName + "/" + method }

func unary[Req, Resp proto.Message](method string, newReq func() Req, call func(SimulationServiceServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(SimulationServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(Req))
			})
		},
	}
}

// SimulationServiceDesc describes the service for grpc.Server registration.
var SimulationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", newEmpty, SimulationServiceServer.GetStatus),
		unary("GetSnapshot", newInt32, SimulationServiceServer.GetSnapshot),
		unary("GetHistory", newStruct, SimulationServiceServer.GetHistory),
		unary("GetSummary", newEmpty, SimulationServiceServer.GetSummary),
		unary("GetTopology", newEmpty, SimulationServiceServer.GetTopology),
		unary("MoveSite", newStruct, SimulationServiceServer.MoveSite),
		unary("Pause", newEmpty, SimulationServiceServer.Pause),
		unary("Resume", newEmpty, SimulationServiceServer.Resume),
		unary("Stop", newEmpty, SimulationServiceServer.Stop),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sewersim/v1/simulation.proto",
}

// RegisterSimulationServiceServer registers srv on s.
func RegisterSimulationServiceServer(s grpc.ServiceRegistrar, srv SimulationServiceServer) {
	s.RegisterService(&SimulationServiceDesc, srv)
}

// SimulationService implements SimulationServiceServer on top of a run.
type SimulationService struct {
	sim Simulation
	log logging.Logger
}

// NewSimulationService wires the service to a run.
func NewSimulationService(s Simulation, log logging.Logger) *SimulationService {
	if log == nil {
		log = logging.Noop()
	}
	return &SimulationService{sim: s, log: log}
}

func (s *SimulationService) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

func (s *SimulationService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(StatusView(s.sim))
}

func (s *SimulationService) GetSnapshot(ctx context.Context, req *wrapperspb.Int32Value) (*structpb.Struct, error) {
	hour := int(req.GetValue())
	if hour < 0 {
		return nil, ToStatusError(fmt.Errorf("%w: hour must be >= 0", ErrInvalidRequest))
	}
	_, span := StartChildSpan(ctx, "SimulationService.GetSnapshot", "hour", fmt.Sprint(hour))
	defer span.End()

	var (
		snap *core.HourSnapshot
		err  error
	)
	if hour == 0 {
		snap, err = s.sim.Latest()
	} else {
		snap, err = s.sim.SnapshotAt(hour)
	}
	if err != nil {
		return nil, ToStatusError(err)
	}
	return toStruct(SnapshotView(snap))
}

func (s *SimulationService) GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	from, err := intField(req, "from")
	if err != nil {
		return nil, ToStatusError(err)
	}
	to, err := intField(req, "to")
	if err != nil {
		return nil, ToStatusError(err)
	}
	_, span := StartChildSpan(ctx, "SimulationService.GetHistory", "", "",
		attribute.Int("from", from), attribute.Int("to", to))
	defer span.End()

	list, err := structpb.NewList(HistoryView(s.sim.History(from, to)))
	if err != nil {
		return nil, ToStatusError(err)
	}
	return list, nil
}

func (s *SimulationService) GetSummary(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(SummaryView(s.sim.Summary()))
}

func (s *SimulationService) GetTopology(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(TopologyView(s.sim.Topology()))
}

func (s *SimulationService) MoveSite(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	id := strings.TrimSpace(fields["id"].GetStringValue())
	if id == "" {
		return nil, ToStatusError(fmt.Errorf("%w: id is required", ErrInvalidRequest))
	}
	lon, lonOK := numberField(fields, "lon")
	lat, latOK := numberField(fields, "lat")
	if !lonOK || !latOK {
		return nil, ToStatusError(fmt.Errorf("%w: lon and lat are required", ErrInvalidRequest))
	}

	ctx, span := StartChildSpan(ctx, "SimulationService.MoveSite", "site", id)
	defer span.End()

	site, err := s.sim.MoveSite(ctx, id, orb.Point{lon, lat})
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	s.logger(ctx).Info(ctx, "site relocated via API", logging.String("site_id", id))
	return toStruct(SiteView(site))
}

func (s *SimulationService) Pause(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.control(ctx, "pause", s.sim.Pause)
}

func (s *SimulationService) Resume(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.control(ctx, "resume", s.sim.Resume)
}

func (s *SimulationService) Stop(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.control(ctx, "stop", s.sim.Stop)
}

func (s *SimulationService) control(ctx context.Context, action string, fn func() error) (*structpb.Struct, error) {
	if err := fn(); err != nil {
		return nil, ToStatusError(err)
	}
	s.logger(ctx).Info(ctx, "run control applied", logging.String("action", action))
	return toStruct(StatusView(s.sim))
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return st, nil
}

func numberField(fields map[string]*structpb.Value, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(n.NumberValue) {
		return 0, false
	}
	return n.NumberValue, true
}

func intField(req *structpb.Struct, key string) (int, error) {
	v, ok := numberField(req.GetFields(), key)
	if !ok {
		if _, present := req.GetFields()[key]; present {
			return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, key)
		}
		return 0, nil
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidRequest, key)
	}
	return int(v), nil
}

// SimulationClient is a thin client for SimulationService.
type SimulationClient struct {
	cc grpc.ClientConnInterface
}

// NewSimulationClient wraps a client connection.
func NewSimulationClient(cc grpc.ClientConnInterface) *SimulationClient {
	return &SimulationClient{cc: cc}
}

func invoke[Resp proto.Message](ctx context.Context, cc grpc.ClientConnInterface, method string, in proto.Message, out Resp, opts ...grpc.CallOption) (Resp, error) {
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		var zero Resp
		return zero, err
	}
	return out, nil
}

func (c *SimulationClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "GetStatus", newEmpty(), newStruct(), opts...)
}

func (c *SimulationClient) GetSnapshot(ctx context.Context, hour int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "GetSnapshot", wrapperspb.Int32(int32(hour)), newStruct(), opts...)
}

func (c *SimulationClient) GetHistory(ctx context.Context, from, to int, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	in, err := structpb.NewStruct(map[string]any{"from": from, "to": to})
	if err != nil {
		return nil, err
	}
	return invoke(ctx, c.cc, "GetHistory", in, new(structpb.ListValue), opts...)
}

func (c *SimulationClient) GetSummary(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "GetSummary", newEmpty(), newStruct(), opts...)
}

func (c *SimulationClient) GetTopology(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "GetTopology", newEmpty(), newStruct(), opts...)
}

func (c *SimulationClient) MoveSite(ctx context.Context, id string, loc orb.Point, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"id": id, "lon": loc.Lon(), "lat": loc.Lat()})
	if err != nil {
		return nil, err
	}
	return invoke(ctx, c.cc, "MoveSite", in, newStruct(), opts...)
}

func (c *SimulationClient) Pause(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "Pause", newEmpty(), newStruct(), opts...)
}

func (c *SimulationClient) Resume(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "Resume", newEmpty(), newStruct(), opts...)
}

func (c *SimulationClient) Stop(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "Stop", newEmpty(), newStruct(), opts...)
}
