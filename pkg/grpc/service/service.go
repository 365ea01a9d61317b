package service

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/tinynvs/pkg/common/log"
	"github.com/KevoDB/tinynvs/pkg/stats"
	"github.com/KevoDB/tinynvs/pkg/store"
)

const serviceName = "tinynvs.v1.Store"

// Full method names of the store service
const (
	MethodSet               = "/" + serviceName + "/Set"
	MethodGet               = "/" + serviceName + "/Get"
	MethodDelete            = "/" + serviceName + "/Delete"
	MethodStats             = "/" + serviceName + "/Stats"
	MethodCheckWearLeveling = "/" + serviceName + "/CheckWearLeveling"
	MethodRotate            = "/" + serviceName + "/Rotate"
)

// StoreService is the server API of the store service
type StoreService interface {
	Set(context.Context, *SetRequest) (*SetResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
	CheckWearLeveling(context.Context, *CheckWearLevelingRequest) (*CheckWearLevelingResponse, error)
	Rotate(context.Context, *RotateRequest) (*RotateResponse, error)
}

// unary builds the handler for one method. Req is decoded with the
// registered codec before call runs.
func unary[Req any](method string, call func(StoreService, context.Context, *Req) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(StoreService)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(svc, ctx, req.(*Req))
		})
	}
}

// ServiceDesc describes the store service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StoreService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Set",
			Handler: unary(MethodSet, func(s StoreService, ctx context.Context, r *SetRequest) (interface{}, error) {
				return s.Set(ctx, r)
			}),
		},
		{
			MethodName: "Get",
			Handler: unary(MethodGet, func(s StoreService, ctx context.Context, r *GetRequest) (interface{}, error) {
				return s.Get(ctx, r)
			}),
		},
		{
			MethodName: "Delete",
			Handler: unary(MethodDelete, func(s StoreService, ctx context.Context, r *DeleteRequest) (interface{}, error) {
				return s.Delete(ctx, r)
			}),
		},
		{
			MethodName: "Stats",
			Handler: unary(MethodStats, func(s StoreService, ctx context.Context, r *StatsRequest) (interface{}, error) {
				return s.Stats(ctx, r)
			}),
		},
		{
			MethodName: "CheckWearLeveling",
			Handler: unary(MethodCheckWearLeveling, func(s StoreService, ctx context.Context, r *CheckWearLevelingRequest) (interface{}, error) {
				return s.CheckWearLeveling(ctx, r)
			}),
		},
		{
			MethodName: "Rotate",
			Handler: unary(MethodRotate, func(s StoreService, ctx context.Context, r *RotateRequest) (interface{}, error) {
				return s.Rotate(ctx, r)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tinynvs/v1/store",
}

// RegisterStoreService registers srv with s
func RegisterStoreService(s grpc.ServiceRegistrar, srv StoreService) {
	s.RegisterService(&ServiceDesc, srv)
}

// StoreServer serves a single store. The store has one owner, so every
// call holds mu for its whole duration.
type StoreServer struct {
	mu     sync.Mutex
	store  *store.Store
	logger log.Logger
}

var _ StoreService = (*StoreServer)(nil)

// NewStoreServer creates a StoreServer for st
func NewStoreServer(st *store.Store, logger log.Logger) *StoreServer {
	if logger == nil {
		logger = log.GetDefaultLogger().WithField("component", "rpc")
	}
	return &StoreServer{store: st, logger: logger}
}

// begin locks the store unless ctx is already done
func (s *StoreServer) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	s.mu.Lock()
	return nil
}

// Set stores a value
func (s *StoreServer) Set(ctx context.Context, req *SetRequest) (*SetResponse, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := s.store.Set(req.Key, req.Value); err != nil {
		s.logger.Debug("set %q failed: %v", req.Key, err)
		return nil, ToStatus(err)
	}
	return &SetResponse{}, nil
}

// Get retrieves a value
func (s *StoreServer) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	value, err := s.store.Value(req.Key)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &GetResponse{Value: value}, nil
}

// Delete removes a key
func (s *StoreServer) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := s.store.Delete(req.Key); err != nil {
		return nil, ToStatus(err)
	}
	return &DeleteResponse{}, nil
}

var reportedOps = []stats.OperationType{stats.OpSet, stats.OpGet, stats.OpDelete, stats.OpGC, stats.OpStaticWL}

// Stats reports the sector table and operation counts
func (s *StoreServer) Stats(ctx context.Context, _ *StatsRequest) (*StatsResponse, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	all := s.store.GetStats()
	resp := &StatsResponse{
		ActiveSector: uint32(s.store.ActiveSector()),
		WriteOffset:  s.store.WriteOffset(),
		SeqID:        s.store.SeqID(),
		Keys:         uint32(s.store.Len()),
	}
	if n, ok := all["rotations"].(int); ok {
		resp.Rotations = uint64(n)
	}
	for _, info := range s.store.Sectors() {
		resp.Sectors = append(resp.Sectors, &SectorStatus{
			Index:      uint32(info.Index),
			EraseCount: info.EraseCount,
			State:      info.State.String(),
			Active:     info.Active,
		})
	}
	for _, op := range reportedOps {
		if n, ok := all[string(op)+"_ops"].(uint64); ok {
			resp.Operations = append(resp.Operations, &OperationCount{Name: string(op), Count: n})
		}
	}
	return resp, nil
}

// CheckWearLeveling runs one static wear-leveling check
func (s *StoreServer) CheckWearLeveling(ctx context.Context, _ *CheckWearLevelingRequest) (*CheckWearLevelingResponse, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	reclaimed, err := s.store.CheckStaticWL()
	if err != nil {
		return nil, ToStatus(err)
	}
	return &CheckWearLevelingResponse{Reclaimed: reclaimed}, nil
}

// Rotate forces a garbage collection of the active sector
func (s *StoreServer) Rotate(ctx context.Context, _ *RotateRequest) (*RotateResponse, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := s.store.Rotate(); err != nil {
		s.logger.Warn("forced rotation failed: %v", err)
		return nil, ToStatus(err)
	}
	return &RotateResponse{
		ActiveSector: uint32(s.store.ActiveSector()),
		SeqID:        s.store.SeqID(),
	}, nil
}
