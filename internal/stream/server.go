package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/datastream"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/wire"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/monitoring"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/timeutil"
)

var logf = monitoring.Tagged("stream")

// Source is the read side of the acquisition engine.
type Source interface {
	Read(ctx context.Context, mode datastream.ReadMode) (mocap.Frame, error)
	FrameRate() float64
}

// repollInterval paces latest-mode polling when the feed reports no rate.
const repollInterval = 10 * time.Millisecond

const (
	maxMsgSize    = 16 * 1024 * 1024
	shutdownGrace = 2 * time.Second
)

// Server implements FrameService on top of a Source.
type Server struct {
	src   Source
	clock timeutil.Clock

	clientsMu sync.Mutex
	clients   map[string]Request
	sent      atomic.Uint64
}

var _ FrameServiceServer = (*Server)(nil)

// NewServer creates a server reading from src. A nil clock uses the real one.
func NewServer(src Source, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		src:     src,
		clock:   clock,
		clients: make(map[string]Request),
	}
}

// Stats is a point-in-time view of the server.
type Stats struct {
	Clients    int
	FramesSent uint64
}

// Stats returns the number of connected clients and frames sent so far.
func (s *Server) Stats() Stats {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return Stats{Clients: len(s.clients), FramesSent: s.sent.Load()}
}

func (s *Server) addClient(req Request) string {
	id := uuid.NewString()
	s.clientsMu.Lock()
	s.clients[id] = req
	n := len(s.clients)
	s.clientsMu.Unlock()
	logf("client connected: %s mode=%s objects=%v (total: %d)", id, req.Mode, req.Objects, n)
	return id
}

func (s *Server) removeClient(id string) {
	s.clientsMu.Lock()
	delete(s.clients, id)
	n := len(s.clients)
	s.clientsMu.Unlock()
	logf("client disconnected: %s (remaining: %d)", id, n)
}

// StreamFrames sends frames to the caller until it goes away or the engine
// stops.
func (s *Server) StreamFrames(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	req, err := requestFromStruct(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	id := s.addClient(req)
	defer s.removeClient(id)

	ctx := stream.Context()
	var (
		last uint64
		sent bool
	)
	for {
		f, err := s.src.Read(ctx, req.Mode)
		if err != nil {
			return readStatus(ctx, err)
		}
		if req.Mode == datastream.ReadLatest && sent && f.Number == last {
			select {
			case <-ctx.Done():
				return status.FromContextError(ctx.Err()).Err()
			case <-s.clock.After(s.framePeriod()):
			}
			continue
		}
		if len(req.Objects) > 0 {
			f.Objects = f.ObjectsByName(req.Objects...)
		}
		if err := stream.Send(wire.FrameToStruct(f)); err != nil {
			logf("send to %s: %v", id, err)
			return err
		}
		s.sent.Add(1)
		last, sent = f.Number, true
	}
}

func (s *Server) framePeriod() time.Duration {
	rate := s.src.FrameRate()
	if math.IsNaN(rate) || rate <= 0 {
		return repollInterval
	}
	return time.Duration(float64(time.Second) / rate)
}

func readStatus(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return status.FromContextError(ctx.Err()).Err()
	case errors.Is(err, datastream.ErrNotConnected), errors.Is(err, datastream.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// ListenAndServe serves FrameService on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("stream: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves FrameService on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterService(gs, s)

	errCh := make(chan error, 1)
	go func() {
		logf("gRPC server listening on %s", lis.Addr())
		errCh <- gs.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		// Streams blocked on a read only end when the engine publishes.
		select {
		case <-stopped:
		case <-time.After(shutdownGrace):
			gs.Stop()
			<-stopped
		}
		<-errCh
		logf("gRPC server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
