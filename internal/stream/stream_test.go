package stream

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/datastream"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/wire"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/testutil"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/timeutil"
)

// fakeSource hands out queued frames to ReadNew and ReadUnread readers and a
// settable frame to ReadLatest readers.
type fakeSource struct {
	frames chan mocap.Frame
	rate   float64
	err    error

	mu     sync.Mutex
	latest mocap.Frame
	modes  []datastream.ReadMode
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan mocap.Frame, 16), rate: 100}
}

func (s *fakeSource) setLatest(f mocap.Frame) {
	s.mu.Lock()
	s.latest = f
	s.mu.Unlock()
}

func (s *fakeSource) Read(ctx context.Context, mode datastream.ReadMode) (mocap.Frame, error) {
	s.mu.Lock()
	s.modes = append(s.modes, mode)
	latest := s.latest
	s.mu.Unlock()
	if s.err != nil {
		return mocap.Frame{}, s.err
	}
	if mode == datastream.ReadLatest {
		return latest, nil
	}
	select {
	case f := <-s.frames:
		return f, nil
	case <-ctx.Done():
		return mocap.Frame{}, ctx.Err()
	}
}

func (s *fakeSource) FrameRate() float64 { return s.rate }

func frame(n uint64, names ...string) mocap.Frame {
	f := mocap.Frame{Number: n, FrameRate: 100, Timestamp: time.Unix(1700000000, 0).UTC()}
	for i, name := range names {
		f.Objects = append(f.Objects, mocap.Object{
			Name:     name,
			Rotation: mocap.IdentityRotation(),
			Position: mocap.Position{float64(i + 1), 0, 0},
		})
	}
	return f
}

func serve(t *testing.T, src Source) (*Server, *Client) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(src, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	c, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		cancel()
		assert.NoError(t, <-done)
	})
	return srv, c
}

var errStop = errors.New("stop")

func TestStreamNewFrames(t *testing.T) {
	src := newFakeSource()
	srv, c := serve(t, src)
	for n := uint64(1); n <= 3; n++ {
		src.frames <- frame(n, "A", "B")
	}

	var got []mocap.Frame
	err := c.Stream(context.Background(), Request{Mode: datastream.ReadNew, Objects: []string{"B", "Missing"}}, func(f mocap.Frame) error {
		got = append(got, f)
		if len(got) == 3 {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	require.Len(t, got, 3)

	for i, f := range got {
		assert.Equal(t, uint64(i+1), f.Number)
		require.Len(t, f.Objects, 2)
		assert.Equal(t, "B", f.Objects[0].Name)
		assert.Equal(t, mocap.Position{2, 0, 0}, f.Objects[0].Position)
		assert.Equal(t, "Missing", f.Objects[1].Name)
		assert.True(t, f.Objects[1].Occluded)
	}
	testutil.Eventually(t, time.Second, func() bool { return srv.Stats().Clients == 0 })
	assert.Equal(t, uint64(3), srv.Stats().FramesSent)

	src.mu.Lock()
	defer src.mu.Unlock()
	for _, m := range src.modes {
		assert.Equal(t, datastream.ReadNew, m)
	}
}

func TestStreamInvalidMode(t *testing.T) {
	_, c := serve(t, newFakeSource())
	cs, err := c.conn.NewStream(context.Background(), &serviceDesc.Streams[0], StreamFramesMethod)
	require.NoError(t, err)
	req, err := structpb.NewStruct(map[string]any{"mode": "oldest"})
	require.NoError(t, err)
	require.NoError(t, cs.SendMsg(req))
	require.NoError(t, cs.CloseSend())

	err = cs.RecvMsg(new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestStreamEngineClosed(t *testing.T) {
	src := newFakeSource()
	src.err = datastream.ErrClosed
	_, c := serve(t, src)

	err := c.Stream(context.Background(), Request{Mode: datastream.ReadUnread}, func(mocap.Frame) error {
		t.Error("no frame expected")
		return nil
	})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

// serverStream captures frames sent by StreamFrames without a network.
type serverStream struct {
	ctx  context.Context
	sent chan *structpb.Struct
}

func (s *serverStream) Send(m *structpb.Struct) error {
	s.sent <- m
	return nil
}
func (s *serverStream) Context() context.Context     { return s.ctx }
func (s *serverStream) SetHeader(metadata.MD) error  { return nil }
func (s *serverStream) SendHeader(metadata.MD) error { return nil }
func (s *serverStream) SetTrailer(metadata.MD)       {}
func (s *serverStream) SendMsg(any) error            { return nil }
func (s *serverStream) RecvMsg(any) error            { return nil }

func TestStreamLatestSendsOnlyChangedFrames(t *testing.T) {
	src := newFakeSource()
	src.setLatest(frame(1, "A"))
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	srv := NewServer(src, clock)

	ctx, cancel := context.WithCancel(context.Background())
	stream := &serverStream{ctx: ctx, sent: make(chan *structpb.Struct, 4)}
	done := testutil.Go(func() {
		err := srv.StreamFrames(Request{Mode: datastream.ReadLatest}.toStruct(), stream)
		assert.Equal(t, codes.Canceled, status.Code(err))
	})

	first := <-stream.sent
	f, err := wire.FrameFromStruct(first)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Number)

	// Same frame number: the server waits one frame period instead of resending.
	testutil.Eventually(t, time.Second, func() bool { return clock.Pending() == 1 })
	clock.Advance(10 * time.Millisecond)
	testutil.Eventually(t, time.Second, func() bool { return clock.Pending() == 1 })
	assert.Empty(t, stream.sent)

	src.setLatest(frame(2, "A"))
	clock.Advance(10 * time.Millisecond)
	second := <-stream.sent
	f, err = wire.FrameFromStruct(second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Number)

	cancel()
	testutil.AssertReturns(t, done, testutil.ReturnWindow)
	assert.Equal(t, 0, srv.Stats().Clients)
}

func TestFramePeriod(t *testing.T) {
	src := newFakeSource()
	srv := NewServer(src, nil)
	assert.Equal(t, 10*time.Millisecond, srv.framePeriod())

	src.rate = 250
	assert.Equal(t, 4*time.Millisecond, srv.framePeriod())

	src.rate = 0
	assert.Equal(t, repollInterval, srv.framePeriod())
}

func TestRequestStruct(t *testing.T) {
	in := Request{Mode: datastream.ReadUnread, Objects: []string{"Wand", "Head"}}
	out, err := requestFromStruct(in.toStruct())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = requestFromStruct(&structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, Request{Mode: datastream.ReadNew}, out)

	bad, err := structpb.NewStruct(map[string]any{"objects": []any{1.0}})
	require.NoError(t, err)
	_, err = requestFromStruct(bad)
	assert.Error(t, err)
}
