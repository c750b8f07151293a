package datastream

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap/decode"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap/filter"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/testutil"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/timeutil"
)

type harness struct {
	t      *testing.T
	client *feed.MockClient
	engine *Engine
	reg    *prometheus.Registry
}

// connected returns an engine that has consumed raw frame 1 during connect.
func connected(t *testing.T, cfg Config, names ...string) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	cfg.Metrics = m
	if cfg.Address == "" {
		cfg.Address = "localhost:801"
	}
	h := &harness{t: t, client: feed.NewMockClient(100), reg: reg}
	h.engine = New(h.client, cfg)
	h.client.Push(testutil.RawFrame(1, names...))
	require.NoError(t, h.engine.Connect(context.Background()))
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

// next pushes raw and returns the frame a NewFrame reader receives for it.
func (h *harness) next(raw feed.RawFrame) mocap.Frame {
	h.t.Helper()
	var f mocap.Frame
	var err error
	done := testutil.Go(func() { f, err = h.engine.NewFrame(context.Background()) })
	testutil.AssertBlocks(h.t, done, 20*time.Millisecond)
	h.client.Push(raw)
	require.True(h.t, testutil.AssertReturns(h.t, done, testutil.ReturnWindow))
	require.NoError(h.t, err)
	return f
}

func (h *harness) metric(name string) float64 {
	h.t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(h.t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
		return sum
	}
	return 0
}

func TestConnectPrimesFirstFrame(t *testing.T) {
	h := connected(t, Config{}, "A", "B")

	assert.True(t, h.engine.Connected())
	assert.Equal(t, 100.0, h.engine.FrameRate())

	f, err := h.engine.LatestFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Number)
	assert.Equal(t, []string{"A", "B"}, f.Names())
	assert.Equal(t, 100.0, f.FrameRate)

	opts := h.client.Options()
	assert.True(t, opts.SegmentData)
	assert.Equal(t, 1, opts.BufferSize)
	assert.Equal(t, feed.ZUp, opts.AxisMapping)
	assert.Equal(t, "localhost:801", h.client.Address())
}

func TestConnectIsIdempotent(t *testing.T) {
	h := connected(t, Config{}, "A")
	require.NoError(t, h.engine.Connect(context.Background()))
	c, _, _ := h.client.Calls()
	assert.Equal(t, 1, c)
}

func TestConnectFailure(t *testing.T) {
	m := feed.NewMockClient(100)
	refused := errors.New("connection refused")
	m.FailConnect(refused)
	e := New(m, Config{Address: "nowhere:801"})

	err := e.Connect(context.Background())
	assert.ErrorIs(t, err, refused)
	assert.False(t, e.Connected())
	assert.True(t, math.IsNaN(e.FrameRate()))

	_, _, fetches := m.Calls()
	assert.Zero(t, fetches, "no acquisition loop may start after a failed connect")

	_, err = e.LatestFrame(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, e.Disconnect())
}

func TestConnectCancelledBeforeFirstFrame(t *testing.T) {
	m := feed.NewMockClient(100)
	e := New(m, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := e.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, e.Connected())
	assert.False(t, m.Connected())
}

func TestLatestFrameIsIdempotent(t *testing.T) {
	h := connected(t, Config{}, "A", "B")
	ctx := context.Background()

	first, err := h.engine.LatestFrame(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := h.engine.LatestFrame(ctx)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again, cmpopts.EquateNaNs()); diff != "" {
			t.Fatalf("LatestFrame changed without a publish (-first +again):\n%s", diff)
		}
	}
}

func TestNewFrameFreshness(t *testing.T) {
	h := connected(t, Config{}, "A")
	ctx := context.Background()

	for n := uint64(2); n <= 4; n++ {
		f := h.next(testutil.RawFrame(n, "A"))
		assert.Equal(t, n, f.Number)
	}

	// With no further publish the next call must block.
	done := testutil.Go(func() { _, _ = h.engine.NewFrame(ctx) })
	testutil.AssertBlocks(t, done, testutil.BlockWindow)
	require.NoError(t, h.engine.Disconnect())
	testutil.AssertReturns(t, done, testutil.ReturnWindow)
}

func TestNewFrameSkipsAlreadyCachedFrame(t *testing.T) {
	h := connected(t, Config{}, "A")
	ctx := context.Background()

	// Frame 2 is already cached when NewFrame is called.
	h.client.Push(testutil.RawFrame(2, "A"))
	testutil.Eventually(t, time.Second, func() bool {
		f, err := h.engine.LatestFrame(ctx)
		return err == nil && f.Number == 2
	})

	var f mocap.Frame
	done := testutil.Go(func() { f, _ = h.engine.NewFrame(ctx) })
	testutil.AssertBlocks(t, done, testutil.BlockWindow)
	h.client.Push(testutil.RawFrame(3, "A"))
	testutil.AssertReturns(t, done, testutil.ReturnWindow)
	assert.Equal(t, uint64(3), f.Number)
}

func TestUnreadFrame(t *testing.T) {
	h := connected(t, Config{}, "A")
	ctx := context.Background()

	// The priming read consumed frame 1.
	var f mocap.Frame
	done := testutil.Go(func() { f, _ = h.engine.UnreadFrame(ctx) })
	testutil.AssertBlocks(t, done, testutil.BlockWindow)
	h.client.Push(testutil.RawFrame(2, "A"))
	testutil.AssertReturns(t, done, testutil.ReturnWindow)
	assert.Equal(t, uint64(2), f.Number)

	h.client.Push(testutil.RawFrame(3, "A"))
	testutil.Eventually(t, time.Second, func() bool {
		g, err := h.engine.LatestFrame(ctx)
		return err == nil && g.Number == 3
	})
	// LatestFrame marked frame 3 as read.
	done = testutil.Go(func() { _, _ = h.engine.UnreadFrame(ctx) })
	testutil.AssertBlocks(t, done, testutil.BlockWindow)
	h.client.Push(testutil.RawFrame(4, "A"))
	testutil.AssertReturns(t, done, testutil.ReturnWindow)
}

func TestConcurrentUnreadReadersShareFrame(t *testing.T) {
	h := connected(t, Config{}, "A", "B", "C")
	ctx := context.Background()

	const readers = 10
	frames := make([]mocap.Frame, readers)
	errs := make([]error, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frames[i], errs[i] = h.engine.UnreadFrame(ctx)
		}(i)
	}
	all := testutil.Go(wg.Wait)
	testutil.AssertBlocks(t, all, testutil.BlockWindow)

	raw := &feed.Snapshot{Number: 2, Subjects: []feed.Subject{
		feed.RigidSubject("A", [9]float64{0, -1, 0, 1, 0, 0, 0, 0, 1}, [3]float64{0.5, 1.5, 2.5}),
		feed.RigidSubject("B", testutil.Identity, [3]float64{3, 2, 1}),
		testutil.HiddenSubject("C"),
	}}
	h.client.Push(raw)
	require.True(t, testutil.AssertReturns(t, all, testutil.ReturnWindow))

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, uint64(2), frames[i].Number)
		if diff := cmp.Diff(frames[0], frames[i], cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("reader %d saw a different frame (-0 +%d):\n%s", i, i, diff)
		}
	}
	assert.Equal(t, mocap.Rotation{0, -1, 0, 1, 0, 0, 0, 0, 1}, frames[0].Objects[0].Rotation)

	// The frame is now read; any further unread call waits for the next publish.
	done := testutil.Go(func() { _, _ = h.engine.UnreadFrame(ctx) })
	testutil.AssertBlocks(t, done, testutil.BlockWindow)
	h.client.Push(testutil.RawFrame(3, "A"))
	testutil.AssertReturns(t, done, testutil.ReturnWindow)
}

func TestOcclusionThroughEngine(t *testing.T) {
	h := connected(t, Config{}, "A")
	raw := &feed.Snapshot{Number: 2, Subjects: []feed.Subject{
		feed.RigidSubject("zeroRot", [9]float64{}, [3]float64{1, 2, 3}),
		feed.RigidSubject("zeroPos", [9]float64{1, 0, 0, 0, 0, 0, 0, 0, 0}, [3]float64{}),
		feed.RigidSubject("seen", testutil.Identity, [3]float64{1, 2, 3}),
	}}
	f := h.next(raw)
	require.Len(t, f.Objects, 3)
	assert.True(t, f.Objects[0].Occluded)
	assert.True(t, f.Objects[0].Rotation.IsNaN())
	assert.True(t, f.Objects[1].Occluded)
	assert.True(t, f.Objects[1].Position.IsNaN())
	assert.False(t, f.Objects[2].Occluded)

	h.engine.SetOcclusionFilter(true)
	f = h.next(raw)
	assert.Equal(t, []string{"seen"}, f.Names())
}

func TestAllowListSynthesis(t *testing.T) {
	h := connected(t, Config{Filter: filter.Config{AllowListActive: true, AllowList: []string{"A", "B"}}}, "A")

	f, err := h.engine.LatestFrame(context.Background())
	require.NoError(t, err)
	require.Len(t, f.Objects, 2)
	assert.Equal(t, "A", f.Objects[0].Name)
	assert.False(t, f.Objects[0].Occluded)
	b := f.Objects[1]
	assert.Equal(t, "B", b.Name)
	assert.True(t, b.Occluded)
	assert.True(t, b.Rotation.IsNaN())
	assert.True(t, b.Position.IsNaN())
}

func TestReconfigureBlocksStaleFrame(t *testing.T) {
	ctx := context.Background()
	for _, mode := range []ReadMode{ReadLatest, ReadUnread, ReadNew} {
		t.Run(mode.String(), func(t *testing.T) {
			h := connected(t, Config{}, "A", "B")

			h.engine.EnableAllowList("B")

			var f mocap.Frame
			var err error
			done := testutil.Go(func() { f, err = h.engine.Read(ctx, mode) })
			testutil.AssertBlocks(t, done, testutil.BlockWindow)

			h.client.Push(testutil.RawFrame(2, "A", "B"))
			require.True(t, testutil.AssertReturns(t, done, testutil.ReturnWindow))
			require.NoError(t, err)
			assert.Equal(t, uint64(2), f.Number)
			assert.Equal(t, []string{"B"}, f.Names())
		})
	}
}

func TestFilterAccessors(t *testing.T) {
	h := connected(t, Config{}, "A", "B", "C")

	h.engine.EnableAllowList("C", "A")
	got := h.engine.Filters()
	assert.True(t, got.AllowListActive)
	assert.Equal(t, []string{"C", "A"}, got.AllowList)
	assert.Equal(t, []string{"C", "A"}, h.next(testutil.RawFrame(2, "A", "B", "C")).Names())

	h.engine.DisableAllowList()
	assert.False(t, h.engine.Filters().AllowListActive)
	assert.Equal(t, []string{"A", "B", "C"}, h.next(testutil.RawFrame(3, "A", "B", "C")).Names())

	got.AllowList[0] = "mutated"
	assert.Equal(t, "C", h.engine.Filters().AllowList[0])
}

func TestDisconnectReleasesReaders(t *testing.T) {
	h := connected(t, Config{}, "A")
	ctx := context.Background()

	var err error
	done := testutil.Go(func() { _, err = h.engine.NewFrame(ctx) })
	testutil.AssertBlocks(t, done, testutil.BlockWindow)

	require.NoError(t, h.engine.Disconnect())
	testutil.AssertReturns(t, done, testutil.ReturnWindow)
	assert.ErrorIs(t, err, ErrClosed)

	assert.False(t, h.engine.Connected())
	assert.False(t, h.client.Connected())
	_, err = h.engine.LatestFrame(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, h.engine.Disconnect())
	_, d, _ := h.client.Calls()
	assert.Equal(t, 1, d)
}

func TestReconnect(t *testing.T) {
	h := connected(t, Config{}, "A")
	require.NoError(t, h.engine.Disconnect())

	h.client.Push(testutil.RawFrame(10, "B"))
	require.NoError(t, h.engine.Connect(context.Background()))
	f, err := h.engine.LatestFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), f.Number)
	assert.Equal(t, []string{"B"}, f.Names())
}

func TestSegmentCountIsFatal(t *testing.T) {
	h := connected(t, Config{}, "A")
	ctx := context.Background()

	h.client.Push(&feed.Snapshot{Number: 2, Subjects: []feed.Subject{
		{Name: "Arm", Segments: []feed.Segment{{Name: "upper"}, {Name: "lower"}}},
	}})
	testutil.Eventually(t, time.Second, func() bool { return h.engine.Err() != nil })
	assert.ErrorIs(t, h.engine.Err(), decode.ErrSegmentCount)

	// The last good frame stays readable until a blocking read clears it.
	f, err := h.engine.LatestFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Number)

	_, err = h.engine.NewFrame(ctx)
	assert.ErrorIs(t, err, decode.ErrSegmentCount)
	_, err = h.engine.LatestFrame(ctx)
	assert.ErrorIs(t, err, decode.ErrSegmentCount)

	require.NoError(t, h.engine.Disconnect())
	assert.False(t, h.client.Connected())
}

func TestFetchErrorPausesAndContinues(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	h := connected(t, Config{Clock: clock, ErrorPause: 10 * time.Millisecond}, "A")
	ctx := context.Background()

	h.client.PushError(feed.ErrNoFrame)
	testutil.Eventually(t, time.Second, func() bool { return clock.Pending() == 1 })

	var f mocap.Frame
	done := testutil.Go(func() { f, _ = h.engine.NewFrame(ctx) })
	h.client.Push(testutil.RawFrame(2, "A"))
	testutil.AssertBlocks(t, done, testutil.BlockWindow)

	clock.Advance(10 * time.Millisecond)
	require.True(t, testutil.AssertReturns(t, done, testutil.ReturnWindow))
	assert.Equal(t, uint64(2), f.Number)
	assert.Equal(t, clock.Now(), f.Timestamp)
	assert.Equal(t, 1.0, h.metric("mocap_datastream_fetch_errors_total"))
}

func TestFrameRateTracksFeed(t *testing.T) {
	h := connected(t, Config{}, "A")
	h.client.SetFrameRate(250)
	f := h.next(testutil.RawFrame(2, "A"))
	assert.Equal(t, 250.0, f.FrameRate)
	assert.Equal(t, 250.0, h.engine.FrameRate())
}

func TestEngineMetrics(t *testing.T) {
	h := connected(t, Config{}, "A")
	h.next(&feed.Snapshot{Number: 2, Subjects: []feed.Subject{
		feed.RigidSubject("A", testutil.Identity, [3]float64{1, 1, 1}),
		testutil.HiddenSubject("B"),
	}})

	assert.Equal(t, 2.0, h.metric("mocap_datastream_frames_published_total"))
	assert.Equal(t, 2.0, h.metric("mocap_datastream_objects"))
	assert.Equal(t, 1.0, h.metric("mocap_datastream_visible_objects"))
	assert.Equal(t, 100.0, h.metric("mocap_datastream_frame_rate_hz"))
	// The priming read inside Connect is not counted.
	assert.Equal(t, 1.0, h.metric("mocap_datastream_reads_total"))
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
