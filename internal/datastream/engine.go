// Package datastream is the acquisition engine: one background goroutine
// pulls frames from a feed client, decodes and filters them, and publishes
// the result into a single-slot cache that any number of readers share.
//
// Readers choose one of three freshness contracts:
//
//   - LatestFrame returns whatever is cached, waiting only for the first
//     publish after connect or after a filter change.
//   - UnreadFrame returns the cached frame unless it was already read, in
//     which case it waits for the next publish.
//   - NewFrame always waits for a publish that happens after the call.
//
// Only one frame is retained. A frame not read before the next publish is
// lost.
package datastream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap/decode"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap/filter"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/monitoring"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/timeutil"
)

var (
	// ErrNotConnected is returned by reads while the engine is disconnected.
	ErrNotConnected = errors.New("datastream: not connected")
	// ErrClosed releases readers that were waiting when Disconnect ran.
	ErrClosed = errors.New("datastream: engine disconnected")
)

// DefaultErrorPause is how long the loop waits after a failed fetch before
// asking the feed again.
const DefaultErrorPause = 10 * time.Millisecond

var logf = monitoring.Tagged("datastream")

// Config configures an Engine.
type Config struct {
	Address string
	Feed    feed.Options
	Filter  filter.Config
	// ErrorPause defaults to DefaultErrorPause.
	ErrorPause time.Duration
	// Clock stamps frames and paces retries. Defaults to the real clock.
	Clock   timeutil.Clock
	Metrics *Metrics
}

// Engine owns a feed client and the acquisition loop reading from it.
// It is safe for concurrent use.
type Engine struct {
	client  feed.Client
	address string
	opts    feed.Options
	pause   time.Duration
	clock   timeutil.Clock
	metrics *Metrics

	// mu serialises Connect and Disconnect.
	mu        sync.Mutex
	connected atomic.Bool
	kill      atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	cfgMu  sync.Mutex
	filter filter.Config

	cache    *cache
	rate     atomic.Uint64
	fatalMu  sync.Mutex
	fatal    error
	fetchLog monitoring.Limiter
}

// New returns a disconnected Engine reading from client.
func New(client feed.Client, cfg Config) *Engine {
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = DefaultErrorPause
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Feed.BufferSize <= 0 {
		cfg.Feed.BufferSize = 1
	}
	if cfg.Feed.AxisMapping == (feed.AxisMapping{}) {
		cfg.Feed.AxisMapping = feed.ZUp
	}
	e := &Engine{
		client:   client,
		address:  cfg.Address,
		opts:     cfg.Feed,
		pause:    cfg.ErrorPause,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		filter:   cfg.Filter.Clone(),
		cache:    newCache(),
		fetchLog: monitoring.Limiter{Interval: time.Second},
	}
	e.rate.Store(math.Float64bits(math.NaN()))
	return e
}

// Connect opens the feed session, starts the acquisition loop and waits for
// the first frame. Calling Connect while connected does nothing. A connect
// failure is returned before any goroutine is started.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected.Load() {
		return nil
	}

	opts := e.opts
	opts.SegmentData = true
	if err := e.client.Connect(ctx, e.address, opts); err != nil {
		return fmt.Errorf("connect to %s: %w", e.address, err)
	}

	e.cache.reset()
	e.setFatal(nil)
	e.kill.Store(false)
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.connected.Store(true)
	go e.run(loopCtx, e.done)

	if _, err := e.cache.read(ctx, ReadNew); err != nil {
		if derr := e.disconnectLocked(); derr != nil {
			logf("disconnect after failed first frame: %v", derr)
		}
		return fmt.Errorf("waiting for first frame: %w", err)
	}
	logf("connected to %s (%s, %.1f Hz)", e.address, opts.StreamMode, e.FrameRate())
	return nil
}

// Disconnect stops the acquisition loop, waits for it to exit and closes the
// feed session. Readers blocked at the time return ErrClosed. Calling
// Disconnect while disconnected does nothing.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected.Load() {
		return nil
	}
	return e.disconnectLocked()
}

// Close is Disconnect; it is what owners defer.
func (e *Engine) Close() error { return e.Disconnect() }

func (e *Engine) disconnectLocked() error {
	e.kill.Store(true)
	e.cancel()
	<-e.done
	e.connected.Store(false)
	e.cache.fail(ErrClosed)
	if err := e.client.Disconnect(); err != nil {
		return fmt.Errorf("disconnect from %s: %w", e.address, err)
	}
	logf("disconnected from %s", e.address)
	return nil
}

// Connected reports whether the acquisition loop is running or stopped on a
// fatal error without Disconnect having been called yet.
func (e *Engine) Connected() bool { return e.connected.Load() }

// LatestFrame returns the currently cached frame.
func (e *Engine) LatestFrame(ctx context.Context) (mocap.Frame, error) {
	return e.Read(ctx, ReadLatest)
}

// UnreadFrame returns the cached frame if no read has consumed it yet, and
// otherwise waits for the next one.
func (e *Engine) UnreadFrame(ctx context.Context) (mocap.Frame, error) {
	return e.Read(ctx, ReadUnread)
}

// NewFrame waits for the next published frame.
func (e *Engine) NewFrame(ctx context.Context) (mocap.Frame, error) {
	return e.Read(ctx, ReadNew)
}

// Read performs a read with the given mode. The returned frame is a copy
// owned by the caller.
func (e *Engine) Read(ctx context.Context, mode ReadMode) (mocap.Frame, error) {
	if !e.connected.Load() {
		return mocap.Frame{}, ErrNotConnected
	}
	f, err := e.cache.read(ctx, mode)
	if err != nil {
		return mocap.Frame{}, err
	}
	e.metrics.read(mode)
	return f, nil
}

// FrameRate returns the rate last reported by the feed, or NaN if none was
// reported yet.
func (e *Engine) FrameRate() float64 {
	return math.Float64frombits(e.rate.Load())
}

// Err returns the error that stopped the acquisition loop, if any.
func (e *Engine) Err() error {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	return e.fatal
}

func (e *Engine) setFatal(err error) {
	e.fatalMu.Lock()
	e.fatal = err
	e.fatalMu.Unlock()
}

// Filters returns a copy of the active filter configuration.
func (e *Engine) Filters() filter.Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.filter.Clone()
}

// Configure replaces the filter configuration. Reads started after Configure
// returns never see a frame filtered under the previous configuration.
func (e *Engine) Configure(c filter.Config) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.filter = c.Clone()
	e.cache.invalidate()
	logf("filters changed: occlusion=%t allow_list=%t %v", c.OcclusionFilter, c.AllowListActive, c.AllowList)
}

// SetOcclusionFilter toggles dropping of occluded objects.
func (e *Engine) SetOcclusionFilter(on bool) {
	c := e.Filters()
	c.OcclusionFilter = on
	e.Configure(c)
}

// EnableAllowList restricts output to names, in that order.
func (e *Engine) EnableAllowList(names ...string) {
	c := e.Filters()
	c.AllowListActive = true
	c.AllowList = append([]string(nil), names...)
	e.Configure(c)
}

// DisableAllowList returns to feed order with every object.
func (e *Engine) DisableAllowList() {
	c := e.Filters()
	c.AllowListActive = false
	e.Configure(c)
}

// snapshot returns the filter configuration and its generation together.
func (e *Engine) snapshot() (filter.Config, uint64) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.filter, e.cache.generation()
}

func (e *Engine) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		raw, err := e.client.NextFrame(ctx)
		if e.kill.Load() {
			return
		}
		if err != nil {
			e.metrics.fetchFailed()
			e.fetchLog.Logf(e.clock.Now(), logf, "next frame: %v", err)
			select {
			case <-ctx.Done():
			case <-e.clock.After(e.pause):
			}
			continue
		}

		rate := e.client.FrameRate()
		e.rate.Store(math.Float64bits(rate))
		cfg, gen := e.snapshot()

		decoded, err := decode.Decode(raw)
		if err != nil {
			logf("stopping acquisition: %v", err)
			e.setFatal(err)
			e.cache.fail(err)
			return
		}
		frame := filter.Apply(cfg, decoded)
		frame.FrameRate = rate
		frame.Timestamp = e.clock.Now()

		if e.cache.publish(frame, gen) {
			e.metrics.framePublished(rate, len(frame.Objects), countVisible(frame))
		} else {
			e.metrics.frameDiscarded()
		}
		if e.kill.Load() {
			return
		}
	}
}

func countVisible(f mocap.Frame) int {
	n := 0
	for _, o := range f.Objects {
		if !o.Occluded {
			n++
		}
	}
	return n
}
