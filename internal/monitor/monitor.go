// Package monitor exposes the engine's state over HTTP for debugging: the
// latest frame, the active filters, a frame-rate chart, recorded
// trajectories and Prometheus metrics.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap/filter"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/monitoring"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/recorder"
	"github.com/prometheus/client_golang/prometheus"
)

var logf = monitoring.Tagged("monitor")

// DefaultSamples is how many published frames the frame-rate chart covers.
const DefaultSamples = 600

// Engine is the part of the acquisition engine the monitor reads and drives.
type Engine interface {
	LatestFrame(ctx context.Context) (mocap.Frame, error)
	NewFrame(ctx context.Context) (mocap.Frame, error)
	FrameRate() float64
	Connected() bool
	Err() error
	Filters() filter.Config
	Configure(filter.Config)
}

// Trajectories reads recorded object positions.
type Trajectories interface {
	LatestSession(ctx context.Context) (string, error)
	Trajectory(ctx context.Context, sessionID, object string, limit int) ([]recorder.TrajectoryPoint, error)
}

// Options configures a Monitor.
type Options struct {
	// Samples defaults to DefaultSamples.
	Samples int
	// Recorder backs trajectory.png. Without it the route answers 404.
	Recorder Trajectories
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Sample summarises one published frame.
type Sample struct {
	Number    uint64    `json:"number"`
	Time      time.Time `json:"time"`
	FrameRate float64   `json:"frame_rate"`
	Objects   int       `json:"objects"`
	Visible   int       `json:"visible"`
}

// Monitor samples published frames and serves the debug routes.
type Monitor struct {
	engine Engine
	opts   Options

	mu      sync.Mutex
	samples []Sample
	next    int
	full    bool
}

// New creates a Monitor for engine.
func New(engine Engine, opts Options) *Monitor {
	if opts.Samples <= 0 {
		opts.Samples = DefaultSamples
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Monitor{
		engine:  engine,
		opts:    opts,
		samples: make([]Sample, opts.Samples),
	}
}

// Run samples every newly published frame until ctx is done. It returns nil
// when ctx ends and the read error otherwise.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		f, err := m.engine.NewFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logf("sampling stopped: %v", err)
			return err
		}
		m.Observe(f)
	}
}

// Observe records a sample for f.
func (m *Monitor) Observe(f mocap.Frame) {
	s := Sample{
		Number:    f.Number,
		Time:      f.Timestamp,
		FrameRate: f.FrameRate,
		Objects:   len(f.Objects),
		Visible:   len(f.Visible()),
	}
	m.mu.Lock()
	m.samples[m.next] = s
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

// Samples returns the retained samples, oldest first.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]Sample(nil), m.samples[:m.next]...)
	}
	out := make([]Sample, 0, len(m.samples))
	out = append(out, m.samples[m.next:]...)
	return append(out, m.samples[:m.next]...)
}
