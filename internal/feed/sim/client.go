package sim

import (
	"context"
	"sync"
	"time"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/monitoring"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/timeutil"
)

var logf = monitoring.Tagged("feed/sim")

// Client serves Generator frames at the generator's frame rate.
type Client struct {
	gen   *Generator
	clock timeutil.Clock

	mu      sync.Mutex
	ticker  timeutil.Ticker
	start   time.Time
	markers bool
}

// NewClient returns a client over gen. A nil clock uses the real clock.
func NewClient(gen *Generator, clock timeutil.Clock) *Client {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Client{gen: gen, clock: clock}
}

// Connect starts the frame clock. The address is only logged.
func (c *Client) Connect(ctx context.Context, address string, opts feed.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticker != nil {
		c.ticker.Stop()
	}
	interval := time.Second / 100
	if c.gen.FrameRate > 0 {
		interval = time.Duration(float64(time.Second) / c.gen.FrameRate)
	}
	c.ticker = c.clock.NewTicker(interval)
	c.start = c.clock.Now()
	c.markers = opts.MarkerData
	logf("synthetic feed %q: %d bodies at %.0f Hz (%s)", address, c.gen.ObjectCount, c.gen.FrameRate, opts.StreamMode)
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	return nil
}

// NextFrame waits for the next tick and returns a generated frame.
func (c *Client) NextFrame(ctx context.Context) (feed.RawFrame, error) {
	c.mu.Lock()
	ticker, start, markers := c.ticker, c.start, c.markers
	c.mu.Unlock()
	if ticker == nil {
		return nil, feed.ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case now := <-ticker.C():
		s := c.gen.Next(now.Sub(start))
		if !markers {
			for i := range s.Subjects {
				s.Subjects[i].Markers = nil
			}
		}
		return s, nil
	}
}

func (c *Client) FrameRate() float64 { return c.gen.FrameRate }
