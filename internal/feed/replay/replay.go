// Package replay serves feed snapshots from a packet capture of the UDP
// transport, so recorded sessions can be played back through the engine.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/wire"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/monitoring"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/timeutil"
)

var logf = monitoring.Tagged("feed/replay")

// ErrEndOfCapture is returned once every packet has been served and Loop is
// off.
var ErrEndOfCapture = fmt.Errorf("end of capture: %w", io.EOF)

// Config selects what is replayed and how fast.
type Config struct {
	// Port keeps only UDP datagrams sent to this port; 0 keeps all.
	Port int
	// Realtime paces frames by their capture timestamps divided by Speed.
	Realtime bool
	Speed    float64
	// Loop restarts from the first packet at the end of the capture.
	Loop  bool
	Clock timeutil.Clock
}

// Client replays a pcap file. The connect address is the file path.
type Client struct {
	cfg Config

	mu       sync.Mutex
	path     string
	file     *os.File
	reader   *pcapgo.Reader
	lastCap  time.Time
	rate     float64
	packets  int
	frames   int
	finished bool
}

// NewClient returns a disconnected replay client.
func NewClient(cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	return &Client{cfg: cfg, rate: math.NaN()}
}

func (c *Client) Connect(ctx context.Context, path string, opts feed.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.path = path
	if err := c.openLocked(); err != nil {
		return err
	}
	c.rate = math.NaN()
	logf("replaying %s (port %d, realtime=%t, speed=%.2f)", path, c.cfg.Port, c.cfg.Realtime, c.cfg.Speed)
	return nil
}

func (c *Client) openLocked() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", c.path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read PCAP header of %s: %w", c.path, err)
	}
	c.file, c.reader = f, r
	c.lastCap = time.Time{}
	c.finished = false
	return nil
}

func (c *Client) closeLocked() {
	if c.file != nil {
		c.file.Close()
		c.file, c.reader = nil, nil
	}
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != nil {
		logf("PCAP replay stopped: %d packets, %d frames", c.packets, c.frames)
	}
	c.closeLocked()
	return nil
}

// NextFrame returns the next snapshot datagram in the capture.
func (c *Client) NextFrame(ctx context.Context) (feed.RawFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, ts, err := c.nextPayload()
		if err != nil {
			return nil, err
		}
		if payload == nil {
			continue
		}
		if wait := c.pace(ts); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.cfg.Clock.After(wait):
			}
		}
		s, err := wire.UnmarshalSnapshot(payload)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.frames++
		if s.Rate > 0 {
			c.rate = s.Rate
		}
		c.mu.Unlock()
		return s, nil
	}
}

// nextPayload returns the UDP payload of the next packet, or nil when the
// packet is filtered out.
func (c *Client) nextPayload() ([]byte, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil, time.Time{}, feed.ErrNotConnected
	}
	if c.finished {
		return nil, time.Time{}, ErrEndOfCapture
	}
	data, ci, err := c.reader.ReadPacketData()
	if errors.Is(err, io.EOF) {
		if !c.cfg.Loop {
			c.finished = true
			logf("PCAP file reading complete: %d packets, %d frames", c.packets, c.frames)
			return nil, time.Time{}, ErrEndOfCapture
		}
		c.closeLocked()
		if err := c.openLocked(); err != nil {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read packet: %w", err)
	}
	c.packets++

	packet := gopacket.NewPacket(data, c.reader.LinkType(), gopacket.Default)
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, ci.Timestamp, nil
	}
	udp := udpLayer.(*layers.UDP)
	if c.cfg.Port != 0 && int(udp.DstPort) != c.cfg.Port {
		return nil, ci.Timestamp, nil
	}
	return udp.Payload, ci.Timestamp, nil
}

// pace returns how long to wait before serving a packet captured at ts, and
// updates the rate estimate from capture spacing.
func (c *Client) pace(ts time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.lastCap
	c.lastCap = ts
	if prev.IsZero() || !ts.After(prev) {
		return 0
	}
	gap := ts.Sub(prev)
	if math.IsNaN(c.rate) {
		c.rate = 1 / gap.Seconds()
	}
	if !c.cfg.Realtime {
		return 0
	}
	return time.Duration(float64(gap) / c.cfg.Speed)
}

func (c *Client) FrameRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}
