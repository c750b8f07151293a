// Package udp carries feed snapshots as one protobuf datagram per frame.
package udp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/wire"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/monitoring"
)

var logf = monitoring.Tagged("feed/udp")

// MaxDatagram bounds a single encoded frame.
const MaxDatagram = 65507

const pollInterval = 100 * time.Millisecond

// drainWait bounds each read while emptying the socket queue. An already
// expired deadline fails the read before it looks at the queue.
const drainWait = time.Millisecond

// Client listens for snapshot datagrams on the connect address.
type Client struct {
	// RcvBuf sets the socket receive buffer when non-zero.
	RcvBuf int

	mu      sync.Mutex
	conn    *net.UDPConn
	latest  bool
	buf     []byte
	rate    float64
	lastAt  time.Time
	dropped uint64
}

// NewClient returns a disconnected client.
func NewClient() *Client {
	return &Client{rate: math.NaN()}
}

// Connect binds the UDP socket. With a buffer size of 1 only the newest
// queued datagram is returned by NextFrame.
func (c *Client) Connect(ctx context.Context, address string, opts feed.Options) error {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if c.RcvBuf > 0 {
		if err := conn.SetReadBuffer(c.RcvBuf); err != nil {
			logf("Warning: failed to set receive buffer to %d: %v", c.RcvBuf, err)
		}
	}
	if opts.Lightweight {
		logf("Warning: lightweight segment data is not available over UDP; sending full precision")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.latest = opts.BufferSize <= 1
	c.buf = make([]byte, MaxDatagram)
	c.rate = math.NaN()
	c.lastAt = time.Time{}
	logf("listening on %s", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address, or nil when disconnected.
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if c.dropped > 0 {
		logf("%d stale datagrams skipped this session", c.dropped)
		c.dropped = 0
	}
	return err
}

// NextFrame blocks until a datagram arrives or ctx ends. The read deadline
// is refreshed every poll interval so cancellation is observed.
func (c *Client) NextFrame(ctx context.Context) (feed.RawFrame, error) {
	c.mu.Lock()
	conn, buf, latest := c.conn, c.buf, c.latest
	c.mu.Unlock()
	if conn == nil {
		return nil, feed.ErrNotConnected
	}

	var n int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return nil, fmt.Errorf("udp read deadline: %w", err)
		}
		var err error
		n, _, err = conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, fmt.Errorf("udp read: %w", err)
		}
		break
	}
	if latest {
		var err error
		if n, err = c.drain(conn, buf, n); err != nil {
			return nil, err
		}
	}

	s, err := wire.UnmarshalSnapshot(buf[:n])
	if err != nil {
		return nil, err
	}
	c.observe(s)
	return s, nil
}

// drain reads any datagrams already queued and keeps the last one. It
// stops at the first read that times out.
func (c *Client) drain(conn *net.UDPConn, buf []byte, n int) (int, error) {
	spare := make([]byte, len(buf))
	for {
		if err := conn.SetReadDeadline(time.Now().Add(drainWait)); err != nil {
			return 0, fmt.Errorf("udp read deadline: %w", err)
		}
		m, _, err := conn.ReadFromUDP(spare)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return n, nil
			}
			return 0, fmt.Errorf("udp drain: %w", err)
		}
		copy(buf, spare[:m])
		n = m
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// observe tracks the frame rate. A sender that reports its rate wins;
// otherwise the rate is estimated from arrival times.
func (c *Client) observe(s *feed.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	switch {
	case s.Rate > 0 && !math.IsNaN(s.Rate):
		c.rate = s.Rate
	case !c.lastAt.IsZero():
		if dt := now.Sub(c.lastAt).Seconds(); dt > 0 {
			inst := 1 / dt
			if math.IsNaN(c.rate) {
				c.rate = inst
			} else {
				c.rate = 0.9*c.rate + 0.1*inst
			}
		}
	}
	c.lastAt = now
}

// FrameRate returns the last reported or estimated rate, NaN before the
// first estimate.
func (c *Client) FrameRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Sender writes snapshots to a Client.
type Sender struct {
	conn *net.UDPConn
}

// Dial returns a Sender writing to address.
func Dial(address string) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return &Sender{conn: conn}, nil
}

// Send encodes and writes one snapshot.
func (s *Sender) Send(snap *feed.Snapshot) error {
	b, err := wire.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	if len(b) > MaxDatagram {
		return fmt.Errorf("frame %d encodes to %d bytes, over the datagram limit", snap.Number, len(b))
	}
	_, err = s.conn.Write(b)
	return err
}

func (s *Sender) Close() error { return s.conn.Close() }
