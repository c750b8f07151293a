// Package serial reads feed snapshots sent as protojson lines over a serial
// link, for tracking bridges that only expose a UART.
package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"go.bug.st/serial"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/wire"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/monitoring"
)

var logf = monitoring.Tagged("feed/serial")

// maxLine bounds one encoded frame.
const maxLine = 1 << 20

// Port is the part of a serial port the client uses.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a port. Tests replace it with an in-memory pipe.
type Opener func(path string, mode *serial.Mode) (Port, error)

// OpenPort opens a real serial device.
func OpenPort(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

type line struct {
	b   []byte
	err error
}

// Client reads one snapshot per line from a serial port. The connect
// address is the device path.
type Client struct {
	opts PortOptions
	open Opener

	mu     sync.Mutex
	port   Port
	lines  chan line
	stop   chan struct{}
	wg     sync.WaitGroup
	rate   float64
	latest bool
}

// NewClient returns a client using opts. A nil opener uses OpenPort.
func NewClient(opts PortOptions, open Opener) *Client {
	if open == nil {
		open = OpenPort
	}
	return &Client{opts: opts, open: open, rate: math.NaN()}
}

func (c *Client) Connect(ctx context.Context, path string, opts feed.Options) error {
	mode, err := c.opts.Mode()
	if err != nil {
		return err
	}
	port, err := c.open(path, mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	size := opts.BufferSize
	if size < 1 {
		size = 1
	}
	c.port = port
	c.lines = make(chan line, size)
	c.stop = make(chan struct{})
	c.latest = size == 1
	c.rate = math.NaN()
	c.wg.Add(1)
	go c.scan(port, c.lines, c.stop)
	logf("reading %s at %d baud", path, mode.BaudRate)
	return nil
}

// scan forwards lines until the port fails or stop is closed. With a buffer
// of one, an unread line is replaced by the newer one.
func (c *Client) scan(port Port, lines chan line, stop <-chan struct{}) {
	defer c.wg.Done()
	sc := bufio.NewScanner(port)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		b := append([]byte(nil), sc.Bytes()...)
		if len(b) == 0 {
			continue
		}
		if c.latest {
			select {
			case <-lines:
			default:
			}
		}
		select {
		case lines <- line{b: b}:
		case <-stop:
			return
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case lines <- line{err: err}:
	case <-stop:
	}
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	port, stop := c.port, c.stop
	c.port = nil
	c.mu.Unlock()
	if port == nil {
		return nil
	}
	close(stop)
	err := port.Close()
	c.wg.Wait()
	return err
}

// NextFrame returns the next decoded line.
func (c *Client) NextFrame(ctx context.Context) (feed.RawFrame, error) {
	c.mu.Lock()
	lines := c.lines
	connected := c.port != nil
	c.mu.Unlock()
	if !connected {
		return nil, feed.ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case l := <-lines:
		if l.err != nil {
			return nil, fmt.Errorf("serial read: %w", l.err)
		}
		s, err := wire.UnmarshalSnapshotJSON(l.b)
		if err != nil {
			return nil, err
		}
		if s.Rate > 0 {
			c.mu.Lock()
			c.rate = s.Rate
			c.mu.Unlock()
		}
		return s, nil
	}
}

// FrameRate returns the rate carried by the last line, NaN before any.
func (c *Client) FrameRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}
