// Package feed defines the contract between the acquisition engine and an
// upstream motion-capture feed, and the in-memory raw frame value shared by
// every transport in the subpackages.
//
// A Client models one upstream session. NextFrame blocks until the feed has a
// frame; the returned RawFrame exposes the structural accessors the decoder
// walks (subjects, segments, markers).
package feed

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by clients used outside Connect/Disconnect.
	ErrNotConnected = errors.New("feed: not connected")
	// ErrNoFrame is returned when the feed has no frame to offer yet. The
	// engine treats it like any other failed fetch and calls again.
	ErrNoFrame = errors.New("feed: no frame available")
)

// StreamMode selects how the upstream server delivers frames.
type StreamMode int

const (
	// ServerPush: the server sends every frame as it is produced; lowest latency.
	ServerPush StreamMode = iota
	// ClientPull: a frame is requested on each call; lowest bandwidth.
	ClientPull
	// ClientPullPreFetch: the client requests ahead and returns the last
	// received frame.
	ClientPullPreFetch
)

func (m StreamMode) String() string {
	switch m {
	case ServerPush:
		return "server_push"
	case ClientPull:
		return "client_pull"
	case ClientPullPreFetch:
		return "client_pull_prefetch"
	default:
		return fmt.Sprintf("StreamMode(%d)", int(m))
	}
}

// ParseStreamMode parses the names produced by StreamMode.String.
func ParseStreamMode(s string) (StreamMode, error) {
	switch s {
	case "", "server_push":
		return ServerPush, nil
	case "client_pull":
		return ClientPull, nil
	case "client_pull_prefetch":
		return ClientPullPreFetch, nil
	}
	return ServerPush, fmt.Errorf("unknown stream mode %q", s)
}

// Direction names a global axis direction for axis mapping.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
	Left     Direction = "left"
	Right    Direction = "right"
	Up       Direction = "up"
	Down     Direction = "down"
)

// AxisMapping assigns a direction to each of the X, Y and Z axes.
type AxisMapping struct {
	X, Y, Z Direction
}

// ZUp is the mapping used unless configured otherwise: X forward, Y left, Z up.
var ZUp = AxisMapping{X: Forward, Y: Left, Z: Up}

// Options are the data channels and delivery settings requested on connect.
type Options struct {
	// SegmentData enables per-subject pose data. The engine always requests it.
	SegmentData bool
	// MarkerData enables per-marker positions.
	MarkerData bool
	// Lightweight trades precision for roughly a quarter of the bandwidth.
	// A feed that cannot enable it logs a warning and continues.
	Lightweight bool
	StreamMode  StreamMode
	// BufferSize is the number of frames the client buffers; 1 keeps only
	// the most recent frame.
	BufferSize  int
	AxisMapping AxisMapping
}

// DefaultOptions returns segment data, server push, buffer size 1, Z up.
func DefaultOptions() Options {
	return Options{
		SegmentData: true,
		StreamMode:  ServerPush,
		BufferSize:  1,
		AxisMapping: ZUp,
	}
}

// Client is one upstream feed session.
type Client interface {
	// Connect establishes the session and enables the requested channels.
	Connect(ctx context.Context, address string, opts Options) error
	// Disconnect closes the session. It is safe to call when not connected.
	Disconnect() error
	// NextFrame blocks until the next frame is available or ctx ends.
	NextFrame(ctx context.Context) (RawFrame, error)
	// FrameRate returns the feed's current measured frame rate in Hz.
	FrameRate() float64
}

// RawFrame exposes the structure of one undecoded feed frame.
type RawFrame interface {
	FrameNumber() uint64
	SubjectCount() int
	SubjectName(i int) string
	SegmentCount(subject string) int
	SegmentName(subject string, i int) string
	// SegmentGlobalRotation returns the row-major 3x3 rotation.
	SegmentGlobalRotation(subject, segment string) [9]float64
	SegmentGlobalTranslation(subject, segment string) [3]float64
	MarkerCount(subject string) int
	MarkerName(subject string, i int) string
	// MarkerGlobalTranslation returns the marker position and the feed's own
	// occlusion bit for it.
	MarkerGlobalTranslation(subject, marker string) (pos [3]float64, occluded bool)
}
