package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap/filter"
)

// DefaultConfigPath is the checked-in defaults file.
const DefaultConfigPath = "config/mocap.defaults.json"

// Feed kinds selectable with the "feed" field.
const (
	FeedSynthetic = "synthetic"
	FeedUDP       = "udp"
	FeedReplay    = "replay"
	FeedSerial    = "serial"
)

// Config is the service configuration. Every field is optional; the Get*
// methods return the default for fields the file leaves out, so partial
// files are safe.
type Config struct {
	// Feed connection
	Feed        *string      `json:"feed,omitempty"`
	Address     *string      `json:"address,omitempty"`
	StreamMode  *string      `json:"stream_mode,omitempty"`
	Lightweight *bool        `json:"lightweight,omitempty"`
	MarkerData  *bool        `json:"marker_data,omitempty"`
	BufferSize  *int         `json:"buffer_size,omitempty"`
	AxisMapping *AxisMapping `json:"axis_mapping,omitempty"`
	ErrorPause  *string      `json:"error_pause,omitempty"` // duration string like "10ms"

	// Filters
	OcclusionFilter *bool    `json:"occlusion_filter,omitempty"`
	AllowList       []string `json:"allow_list,omitempty"`

	// Replay and serial feeds
	ReplayFile     *string `json:"replay_file,omitempty"`
	ReplayPort     *int    `json:"replay_port,omitempty"`
	ReplayRealtime *bool   `json:"replay_realtime,omitempty"`
	SerialPort     *string `json:"serial_port,omitempty"`
	BaudRate       *int    `json:"baud_rate,omitempty"`

	// Consumers
	DBPath     *string `json:"db_path,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`
	HTTPListen *string `json:"http_listen,omitempty"`
}

// AxisMapping is the JSON form of feed.AxisMapping.
type AxisMapping struct {
	X string `json:"x"`
	Y string `json:"y"`
	Z string `json:"z"`
}

func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }

// Load reads a Config from a .json file of at most 1MB and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field that is set.
func (c *Config) Validate() error {
	if c.Feed != nil {
		switch *c.Feed {
		case FeedSynthetic, FeedUDP, FeedReplay, FeedSerial:
		default:
			return fmt.Errorf("feed must be one of synthetic, udp, replay, serial; got %q", *c.Feed)
		}
	}
	if c.StreamMode != nil {
		if _, err := feed.ParseStreamMode(*c.StreamMode); err != nil {
			return err
		}
	}
	if c.BufferSize != nil && *c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1, got %d", *c.BufferSize)
	}
	if c.AxisMapping != nil {
		if _, err := c.AxisMapping.parse(); err != nil {
			return err
		}
	}
	if c.ErrorPause != nil && *c.ErrorPause != "" {
		d, err := time.ParseDuration(*c.ErrorPause)
		if err != nil {
			return fmt.Errorf("invalid error_pause '%s': %w", *c.ErrorPause, err)
		}
		if d <= 0 {
			return fmt.Errorf("error_pause must be positive, got %s", d)
		}
	}
	seen := make(map[string]bool, len(c.AllowList))
	for _, name := range c.AllowList {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("allow_list contains an empty name")
		}
		if seen[name] {
			return fmt.Errorf("allow_list contains %q twice", name)
		}
		seen[name] = true
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.ReplayPort != nil && (*c.ReplayPort < 0 || *c.ReplayPort > 65535) {
		return fmt.Errorf("replay_port out of range: %d", *c.ReplayPort)
	}
	if c.GetFeed() == FeedReplay && c.GetReplayFile() == "" {
		return fmt.Errorf("replay feed requires replay_file")
	}
	return nil
}

func (m AxisMapping) parse() (feed.AxisMapping, error) {
	out := feed.AxisMapping{X: feed.Direction(m.X), Y: feed.Direction(m.Y), Z: feed.Direction(m.Z)}
	axes := map[feed.Direction]int{}
	for _, d := range []feed.Direction{out.X, out.Y, out.Z} {
		switch d {
		case feed.Forward, feed.Backward:
			axes[feed.Forward]++
		case feed.Left, feed.Right:
			axes[feed.Left]++
		case feed.Up, feed.Down:
			axes[feed.Up]++
		default:
			return out, fmt.Errorf("invalid axis direction %q", d)
		}
	}
	if len(axes) != 3 {
		return out, fmt.Errorf("axis_mapping must use each of forward/backward, left/right, up/down once")
	}
	return out, nil
}

func (c *Config) GetFeed() string {
	if c.Feed == nil {
		return FeedSynthetic
	}
	return *c.Feed
}

func (c *Config) GetAddress() string {
	if c.Address == nil {
		return "localhost:801"
	}
	return *c.Address
}

func (c *Config) GetStreamMode() feed.StreamMode {
	if c.StreamMode == nil {
		return feed.ServerPush
	}
	m, _ := feed.ParseStreamMode(*c.StreamMode)
	return m
}

func (c *Config) GetLightweight() bool { return c.Lightweight != nil && *c.Lightweight }
func (c *Config) GetMarkerData() bool  { return c.MarkerData != nil && *c.MarkerData }

func (c *Config) GetBufferSize() int {
	if c.BufferSize == nil {
		return 1
	}
	return *c.BufferSize
}

func (c *Config) GetAxisMapping() feed.AxisMapping {
	if c.AxisMapping == nil {
		return feed.ZUp
	}
	m, err := c.AxisMapping.parse()
	if err != nil {
		return feed.ZUp
	}
	return m
}

func (c *Config) GetErrorPause() time.Duration {
	if c.ErrorPause == nil || *c.ErrorPause == "" {
		return 10 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.ErrorPause)
	if err != nil || d <= 0 {
		return 10 * time.Millisecond
	}
	return d
}

func (c *Config) GetOcclusionFilter() bool { return c.OcclusionFilter != nil && *c.OcclusionFilter }

func (c *Config) GetReplayFile() string {
	if c.ReplayFile == nil {
		return ""
	}
	return *c.ReplayFile
}

func (c *Config) GetReplayPort() int {
	if c.ReplayPort == nil {
		return 0
	}
	return *c.ReplayPort
}

func (c *Config) GetReplayRealtime() bool { return c.ReplayRealtime == nil || *c.ReplayRealtime }

func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return "mocap.db"
	}
	return *c.DBPath
}

func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return "localhost:50051"
	}
	return *c.GRPCListen
}

func (c *Config) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return "localhost:8090"
	}
	return *c.HTTPListen
}

// FeedOptions returns the connect options for the feed client.
func (c *Config) FeedOptions() feed.Options {
	return feed.Options{
		SegmentData: true,
		MarkerData:  c.GetMarkerData(),
		Lightweight: c.GetLightweight(),
		StreamMode:  c.GetStreamMode(),
		BufferSize:  c.GetBufferSize(),
		AxisMapping: c.GetAxisMapping(),
	}
}

// Filter returns the initial filter configuration. A non-empty allow_list
// activates the allow-list filter.
func (c *Config) Filter() filter.Config {
	return filter.Config{
		OcclusionFilter: c.GetOcclusionFilter(),
		AllowListActive: len(c.AllowList) > 0,
		AllowList:       append([]string(nil), c.AllowList...),
	}
}
