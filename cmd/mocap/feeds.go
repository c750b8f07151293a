package main

import (
	"fmt"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/config"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/replay"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/serial"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/sim"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/udp"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/timeutil"
)

// newFeed builds the feed client selected by cfg and returns it with the
// address the engine connects to.
func newFeed(cfg *config.Config, clock timeutil.Clock) (feed.Client, string, error) {
	switch kind := cfg.GetFeed(); kind {
	case config.FeedSynthetic:
		return sim.NewClient(sim.NewGenerator(clock.Now().UnixNano()), clock), cfg.GetAddress(), nil
	case config.FeedUDP:
		return udp.NewClient(), cfg.GetAddress(), nil
	case config.FeedReplay:
		path := cfg.GetReplayFile()
		if path == "" {
			return nil, "", fmt.Errorf("feed %q needs replay_file", kind)
		}
		return replay.NewClient(replay.Config{
			Port:     cfg.GetReplayPort(),
			Realtime: cfg.GetReplayRealtime(),
			Speed:    1,
			Clock:    clock,
		}), path, nil
	case config.FeedSerial:
		opts, err := serial.PortOptions{BaudRate: cfg.GetBaudRate()}.Normalize()
		if err != nil {
			return nil, "", err
		}
		return serial.NewClient(opts, serial.OpenPort), cfg.GetSerialPort(), nil
	default:
		return nil, "", fmt.Errorf("unknown feed %q", kind)
	}
}
