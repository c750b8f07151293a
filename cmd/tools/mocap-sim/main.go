// Command mocap-sim emits synthetic motion-capture frames for local
// development without tracking hardware.
//
// Frames go to a UDP feed (run mocap with -feed udp), to a pcap capture for
// the replay feed, or both:
//
//	go run ./cmd/tools/mocap-sim -addr localhost:801
//	go run ./cmd/tools/mocap-sim -addr "" -pcap session.pcap -n 1000
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/replay"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/sim"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/udp"
)

func main() {
	addr := flag.String("addr", "localhost:801", "UDP address to send frames to (empty to disable)")
	rate := flag.Float64("rate", 100, "Frame rate in Hz")
	bodies := flag.Int("bodies", 3, "Number of rigid bodies")
	dropout := flag.Float64("dropout", 0, "Probability a body or marker is unseen in a frame")
	frames := flag.Int("n", 0, "Number of frames to emit (0 = until interrupted)")
	pcapPath := flag.String("pcap", "", "Also write frames to this pcap file")
	pcapPort := flag.Int("pcap-port", 801, "UDP destination port recorded in the pcap")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	if *addr == "" && *pcapPath == "" {
		log.Fatal("nothing to do: set -addr or -pcap")
	}
	if *rate <= 0 {
		log.Fatalf("invalid rate %.1f", *rate)
	}

	gen := sim.NewGenerator(*seed)
	gen.FrameRate = *rate
	gen.ObjectCount = *bodies
	gen.DropoutRate = *dropout

	var sender *udp.Sender
	if *addr != "" {
		var err error
		if sender, err = udp.Dial(*addr); err != nil {
			log.Fatalf("failed to dial: %v", err)
		}
		defer sender.Close()
	}

	var pw *replay.Writer
	if *pcapPath != "" {
		f, err := os.Create(*pcapPath)
		if err != nil {
			log.Fatalf("failed to create pcap: %v", err)
		}
		defer f.Close()
		if pw, err = replay.NewWriter(f, *pcapPort); err != nil {
			log.Fatalf("failed to start pcap: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	period := time.Duration(float64(time.Second) / *rate)
	var ticker *time.Ticker
	if sender != nil {
		// Captures written without a live receiver are generated as fast as possible.
		ticker = time.NewTicker(period)
		defer ticker.Stop()
	}

	log.Printf("emitting %d bodies at %.1f Hz (addr=%q pcap=%q)", *bodies, *rate, *addr, *pcapPath)
	start := time.Now()
	for i := 0; *frames == 0 || i < *frames; i++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				log.Printf("interrupted after %d frames", i)
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		elapsed := time.Duration(i) * period
		snap := gen.Next(elapsed)
		if sender != nil {
			if err := sender.Send(snap); err != nil {
				log.Printf("send frame %d: %v", snap.Number, err)
			}
		}
		if pw != nil {
			if err := pw.Write(start.Add(elapsed), snap); err != nil {
				log.Fatalf("write frame %d: %v", snap.Number, err)
			}
		}
		if (i+1)%1000 == 0 {
			log.Printf("%d frames", i+1)
		}
	}
	log.Printf("done")
}
