// Command mocap acquires frames from a motion-capture feed and serves them:
// recorded to SQLite, streamed over gRPC and inspected over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/config"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/datastream"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/monitor"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/recorder"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/stream"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/timeutil"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (default: "+config.DefaultConfigPath+" if present)")
	feedKind    = flag.String("feed", "", "Feed: synthetic, udp, replay or serial")
	address     = flag.String("address", "", "Feed address (host:port for synthetic and udp)")
	replayFile  = flag.String("replay", "", "pcap file to replay (implies -feed replay)")
	serialPort  = flag.String("serial", "", "Serial device (implies -feed serial)")
	listen      = flag.String("listen", "", "HTTP listen address for debug routes and /metrics")
	grpcListen  = flag.String("grpc", "", "gRPC listen address for frame streaming")
	dbPath      = flag.String("db", "", "SQLite recording database")
	noRecord    = flag.Bool("no-record", false, "Do not record frames")
	occlusion   = flag.Bool("occlusion-filter", false, "Drop occluded objects from frames")
	allowList   = flag.String("allow", "", "Comma-separated object allow-list")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	log.Printf("%s starting: feed=%s", version.String(), cfg.GetFeed())

	clock := timeutil.RealClock{}
	client, addr, err := newFeed(cfg, clock)
	if err != nil {
		log.Fatalf("failed to create feed: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := datastream.NewMetrics(reg)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	engine := datastream.New(client, datastream.Config{
		Address:    addr,
		Feed:       cfg.FeedOptions(),
		Filter:     cfg.Filter(),
		ErrorPause: cfg.GetErrorPause(),
		Clock:      clock,
		Metrics:    metrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("connecting to %s", addr)
	if err := engine.Connect(ctx); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	log.Printf("connected: %.1f Hz", engine.FrameRate())

	var store *recorder.Store
	if !*noRecord && cfg.GetDBPath() != "" {
		store, err = recorder.Open(cfg.GetDBPath())
		if err != nil {
			engine.Close()
			log.Fatalf("failed to open recorder: %v", err)
		}
		defer store.Close()
	}

	var wg sync.WaitGroup

	if store != nil {
		session, err := store.StartSession(ctx, addr, engine.Filters())
		if err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
		log.Printf("recording session %s to %s", session, cfg.GetDBPath())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Run(ctx, engine, session); err != nil {
				log.Printf("recorder stopped: %v", err)
			}
			endCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := store.EndSession(endCtx, session); err != nil {
				log.Printf("failed to end session: %v", err)
			}
			log.Print("recorder routine terminated")
		}()
	}

	mon := monitor.New(engine, monitorOptions(store, reg))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mon.Run(ctx); err != nil {
			log.Printf("monitor sampling stopped: %v", err)
		}
	}()

	if addr := cfg.GetGRPCListen(); addr != "" {
		srv := stream.NewServer(engine, clock)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
			log.Print("gRPC routine terminated")
		}()
	}

	if addr := cfg.GetHTTPListen(); addr != "" {
		mux := http.NewServeMux()
		mon.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("recorder admin routes unavailable: %v", err)
			}
		}
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := engine.Err(); err != nil || !engine.Connected() {
				http.Error(w, fmt.Sprintf("unhealthy: connected=%v err=%v", engine.Connected(), err), http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintln(w, "ok")
		})

		server := &http.Server{Addr: addr, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("HTTP server error: %v", err)
				}
			}()
			log.Printf("HTTP debug server listening on %s", addr)

			<-ctx.Done()
			log.Println("shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}
			log.Printf("HTTP server routine stopped")
		}()
	}

	<-ctx.Done()
	// Disconnecting releases every reader still waiting for a frame.
	if err := engine.Close(); err != nil {
		log.Printf("disconnect error: %v", err)
	}
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func monitorOptions(store *recorder.Store, reg *prometheus.Registry) monitor.Options {
	opts := monitor.Options{Gatherer: reg}
	if store != nil {
		opts.Recorder = store
	}
	return opts
}

// loadConfig reads the config file and applies the flags given on the
// command line on top of it.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	path := *configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg, setFlags())
	return cfg, nil
}

func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func applyFlags(cfg *config.Config, set map[string]bool) {
	str := func(name string, v string, dst **string) {
		if set[name] {
			*dst = &v
		}
	}
	str("feed", *feedKind, &cfg.Feed)
	str("address", *address, &cfg.Address)
	str("listen", *listen, &cfg.HTTPListen)
	str("grpc", *grpcListen, &cfg.GRPCListen)
	str("db", *dbPath, &cfg.DBPath)
	if set["replay"] {
		str("replay", *replayFile, &cfg.ReplayFile)
		if !set["feed"] {
			kind := config.FeedReplay
			cfg.Feed = &kind
		}
	}
	if set["serial"] {
		str("serial", *serialPort, &cfg.SerialPort)
		if !set["feed"] {
			kind := config.FeedSerial
			cfg.Feed = &kind
		}
	}
	if set["occlusion-filter"] {
		v := *occlusion
		cfg.OcclusionFilter = &v
	}
	if set["allow"] {
		cfg.AllowList = nil
		for _, name := range strings.Split(*allowList, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.AllowList = append(cfg.AllowList, name)
			}
		}
	}
}
