package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/datastream"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/httputil"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap/filter"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/recorder"
)

const (
	frameWait        = time.Second
	maxFilterBody    = 64 << 10
	defaultPlotLimit = 5000
)

// AttachAdminRoutes registers the monitor's routes under /debug/ and the
// Prometheus handler at /metrics.
func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("frame", "Latest frame (JSON)", m.handleFrame)
	debug.HandleFunc("filters", "Active filters (GET), reconfigure (POST)", m.handleFilters)
	debug.HandleFunc("framerate", "Frame rate and visible objects chart", m.handleFrameRate)
	debug.HandleSilentFunc("samples", m.handleSamples)
	debug.HandleFunc("trajectory.png", "Recorded X/Y trajectory of ?object=", m.handleTrajectory)
	mux.Handle("/metrics", promhttp.HandlerFor(m.opts.Gatherer, promhttp.HandlerOpts{}))
}

func (m *Monitor) handleFrame(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), frameWait)
	defer cancel()
	f, err := m.engine.LatestFrame(ctx)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, f)
	case errors.Is(err, datastream.ErrNotConnected), errors.Is(err, datastream.ErrClosed):
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteJSONError(w, http.StatusGatewayTimeout, "no frame available yet")
	default:
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (m *Monitor) handleFilters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSON(w, http.StatusOK, m.engine.Filters())
	case http.MethodPost:
		var c filter.Config
		if err := httputil.DecodeJSON(r.Body, maxFilterBody, &c); err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid filter config: %v", err))
			return
		}
		m.engine.Configure(c)
		logf("filters reconfigured: occlusion=%v allow_list=%v %v", c.OcclusionFilter, c.AllowListActive, c.AllowList)
		httputil.WriteJSON(w, http.StatusOK, m.engine.Filters())
	default:
		httputil.MethodNotAllowed(w, "GET, POST")
	}
}

func (m *Monitor) handleSamples(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, m.Samples())
}

func (m *Monitor) handleFrameRate(w http.ResponseWriter, r *http.Request) {
	samples := m.Samples()
	x := make([]string, len(samples))
	rate := make([]opts.LineData, len(samples))
	visible := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = strconv.FormatUint(s.Number, 10)
		rate[i] = opts.LineData{Value: s.FrameRate}
		visible[i] = opts.LineData{Value: s.Visible}
	}

	subtitle := fmt.Sprintf("connected=%v samples=%d", m.engine.Connected(), len(samples))
	if fr := m.engine.FrameRate(); !math.IsNaN(fr) {
		subtitle += fmt.Sprintf(" feed=%.1fHz", fr)
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Mocap frame rate", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Frame rate and visible objects", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x).
		AddSeries("frame rate (Hz)", rate).
		AddSeries("visible objects", visible)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (m *Monitor) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	if m.opts.Recorder == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "recording is disabled")
		return
	}
	q := r.URL.Query()
	object := q.Get("object")
	if object == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "missing object parameter")
		return
	}
	limit := defaultPlotLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	ctx := r.Context()
	session := q.Get("session")
	if session == "" {
		var err error
		session, err = m.opts.Recorder.LatestSession(ctx)
		if errors.Is(err, recorder.ErrUnknownSession) {
			httputil.WriteJSONError(w, http.StatusNotFound, "no recorded sessions")
			return
		}
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	pts, err := m.opts.Recorder.Trajectory(ctx, session, object, limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	p, err := trajectoryPlot(object, session, pts)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// trajectoryPlot draws the X/Y path of an object. Occluded samples break the
// path into separate lines.
func trajectoryPlot(object, session string, pts []recorder.TrajectoryPoint) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (session %s)", object, session)
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"
	p.Add(plotter.NewGrid())

	var run plotter.XYs
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		l, err := plotter.NewLine(run)
		if err != nil {
			return err
		}
		l.Width = vg.Points(1)
		p.Add(l)
		run = nil
		return nil
	}
	for _, pt := range pts {
		if pt.Occluded || pt.Position.IsNaN() {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		run = append(run, plotter.XY{X: pt.Position.X(), Y: pt.Position.Y()})
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return p, nil
}
