package datastream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors the engine updates. A nil *Metrics
// disables them.
type Metrics struct {
	published prometheus.Counter
	discarded prometheus.Counter
	fetchErr  prometheus.Counter
	reads     *prometheus.CounterVec
	frameRate prometheus.Gauge
	visible   prometheus.Gauge
	objects   prometheus.Gauge
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mocap",
			Subsystem: "datastream",
			Name:      "frames_published_total",
			Help:      "Frames published into the cache.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mocap",
			Subsystem: "datastream",
			Name:      "frames_discarded_total",
			Help:      "Frames dropped because the filter configuration changed while they were decoded.",
		}),
		fetchErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mocap",
			Subsystem: "datastream",
			Name:      "fetch_errors_total",
			Help:      "Failed next-frame calls on the feed.",
		}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mocap",
			Subsystem: "datastream",
			Name:      "reads_total",
			Help:      "Completed reads by read mode.",
		}, []string{"mode"}),
		frameRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mocap",
			Subsystem: "datastream",
			Name:      "frame_rate_hz",
			Help:      "Frame rate last reported by the feed.",
		}),
		visible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mocap",
			Subsystem: "datastream",
			Name:      "visible_objects",
			Help:      "Non-occluded objects in the last published frame.",
		}),
		objects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mocap",
			Subsystem: "datastream",
			Name:      "objects",
			Help:      "Objects in the last published frame.",
		}),
	}
	for _, c := range []prometheus.Collector{m.published, m.discarded, m.fetchErr, m.reads, m.frameRate, m.visible, m.objects} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) framePublished(rate float64, objects, visible int) {
	if m == nil {
		return
	}
	m.published.Inc()
	m.frameRate.Set(rate)
	m.objects.Set(float64(objects))
	m.visible.Set(float64(visible))
}

func (m *Metrics) frameDiscarded() {
	if m == nil {
		return
	}
	m.discarded.Inc()
}

func (m *Metrics) fetchFailed() {
	if m == nil {
		return
	}
	m.fetchErr.Inc()
}

func (m *Metrics) read(mode ReadMode) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(mode.String()).Inc()
}
