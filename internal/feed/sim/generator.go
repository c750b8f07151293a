// Package sim provides a synthetic motion-capture scene and a feed client
// that serves it, for demos and tests without tracking hardware.
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
)

// Generator produces frames of rigid bodies circling the origin. Positions
// are in millimetres, as tracking systems report them.
type Generator struct {
	mu      sync.Mutex
	frameID uint64
	rng     *rand.Rand

	ObjectCount      int     // number of rigid bodies
	MarkersPerObject int     // markers on each body
	FrameRate        float64 // frames per second
	RadiusMM         float64 // radius of the circular paths
	HeightMM         float64 // height of the paths above the floor
	SpeedMPS         float64 // tangential speed
	MarkerSpanMM     float64 // distance of markers from the body origin
	// DropoutRate is the probability that a body is reported unseen
	// (all-zero pose) in a frame. Markers drop out independently at the
	// same rate.
	DropoutRate float64
}

// NewGenerator returns a generator with three bodies at 100 Hz.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:              rand.New(rand.NewSource(seed)),
		ObjectCount:      3,
		MarkersPerObject: 4,
		FrameRate:        100,
		RadiusMM:         1000,
		HeightMM:         800,
		SpeedMPS:         0.5,
		MarkerSpanMM:     50,
	}
}

// ObjectName returns the subject name used for body i.
func ObjectName(i int) string { return fmt.Sprintf("Body%02d", i+1) }

// Next returns the frame at the given elapsed time since the start of the
// session. Frame numbers increase by one per call.
func (g *Generator) Next(elapsed time.Duration) *feed.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frameID++

	s := &feed.Snapshot{
		Number:   g.frameID,
		Rate:     g.FrameRate,
		Subjects: make([]feed.Subject, 0, g.ObjectCount),
	}
	secs := elapsed.Seconds()
	for i := 0; i < g.ObjectCount; i++ {
		s.Subjects = append(s.Subjects, g.body(i, secs))
	}
	return s
}

func (g *Generator) body(i int, secs float64) feed.Subject {
	name := ObjectName(i)
	base := float64(i) * 2 * math.Pi / float64(max(g.ObjectCount, 1))
	angular := 0.0
	if g.RadiusMM > 0 {
		angular = g.SpeedMPS * 1000 / g.RadiusMM
	}
	angle := base + secs*angular
	pos := [3]float64{
		g.RadiusMM * math.Cos(angle),
		g.RadiusMM * math.Sin(angle),
		g.HeightMM,
	}
	// Heading follows the tangent of the path.
	yaw := angle + math.Pi/2
	rot := yawRotation(yaw)

	var markers []feed.RawMarker
	for j := 0; j < g.MarkersPerObject; j++ {
		theta := float64(j) * 2 * math.Pi / float64(g.MarkersPerObject)
		local := [3]float64{g.MarkerSpanMM * math.Cos(theta), g.MarkerSpanMM * math.Sin(theta), 0}
		m := feed.RawMarker{
			Name:        fmt.Sprintf("%s_m%d", name, j+1),
			Translation: apply(rot, local, pos),
		}
		if g.dropout() {
			m.Occluded = true
			m.Translation = [3]float64{}
		}
		markers = append(markers, m)
	}

	if g.dropout() {
		return feed.RigidSubject(name, [9]float64{}, [3]float64{}, markers...)
	}
	return feed.RigidSubject(name, rot, pos, markers...)
}

func (g *Generator) dropout() bool {
	return g.DropoutRate > 0 && g.rng.Float64() < g.DropoutRate
}

func yawRotation(yaw float64) [9]float64 {
	c, s := math.Cos(yaw), math.Sin(yaw)
	return [9]float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	}
}

func apply(r [9]float64, v, t [3]float64) [3]float64 {
	return [3]float64{
		r[0]*v[0] + r[1]*v[1] + r[2]*v[2] + t[0],
		r[3]*v[0] + r[4]*v[1] + r[5]*v[2] + t[1],
		r[6]*v[0] + r[7]*v[1] + r[8]*v[2] + t[2],
	}
}
