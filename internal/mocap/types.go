package mocap

import (
	"encoding/json"
	"math"
	"time"
)

// Rotation is a 3x3 rotation matrix stored in row-major order.
type Rotation [9]float64

// Position is a global translation (x, y, z).
type Position [3]float64

// NaNRotation returns the occlusion sentinel for a rotation.
func NaNRotation() Rotation {
	nan := math.NaN()
	return Rotation{nan, nan, nan, nan, nan, nan, nan, nan, nan}
}

// NaNPosition returns the occlusion sentinel for a position.
func NaNPosition() Position {
	nan := math.NaN()
	return Position{nan, nan, nan}
}

// IdentityRotation returns the 3x3 identity.
func IdentityRotation() Rotation {
	return Rotation{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// AllZero reports whether every component is exactly 0.0.
func (r Rotation) AllZero() bool { return allZero(r[:]) }

// IsNaN reports whether every component is NaN.
func (r Rotation) IsNaN() bool { return allNaN(r[:]) }

// AllZero reports whether every component is exactly 0.0.
func (p Position) AllZero() bool { return allZero(p[:]) }

// IsNaN reports whether every component is NaN.
func (p Position) IsNaN() bool { return allNaN(p[:]) }

func (p Position) X() float64 { return p[0] }
func (p Position) Y() float64 { return p[1] }
func (p Position) Z() float64 { return p[2] }

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func allNaN(v []float64) bool {
	for _, x := range v {
		if !math.IsNaN(x) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes NaN components as null; encoding/json rejects NaN.
func (r Rotation) MarshalJSON() ([]byte, error) { return marshalFloats(r[:]) }

// UnmarshalJSON decodes null components back to NaN.
func (r *Rotation) UnmarshalJSON(b []byte) error { return unmarshalFloats(b, r[:]) }

// MarshalJSON encodes NaN components as null.
func (p Position) MarshalJSON() ([]byte, error) { return marshalFloats(p[:]) }

// UnmarshalJSON decodes null components back to NaN.
func (p *Position) UnmarshalJSON(b []byte) error { return unmarshalFloats(b, p[:]) }

func marshalFloats(v []float64) ([]byte, error) {
	out := make([]*float64, len(v))
	for i := range v {
		if !math.IsNaN(v[i]) {
			x := v[i]
			out[i] = &x
		}
	}
	return json.Marshal(out)
}

func unmarshalFloats(b []byte, dst []float64) error {
	var in []*float64
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = math.NaN()
		if i < len(in) && in[i] != nil {
			dst[i] = *in[i]
		}
	}
	return nil
}

// Marker is a single tracked point belonging to an Object.
type Marker struct {
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Occluded bool     `json:"occluded"`
}

// Object is a tracked rigid body (a feed "subject" with a single segment).
type Object struct {
	Name     string   `json:"name"`
	Rotation Rotation `json:"rotation"`
	Position Position `json:"position"`
	Occluded bool     `json:"occluded"`
	Markers  []Marker `json:"markers,omitempty"`
}

// Frame is one snapshot of every tracked Object.
type Frame struct {
	// Number is the feed-reported frame number; non-decreasing within a session.
	Number uint64 `json:"number"`
	// FrameRate is the feed's measured rate in Hz at the time of capture.
	FrameRate float64 `json:"frame_rate"`
	// Timestamp is the local wall-clock time the frame was received.
	Timestamp time.Time `json:"timestamp"`
	Objects   []Object  `json:"objects"`
}

// OccludedMarker returns a placeholder Marker with NaN position.
func OccludedMarker(name string) Marker {
	return Marker{Name: name, Position: NaNPosition(), Occluded: true}
}

// OccludedObject returns a placeholder Object: NaN rotation and position,
// occluded, no markers.
func OccludedObject(name string) Object {
	return Object{
		Name:     name,
		Rotation: NaNRotation(),
		Position: NaNPosition(),
		Occluded: true,
	}
}

// Clone returns a deep copy of the Object.
func (o Object) Clone() Object {
	if o.Markers != nil {
		o.Markers = append([]Marker(nil), o.Markers...)
	}
	return o
}

// Clone returns a deep copy of the Frame. Published frames are only ever
// handed out as clones.
func (f Frame) Clone() Frame {
	if f.Objects == nil {
		return f
	}
	objects := make([]Object, len(f.Objects))
	for i := range f.Objects {
		objects[i] = f.Objects[i].Clone()
	}
	f.Objects = objects
	return f
}

// Age reports how long ago the frame was received.
func (f Frame) Age(now time.Time) time.Duration {
	if f.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(f.Timestamp)
}
