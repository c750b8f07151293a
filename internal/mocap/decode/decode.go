// Package decode converts raw feed frames into mocap.Frame values.
//
// Object occlusion is inferred from the pose itself: the upstream per-segment
// occlusion flag is not reliable, but an unseen subject is reported with an
// all-zero rotation or an all-zero translation. The comparison is exact.
// Marker occlusion uses the feed's own flag.
package decode

import (
	"errors"
	"fmt"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
)

// ErrSegmentCount is returned when a subject does not have exactly one
// segment. Only single-segment rigid bodies are supported, so this is fatal
// for the session.
var ErrSegmentCount = errors.New("decode: subject must have exactly one segment")

// Decode converts raw into a Frame. Objects and their markers keep feed
// order. FrameRate and Timestamp are left for the caller to fill.
func Decode(raw feed.RawFrame) (mocap.Frame, error) {
	n := raw.SubjectCount()
	frame := mocap.Frame{
		Number:  raw.FrameNumber(),
		Objects: make([]mocap.Object, 0, n),
	}
	for i := 0; i < n; i++ {
		obj, err := decodeSubject(raw, raw.SubjectName(i))
		if err != nil {
			return mocap.Frame{}, err
		}
		frame.Objects = append(frame.Objects, obj)
	}
	return frame, nil
}

func decodeSubject(raw feed.RawFrame, subject string) (mocap.Object, error) {
	if c := raw.SegmentCount(subject); c != 1 {
		return mocap.Object{}, fmt.Errorf("%w: subject %q has %d", ErrSegmentCount, subject, c)
	}
	segment := raw.SegmentName(subject, 0)

	obj := mocap.Object{
		Name:     subject,
		Rotation: mocap.Rotation(raw.SegmentGlobalRotation(subject, segment)),
		Position: mocap.Position(raw.SegmentGlobalTranslation(subject, segment)),
	}
	if Occluded(obj.Rotation, obj.Position) {
		obj.Occluded = true
		obj.Rotation = mocap.NaNRotation()
		obj.Position = mocap.NaNPosition()
	}

	if mc := raw.MarkerCount(subject); mc > 0 {
		obj.Markers = make([]mocap.Marker, 0, mc)
		for j := 0; j < mc; j++ {
			obj.Markers = append(obj.Markers, decodeMarker(raw, subject, raw.MarkerName(subject, j)))
		}
	}
	return obj, nil
}

func decodeMarker(raw feed.RawFrame, subject, name string) mocap.Marker {
	pos, occluded := raw.MarkerGlobalTranslation(subject, name)
	if occluded {
		return mocap.OccludedMarker(name)
	}
	return mocap.Marker{Name: name, Position: mocap.Position(pos)}
}

// Occluded reports whether a pose should be treated as not seen: every
// rotation component is exactly zero, or every position component is.
func Occluded(r mocap.Rotation, p mocap.Position) bool {
	return r.AllZero() || p.AllZero()
}
