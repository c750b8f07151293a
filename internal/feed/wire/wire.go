// Package wire encodes raw feed snapshots and decoded frames as
// google.protobuf.Struct messages. Binary encoding is used for datagrams
// and gRPC; protojson lines are used on serial links.
//
// Snapshot layout:
//
//	{"number": 12, "rate": 100,
//	 "subjects": [{"name": "Tool",
//	   "segments": [{"name": "Tool", "rotation": [9], "translation": [3]}],
//	   "markers": [{"name": "m1", "translation": [3], "occluded": false}]}]}
//
// Frame layout mirrors mocap.Frame's JSON form; NaN components are null.
package wire

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
)

// ErrMalformed wraps every decoding failure caused by message content.
var ErrMalformed = errors.New("wire: malformed message")

var jsonOptions = protojson.MarshalOptions{Multiline: false}

// SnapshotToStruct encodes s.
func SnapshotToStruct(s *feed.Snapshot) *structpb.Struct {
	subjects := make([]*structpb.Value, 0, len(s.Subjects))
	for _, sub := range s.Subjects {
		segs := make([]*structpb.Value, 0, len(sub.Segments))
		for _, seg := range sub.Segments {
			segs = append(segs, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"name":        structpb.NewStringValue(seg.Name),
				"rotation":    floatList(seg.Rotation[:]),
				"translation": floatList(seg.Translation[:]),
			}}))
		}
		markers := make([]*structpb.Value, 0, len(sub.Markers))
		for _, m := range sub.Markers {
			markers = append(markers, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"name":        structpb.NewStringValue(m.Name),
				"translation": floatList(m.Translation[:]),
				"occluded":    structpb.NewBoolValue(m.Occluded),
			}}))
		}
		subjects = append(subjects, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":     structpb.NewStringValue(sub.Name),
			"segments": structpb.NewListValue(&structpb.ListValue{Values: segs}),
			"markers":  structpb.NewListValue(&structpb.ListValue{Values: markers}),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"number":   structpb.NewNumberValue(float64(s.Number)),
		"rate":     floatValue(s.Rate),
		"subjects": structpb.NewListValue(&structpb.ListValue{Values: subjects}),
	}}
}

// SnapshotFromStruct decodes a message produced by SnapshotToStruct.
func SnapshotFromStruct(st *structpb.Struct) (*feed.Snapshot, error) {
	f := st.GetFields()
	s := &feed.Snapshot{
		Number: uint64(f["number"].GetNumberValue()),
		Rate:   numberOrNaN(f["rate"]),
	}
	for i, v := range f["subjects"].GetListValue().GetValues() {
		sf := v.GetStructValue().GetFields()
		if sf == nil {
			return nil, fmt.Errorf("%w: subject %d is not an object", ErrMalformed, i)
		}
		sub := feed.Subject{Name: sf["name"].GetStringValue()}
		for _, sv := range sf["segments"].GetListValue().GetValues() {
			gf := sv.GetStructValue().GetFields()
			seg := feed.Segment{Name: gf["name"].GetStringValue()}
			if err := readFloats(gf["rotation"], seg.Rotation[:]); err != nil {
				return nil, fmt.Errorf("subject %q rotation: %w", sub.Name, err)
			}
			if err := readFloats(gf["translation"], seg.Translation[:]); err != nil {
				return nil, fmt.Errorf("subject %q translation: %w", sub.Name, err)
			}
			sub.Segments = append(sub.Segments, seg)
		}
		for _, mv := range sf["markers"].GetListValue().GetValues() {
			mf := mv.GetStructValue().GetFields()
			m := feed.RawMarker{Name: mf["name"].GetStringValue(), Occluded: mf["occluded"].GetBoolValue()}
			if err := readFloats(mf["translation"], m.Translation[:]); err != nil {
				return nil, fmt.Errorf("marker %q: %w", m.Name, err)
			}
			sub.Markers = append(sub.Markers, m)
		}
		s.Subjects = append(s.Subjects, sub)
	}
	return s, nil
}

// MarshalSnapshot returns the binary protobuf encoding of s.
func MarshalSnapshot(s *feed.Snapshot) ([]byte, error) {
	return proto.Marshal(SnapshotToStruct(s))
}

// UnmarshalSnapshot decodes a binary message from MarshalSnapshot.
func UnmarshalSnapshot(b []byte) (*feed.Snapshot, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return SnapshotFromStruct(&st)
}

// MarshalSnapshotJSON returns s as a single protojson line, without the
// trailing newline.
func MarshalSnapshotJSON(s *feed.Snapshot) ([]byte, error) {
	return jsonOptions.Marshal(SnapshotToStruct(s))
}

// UnmarshalSnapshotJSON decodes a line from MarshalSnapshotJSON.
func UnmarshalSnapshotJSON(b []byte) (*feed.Snapshot, error) {
	var st structpb.Struct
	if err := protojson.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return SnapshotFromStruct(&st)
}

// FrameToStruct encodes a decoded frame.
func FrameToStruct(f mocap.Frame) *structpb.Struct {
	objects := make([]*structpb.Value, 0, len(f.Objects))
	for _, o := range f.Objects {
		markers := make([]*structpb.Value, 0, len(o.Markers))
		for _, m := range o.Markers {
			markers = append(markers, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"name":     structpb.NewStringValue(m.Name),
				"position": floatList(m.Position[:]),
				"occluded": structpb.NewBoolValue(m.Occluded),
			}}))
		}
		objects = append(objects, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":     structpb.NewStringValue(o.Name),
			"rotation": floatList(o.Rotation[:]),
			"position": floatList(o.Position[:]),
			"occluded": structpb.NewBoolValue(o.Occluded),
			"markers":  structpb.NewListValue(&structpb.ListValue{Values: markers}),
		}}))
	}
	fields := map[string]*structpb.Value{
		"number":     structpb.NewNumberValue(float64(f.Number)),
		"frame_rate": floatValue(f.FrameRate),
		"objects":    structpb.NewListValue(&structpb.ListValue{Values: objects}),
	}
	if !f.Timestamp.IsZero() {
		fields["timestamp"] = structpb.NewStringValue(f.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	return &structpb.Struct{Fields: fields}
}

// FrameFromStruct decodes a message produced by FrameToStruct.
func FrameFromStruct(st *structpb.Struct) (mocap.Frame, error) {
	fields := st.GetFields()
	f := mocap.Frame{
		Number:    uint64(fields["number"].GetNumberValue()),
		FrameRate: numberOrNaN(fields["frame_rate"]),
	}
	if ts := fields["timestamp"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return mocap.Frame{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
		f.Timestamp = t
	}
	for i, v := range fields["objects"].GetListValue().GetValues() {
		of := v.GetStructValue().GetFields()
		if of == nil {
			return mocap.Frame{}, fmt.Errorf("%w: object %d is not an object", ErrMalformed, i)
		}
		o := mocap.Object{Name: of["name"].GetStringValue(), Occluded: of["occluded"].GetBoolValue()}
		if err := readFloats(of["rotation"], o.Rotation[:]); err != nil {
			return mocap.Frame{}, fmt.Errorf("object %q rotation: %w", o.Name, err)
		}
		if err := readFloats(of["position"], o.Position[:]); err != nil {
			return mocap.Frame{}, fmt.Errorf("object %q position: %w", o.Name, err)
		}
		for _, mv := range of["markers"].GetListValue().GetValues() {
			mf := mv.GetStructValue().GetFields()
			m := mocap.Marker{Name: mf["name"].GetStringValue(), Occluded: mf["occluded"].GetBoolValue()}
			if err := readFloats(mf["position"], m.Position[:]); err != nil {
				return mocap.Frame{}, fmt.Errorf("marker %q: %w", m.Name, err)
			}
			o.Markers = append(o.Markers, m)
		}
		f.Objects = append(f.Objects, o)
	}
	return f, nil
}

func floatValue(x float64) *structpb.Value {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(x)
}

func floatList(v []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, x := range v {
		vals[i] = floatValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func numberOrNaN(v *structpb.Value) float64 {
	if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
		return n.NumberValue
	}
	return math.NaN()
}

func readFloats(v *structpb.Value, dst []float64) error {
	vals := v.GetListValue().GetValues()
	if len(vals) != len(dst) {
		return fmt.Errorf("%w: want %d numbers, got %d", ErrMalformed, len(dst), len(vals))
	}
	for i, x := range vals {
		dst[i] = numberOrNaN(x)
	}
	return nil
}
