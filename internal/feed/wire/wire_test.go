package wire

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
)

func sampleSnapshot() *feed.Snapshot {
	return &feed.Snapshot{
		Number: 1234,
		Rate:   100,
		Subjects: []feed.Subject{
			feed.RigidSubject("Tool", [9]float64{0, -1, 0, 1, 0, 0, 0, 0, 1}, [3]float64{10.5, -2, 300},
				feed.RawMarker{Name: "t1", Translation: [3]float64{1, 2, 3}},
				feed.RawMarker{Name: "t2", Occluded: true},
			),
			feed.RigidSubject("Base", [9]float64{}, [3]float64{}),
		},
	}
}

func TestSnapshotBinary(t *testing.T) {
	want := sampleSnapshot()
	b, err := MarshalSnapshot(want)
	require.NoError(t, err)

	got, err := UnmarshalSnapshot(b)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotJSONIsOneLine(t *testing.T) {
	want := sampleSnapshot()
	b, err := MarshalSnapshotJSON(want)
	require.NoError(t, err)
	assert.False(t, bytes.ContainsRune(b, '\n'))

	got, err := UnmarshalSnapshotJSON(b)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotMissingRateIsNaN(t *testing.T) {
	s := sampleSnapshot()
	s.Rate = math.NaN()
	got, err := UnmarshalSnapshotJSON(mustJSON(t, s))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Rate))
}

func TestSnapshotMalformed(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = UnmarshalSnapshotJSON([]byte(`{"subjects":[{"name":"A","segments":[{"name":"A","rotation":[1,2],"translation":[0,0,0]}]}]}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = UnmarshalSnapshotJSON([]byte(`{"subjects":[3]}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = UnmarshalSnapshotJSON([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFrameStruct(t *testing.T) {
	want := mocap.Frame{
		Number:    9,
		FrameRate: 120,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC),
		Objects: []mocap.Object{
			{
				Name:     "Tool",
				Rotation: mocap.IdentityRotation(),
				Position: mocap.Position{1, 2, 3},
				Markers:  []mocap.Marker{{Name: "t1", Position: mocap.Position{1, 1, 1}}, mocap.OccludedMarker("t2")},
			},
			mocap.OccludedObject("Base"),
		},
	}
	st := FrameToStruct(want)
	assert.Equal(t, structpb.NullValue_NULL_VALUE, st.Fields["objects"].GetListValue().Values[1].GetStructValue().Fields["position"].GetListValue().Values[0].GetNullValue())

	got, err := FrameFromStruct(st)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateNaNs(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameStructBadTimestamp(t *testing.T) {
	st := FrameToStruct(mocap.Frame{Number: 1})
	st.Fields["timestamp"] = structpb.NewStringValue("yesterday")
	_, err := FrameFromStruct(st)
	assert.ErrorIs(t, err, ErrMalformed)
}

func mustJSON(t *testing.T, s *feed.Snapshot) []byte {
	t.Helper()
	b, err := MarshalSnapshotJSON(s)
	require.NoError(t, err)
	return b
}
