package decode

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
)

var identity = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

func TestOccludedHeuristic(t *testing.T) {
	tests := []struct {
		name string
		rot  mocap.Rotation
		pos  mocap.Position
		want bool
	}{
		{"zero rotation", mocap.Rotation{}, mocap.Position{1, 2, 3}, true},
		{"zero position", mocap.Rotation{1, 0, 0, 0, 0, 0, 0, 0, 0}, mocap.Position{}, true},
		{"identity", mocap.Rotation(identity), mocap.Position{1, 2, 3}, false},
		{"near zero is not zero", mocap.Rotation(identity), mocap.Position{1e-12, 0, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Occluded(tt.rot, tt.pos))
		})
	}
}

func TestDecode(t *testing.T) {
	raw := &feed.Snapshot{
		Number: 7,
		Subjects: []feed.Subject{
			feed.RigidSubject("B", identity, [3]float64{1, 2, 3},
				feed.RawMarker{Name: "b1", Translation: [3]float64{1, 1, 1}},
				feed.RawMarker{Name: "b2", Translation: [3]float64{9, 9, 9}, Occluded: true},
			),
			feed.RigidSubject("A", [9]float64{}, [3]float64{1, 2, 3}),
		},
	}

	got, err := Decode(raw)
	require.NoError(t, err)

	want := mocap.Frame{
		Number: 7,
		Objects: []mocap.Object{
			{
				Name:     "B",
				Rotation: mocap.Rotation(identity),
				Position: mocap.Position{1, 2, 3},
				Markers: []mocap.Marker{
					{Name: "b1", Position: mocap.Position{1, 1, 1}},
					mocap.OccludedMarker("b2"),
				},
			},
			mocap.OccludedObject("A"),
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeOccludedKeepsMarkers(t *testing.T) {
	raw := &feed.Snapshot{Subjects: []feed.Subject{
		feed.RigidSubject("A", identity, [3]float64{},
			feed.RawMarker{Name: "a1", Translation: [3]float64{4, 5, 6}}),
	}}
	got, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, got.Objects, 1)
	obj := got.Objects[0]
	assert.True(t, obj.Occluded)
	assert.True(t, obj.Rotation.IsNaN())
	assert.True(t, obj.Position.IsNaN())
	require.Len(t, obj.Markers, 1)
	assert.Equal(t, mocap.Position{4, 5, 6}, obj.Markers[0].Position)
}

func TestDecodeSegmentCount(t *testing.T) {
	raw := &feed.Snapshot{Subjects: []feed.Subject{
		{Name: "Arm", Segments: []feed.Segment{{Name: "upper"}, {Name: "lower"}}},
	}}
	_, err := Decode(raw)
	assert.ErrorIs(t, err, ErrSegmentCount)
	assert.Contains(t, err.Error(), `"Arm" has 2`)

	raw = &feed.Snapshot{Subjects: []feed.Subject{{Name: "Empty"}}}
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrSegmentCount)
}

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode(&feed.Snapshot{Number: 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Number)
	assert.Empty(t, got.Objects)
}
