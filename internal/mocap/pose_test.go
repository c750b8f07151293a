package mocap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poseTol = 1e-9

// rotZ returns a rotation of theta radians about the z axis.
func rotZ(theta float64) Rotation {
	c, s := math.Cos(theta), math.Sin(theta)
	return Rotation{c, -s, 0, s, c, 0, 0, 0, 1}
}

func TestRotationAt(t *testing.T) {
	r := Rotation{1, 2, 3, 4, 5, 6, 7, 8, 9}

	v, err := r.At(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = r.At(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	v, err = r.At(3, 1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	_, err = r.At(0, 1)
	assert.Error(t, err)
	_, err = r.At(1, 4)
	assert.Error(t, err)
}

func TestObjectTransform(t *testing.T) {
	o := Object{Name: "a", Rotation: rotZ(math.Pi / 2), Position: Position{1, 2, 3}}
	tr := o.Transform()

	r, c := tr.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 4, c)
	assert.InDelta(t, -1.0, tr.At(0, 1), poseTol)
	assert.Equal(t, 3.0, tr.At(2, 3))
	assert.Equal(t, 1.0, tr.At(3, 3))
	assert.Equal(t, 0.0, tr.At(3, 0))
}

func TestObjectInverse_ComposesToIdentity(t *testing.T) {
	o := Object{Name: "wand", Rotation: rotZ(0.3), Position: Position{0.5, -1.2, 2}}

	inv := o.Inverse()
	assert.Equal(t, "wand_inv", inv.Name)

	id := o.Compose(inv)
	assert.Equal(t, "wand_wand_inv", id.Name)
	for i, want := range IdentityRotation() {
		assert.InDelta(t, want, id.Rotation[i], poseTol, "rotation[%d]", i)
	}
	for i := range id.Position {
		assert.InDelta(t, 0.0, id.Position[i], poseTol, "position[%d]", i)
	}
}

func TestObjectCompose_Translation(t *testing.T) {
	base := Object{Name: "base", Rotation: rotZ(math.Pi / 2), Position: Position{1, 0, 0}}
	tool := Object{Name: "tool", Rotation: IdentityRotation(), Position: Position{1, 0, 0}}

	got := base.Compose(tool)
	assert.InDelta(t, 1.0, got.Position[0], poseTol)
	assert.InDelta(t, 1.0, got.Position[1], poseTol)
	assert.InDelta(t, 0.0, got.Position[2], poseTol)
}

func TestObjectPose_OccludedPropagates(t *testing.T) {
	ok := Object{Name: "a", Rotation: IdentityRotation(), Position: Position{1, 2, 3}}
	gone := OccludedObject("b")

	assert.True(t, ok.Compose(gone).Occluded)
	assert.True(t, gone.Compose(ok).Rotation.IsNaN())
	assert.True(t, gone.Inverse().Position.IsNaN())

	q := gone.Quaternion()
	assert.True(t, math.IsNaN(q.Real))
}

func TestObjectQuaternion(t *testing.T) {
	q := Object{Rotation: IdentityRotation()}.Quaternion()
	assert.InDelta(t, 1.0, q.Real, poseTol)
	assert.InDelta(t, 0.0, q.Imag, poseTol)
	assert.InDelta(t, 0.0, q.Jmag, poseTol)
	assert.InDelta(t, 0.0, q.Kmag, poseTol)

	q = Object{Rotation: rotZ(math.Pi / 2)}.Quaternion()
	assert.InDelta(t, math.Sqrt2/2, q.Real, poseTol)
	assert.InDelta(t, math.Sqrt2/2, q.Kmag, poseTol)

	// 180 degrees about x exercises the non-positive trace branch.
	q = Object{Rotation: Rotation{1, 0, 0, 0, -1, 0, 0, 0, -1}}.Quaternion()
	assert.InDelta(t, 0.0, q.Real, poseTol)
	assert.InDelta(t, 1.0, q.Imag, poseTol)
}
