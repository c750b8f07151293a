package mocap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Matrix returns the rotation as a 3x3 gonum matrix.
func (r Rotation) Matrix() *mat.Dense {
	data := make([]float64, 9)
	copy(data, r[:])
	return mat.NewDense(3, 3, data)
}

// At returns R(row, col). Counting starts at 1, matching how the feed
// documents its matrices, so the valid range is [1, 3].
func (r Rotation) At(row, col int) (float64, error) {
	if row < 1 || row > 3 || col < 1 || col > 3 {
		return math.NaN(), fmt.Errorf("rotation index (%d,%d) out of range [1,3]", row, col)
	}
	return r[3*(row-1)+(col-1)], nil
}

// Transform returns the 4x4 homogeneous transform [R p; 0 1].
func (o Object) Transform() *mat.Dense {
	t := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.Set(i, j, o.Rotation[3*i+j])
		}
		t.Set(i, 3, o.Position[i])
	}
	t.Set(3, 3, 1)
	return t
}

// Inverse returns the inverse pose (R^T, -R^T p). The result is named
// "<name>_inv" and carries no markers.
func (o Object) Inverse() Object {
	name := o.Name + "_inv"
	if o.Occluded {
		return OccludedObject(name)
	}

	rt := mat.DenseCopyOf(o.Rotation.Matrix().T())
	p := mat.NewVecDense(3, []float64{o.Position[0], o.Position[1], o.Position[2]})
	var q mat.VecDense
	q.MulVec(rt, p)
	q.ScaleVec(-1, &q)

	inv := Object{Name: name}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv.Rotation[3*i+j] = rt.At(i, j)
		}
		inv.Position[i] = q.AtVec(i)
	}
	return inv
}

// Compose returns the pose o @ other, i.e. other expressed in the frame of o
// chained onto o. The result is named "<o>_<other>". If either operand is
// occluded the result is an occluded placeholder.
func (o Object) Compose(other Object) Object {
	name := o.Name + "_" + other.Name
	if o.Occluded || other.Occluded {
		return OccludedObject(name)
	}

	var t mat.Dense
	t.Mul(o.Transform(), other.Transform())

	out := Object{Name: name}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Rotation[3*i+j] = t.At(i, j)
		}
		out.Position[i] = t.At(i, 3)
	}
	return out
}

// Quaternion converts the rotation to a unit quaternion (Real = w,
// Imag/Jmag/Kmag = x/y/z) with non-negative w. An occluded Object yields an
// all-NaN quaternion.
func (o Object) Quaternion() quat.Number {
	if o.Occluded {
		nan := math.NaN()
		return quat.Number{Real: nan, Imag: nan, Jmag: nan, Kmag: nan}
	}
	return rotationToQuat(o.Rotation)
}

func rotationToQuat(r Rotation) quat.Number {
	m00, m01, m02 := r[0], r[1], r[2]
	m10, m11, m12 := r[3], r[4], r[5]
	m20, m21, m22 := r[6], r[7], r[8]

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 / s, Imag: (m21 - m12) * s, Jmag: (m02 - m20) * s, Kmag: (m10 - m01) * s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}

	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}
