package spatialmath

import (
	"encoding/json"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Orientation is an interface used to express the different parameterizations of the orientation
// of a rigid object or a frame of reference in 3D Euclidean space.
type Orientation interface {
	AxisAngles() *R4AA
	Quaternion() quat.Number
}

// Quaternion is an orientation stored as a unit quaternion (w = Real).
type Quaternion quat.Number

// NewQuaternion returns the normalized quaternion w + xi + yj + zk.
func NewQuaternion(w, x, y, z float64) *Quaternion {
	q := Quaternion(Normalize(quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}))
	return &q
}

// NewZeroOrientation returns an orientation which signifies no rotation.
func NewZeroOrientation() Orientation {
	return &Quaternion{Real: 1}
}

// Quaternion returns orientation in quaternion representation.
func (q *Quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

// AxisAngles returns the orientation in axis angle representation.
func (q *Quaternion) AxisAngles() *R4AA {
	aa := QuatToR4AA(q.Quaternion())
	return &aa
}

// OrientationAlmostEqual returns whether two orientations are the same rotation within tolerance.
func OrientationAlmostEqual(o1, o2 Orientation) bool {
	return QuaternionAlmostEqual(o1.Quaternion(), o2.Quaternion(), 1e-5)
}

// OrientationBetween returns the orientation representing the difference between the two given Orientations.
func OrientationBetween(o1, o2 Orientation) Orientation {
	q := Quaternion(quat.Mul(o2.Quaternion(), quat.Conj(o1.Quaternion())))
	return &q
}

// QuaternionAlmostEqual is an equality test for two quaternions, accounting for the double cover
// (q and -q are the same rotation).
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	same := math.Abs(a.Real-b.Real) < tol && math.Abs(a.Imag-b.Imag) < tol &&
		math.Abs(a.Jmag-b.Jmag) < tol && math.Abs(a.Kmag-b.Kmag) < tol
	flipped := math.Abs(a.Real+b.Real) < tol && math.Abs(a.Imag+b.Imag) < tol &&
		math.Abs(a.Jmag+b.Jmag) < tol && math.Abs(a.Kmag+b.Kmag) < tol
	return same || flipped
}

// Normalize scales a quaternion to unit length. The zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/norm, q)
}

// RotateVector applies the rotation q to v.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// QuatToR4AA converts a quat to an R4 axis angle in the same way the C++ Eigen library does.
// https://eigen.tuxfamily.org/dox/AngleAxis_8h_source.html
func QuatToR4AA(q quat.Number) R4AA {
	denom := imagNorm(q)

	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}

	if denom < 1e-6 {
		return R4AA{Theta: angle, RX: 1}
	}
	return R4AA{angle, q.Imag / denom, q.Jmag / denom, q.Kmag / denom}
}

// QuatToR3AA converts a quat to an R3 axis angle, a vector whose direction is the rotation axis
// and whose length is the rotation angle. The identity maps to the zero vector.
func QuatToR3AA(q quat.Number) r3.Vector {
	denom := imagNorm(q)

	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}

	if denom < 1e-6 {
		// small-angle limit of angle/denom is 2/|w|
		if q.Real == 0 {
			return r3.Vector{}
		}
		scale := 2 / q.Real
		return r3.Vector{X: scale * q.Imag, Y: scale * q.Jmag, Z: scale * q.Kmag}
	}
	return r3.Vector{X: angle * q.Imag / denom, Y: angle * q.Jmag / denom, Z: angle * q.Kmag / denom}
}

func imagNorm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// OrientationConfig is the json form of an orientation. Type is one of "quaternion" or
// "axis_angles"; Value holds the matching fields.
type OrientationConfig struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type quaternionJSON struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ParseConfig converts the json form into an Orientation.
func (config *OrientationConfig) ParseConfig() (Orientation, error) {
	switch config.Type {
	case "quaternion":
		var q quaternionJSON
		if err := json.Unmarshal(config.Value, &q); err != nil {
			return nil, errors.Wrap(err, "bad quaternion")
		}
		return NewQuaternion(q.W, q.X, q.Y, q.Z), nil
	case "axis_angles", "":
		aa := NewR4AA()
		if len(config.Value) > 0 {
			if err := json.Unmarshal(config.Value, aa); err != nil {
				return nil, errors.Wrap(err, "bad axis angles")
			}
		}
		aa.Normalize()
		return aa, nil
	default:
		return nil, errors.Errorf("orientation type %q not recognized", config.Type)
	}
}
