package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a 6dof pose: a position and an orientation. Positions are in meters.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

// dualQuaternion is the Pose implementation. The real part is the rotation and the dual part
// encodes the translation, so composing poses is a single dual quaternion product.
type dualQuaternion struct {
	dualquat.Number
}

func newDualQuaternion() *dualQuaternion {
	return &dualQuaternion{dualquat.Number{Real: quat.Number{Real: 1}}}
}

func dualQuaternionFromPose(p Pose) *dualQuaternion {
	if q, ok := p.(*dualQuaternion); ok {
		return q
	}
	return newDualQuaternionFromPose(p.Point(), p.Orientation())
}

func newDualQuaternionFromPose(pt r3.Vector, o Orientation) *dualQuaternion {
	q := newDualQuaternion()
	if o != nil {
		q.Real = Normalize(o.Quaternion())
	}
	q.setTranslation(pt)
	return q
}

func (q *dualQuaternion) setTranslation(pt r3.Vector) {
	q.Dual = quat.Scale(0.5, quat.Mul(quat.Number{Imag: pt.X, Jmag: pt.Y, Kmag: pt.Z}, q.Real))
}

// Point returns the translation encoded in the dual part.
func (q *dualQuaternion) Point() r3.Vector {
	tQuat := quat.Scale(2, quat.Mul(q.Dual, quat.Conj(q.Real)))
	return r3.Vector{X: tQuat.Imag, Y: tQuat.Jmag, Z: tQuat.Kmag}
}

// Orientation returns the rotation.
func (q *dualQuaternion) Orientation() Orientation {
	o := Quaternion(q.Real)
	return &o
}

func (q *dualQuaternion) String() string {
	pt := q.Point()
	aa := QuatToR4AA(q.Real)
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f TH:%.4f RX:%.3f RY:%.3f RZ:%.3f}", pt.X, pt.Y, pt.Z, aa.Theta, aa.RX, aa.RY, aa.RZ)
}

// NewPose builds a pose from a point and an orientation. A nil orientation is the identity.
func NewPose(pt r3.Vector, o Orientation) Pose {
	return newDualQuaternionFromPose(pt, o)
}

// NewPoseFromPoint builds a pose with no rotation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return newDualQuaternionFromPose(pt, nil)
}

// NewPoseFromOrientation builds a pose with no translation.
func NewPoseFromOrientation(o Orientation) Pose {
	return newDualQuaternionFromPose(r3.Vector{}, o)
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return newDualQuaternion()
}

// Compose returns a*b: b expressed in the frame described by a.
func Compose(a, b Pose) Pose {
	result := &dualQuaternion{dualquat.Mul(dualQuaternionFromPose(a).Number, dualQuaternionFromPose(b).Number)}
	// Keep the rotation unit length so long kinematic chains do not drift.
	norm := quat.Abs(result.Real)
	if norm > 0 && math.Abs(norm-1) > 1e-12 {
		result.Real = quat.Scale(1/norm, result.Real)
		result.Dual = quat.Scale(1/norm, result.Dual)
	}
	return result
}

// PoseInverse returns the pose that undoes p.
func PoseInverse(p Pose) Pose {
	return &dualQuaternion{dualquat.ConjQuat(dualQuaternionFromPose(p).Number)}
}

// PoseBetween returns the pose that takes a to b, i.e. Compose(a, PoseBetween(a, b)) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// PoseDelta returns the difference between two poses in the world frame: the translation b-a and
// the rotation from a to b.
func PoseDelta(a, b Pose) Pose {
	return NewPose(b.Point().Sub(a.Point()), OrientationBetween(a.Orientation(), b.Orientation()))
}

// TransformPoint maps a point expressed in the frame p into the parent frame.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	return RotateVector(Normalize(p.Orientation().Quaternion()), pt).Add(p.Point())
}

// PoseAlmostEqual returns whether two poses agree within 1e-6 m and rotation tolerance.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-6)
}

// PoseAlmostEqualEps returns whether two poses agree within epsilon.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return a.Point().Sub(b.Point()).Norm() <= epsilon &&
		QuaternionAlmostEqual(a.Orientation().Quaternion(), b.Orientation().Quaternion(), math.Max(epsilon, 1e-5))
}
