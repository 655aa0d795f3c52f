package trajopt

import (
	"context"

	"github.com/viam-labs/trajopt/collision"
)

// Environment is the planning scene a problem is built and checked against. Problems borrow it: it must outlive
// them and must not change while an optimization runs.
type Environment interface {
	Kinematics(name string) (collision.Kinematics, bool)
	LinkClearances(manipName string, q []float64) ([]collision.Clearance, error)
	SweptLinkClearances(manipName string, q0, q1 []float64) ([]collision.Clearance, error)
	ResolveManipulator(jointNames, linkNames []string) (string, []int, error)
	DiscreteCollisionCheckTrajectory(
		ctx context.Context, manipName string, traj [][]float64, contactDistance float64,
	) ([]collision.Contact, error)
	ContinuousCollisionCheckTrajectory(
		ctx context.Context, manipName string, traj [][]float64, contactDistance float64, stepGap int,
	) ([]collision.Contact, error)
}

var _ Environment = (*collision.Environment)(nil)
