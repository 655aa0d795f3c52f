package trajopt

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.opencensus.io/trace"

	"github.com/viam-labs/trajopt/collision"
	"github.com/viam-labs/trajopt/utils"
)

// ContactReport lists contacts ordered by step, then link names.
type ContactReport []collision.Contact

// Summary aggregates the report.
func (r ContactReport) Summary() (collision.ContactSummary, error) {
	return collision.SummarizeContacts(r)
}

type checkOptions struct {
	contactDistance float64
	stepGap         int
}

// CheckOption configures CheckTrajectory.
type CheckOption func(*checkOptions)

// WithContactDistance reports pairs closer than d instead of only touching pairs.
func WithContactDistance(d float64) CheckOption {
	return func(o *checkOptions) { o.contactDistance = d }
}

// WithStepGap checks the motion from step i to step i+gap in continuous mode. The default is 1.
func WithStepGap(gap int) CheckOption {
	return func(o *checkOptions) { o.stepGap = gap }
}

// CheckTrajectory reports the contacts of the trajectory. Its columns follow jointNames, which must be exactly the
// joints of one manipulator in any order; linkNames restricts the report to those links, or to every collision
// link when empty. Discrete mode checks each state, continuous mode each motion between checked steps. It does not
// modify the environment.
func CheckTrajectory(
	ctx context.Context,
	env Environment,
	jointNames, linkNames []string,
	trajectory [][]float64,
	continuous bool,
	opts ...CheckOption,
) (ContactReport, error) {
	ctx, span := trace.StartSpan(ctx, "trajopt::CheckTrajectory")
	defer span.End()

	o := &checkOptions{stepGap: 1}
	for _, opt := range opts {
		opt(o)
	}
	manip, columns, err := env.ResolveManipulator(jointNames, linkNames)
	if err != nil {
		return nil, err
	}

	traj := make([][]float64, len(trajectory))
	for i, row := range trajectory {
		if len(row) != len(jointNames) {
			return nil, utils.NewLengthMismatchError(fmt.Sprintf("joint values at step %d", i), len(jointNames), len(row))
		}
		traj[i] = make([]float64, len(columns))
		for j, c := range columns {
			traj[i][j] = row[c]
		}
	}

	var contacts []collision.Contact
	if continuous {
		contacts, err = env.ContinuousCollisionCheckTrajectory(ctx, manip, traj, o.contactDistance, o.stepGap)
	} else {
		contacts, err = env.DiscreteCollisionCheckTrajectory(ctx, manip, traj, o.contactDistance)
	}
	if err != nil {
		return nil, err
	}
	if len(linkNames) > 0 {
		contacts = lo.Filter(contacts, func(c collision.Contact, _ int) bool {
			return lo.Contains(linkNames, c.LinkA) || lo.Contains(linkNames, c.LinkB)
		})
	}
	return ContactReport(contacts), nil
}
