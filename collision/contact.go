package collision

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/viam-labs/trajopt/utils"
)

// Contact is a pair of bodies closer than the contact distance. Negative distance is penetration depth. Continuous
// contacts were found on the motion from Step to the following checked step.
type Contact struct {
	Step       int
	LinkA      string
	LinkB      string
	Distance   float64
	Continuous bool
}

func (c Contact) String() string {
	kind := "discrete"
	if c.Continuous {
		kind = "continuous"
	}
	return fmt.Sprintf("step %d %s: %s <-> %s at %.4f", c.Step, kind, c.LinkA, c.LinkB, c.Distance)
}

// SortContacts orders contacts by step, then link names, then distance.
func SortContacts(contacts []Contact) {
	slices.SortFunc(contacts, func(a, b Contact) int {
		if a.Step != b.Step {
			return a.Step - b.Step
		}
		if c := strings.Compare(a.LinkA, b.LinkA); c != 0 {
			return c
		}
		if c := strings.Compare(a.LinkB, b.LinkB); c != 0 {
			return c
		}
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return 0
		}
	})
}

// EnvironmentMismatchError is returned when joint or link names do not belong to any manipulator in the scene.
type EnvironmentMismatchError struct {
	JointNames []string
	LinkNames  []string
	Reason     string
}

func (e *EnvironmentMismatchError) Error() string {
	return fmt.Sprintf("environment mismatch for joints %v and links %v: %s", e.JointNames, e.LinkNames, e.Reason)
}

// ResolveManipulator finds the manipulator owning exactly the given joints and every given link. It also returns, for
// each of the manipulator's joints, the index of that joint in jointNames.
func (env *Environment) ResolveManipulator(jointNames, linkNames []string) (string, []int, error) {
	env.mu.RLock()
	defer env.mu.RUnlock()

	reason := "no manipulator has exactly these joints"
	for _, name := range sortedKeys(env.manipulators) {
		m := env.manipulators[name]
		joints := m.model.JointNames()
		if len(joints) != len(jointNames) || len(lo.Uniq(jointNames)) != len(jointNames) {
			continue
		}
		columns := make([]int, len(joints))
		matched := true
		for i, j := range joints {
			columns[i] = slices.Index(jointNames, j)
			if columns[i] < 0 {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		if missing, _ := lo.Difference(linkNames, env.collisionLinkNames(m)); len(missing) > 0 {
			reason = fmt.Sprintf("manipulator %q has no collision links %v", name, missing)
			continue
		}
		return name, columns, nil
	}
	return "", nil, &EnvironmentMismatchError{JointNames: jointNames, LinkNames: linkNames, Reason: reason}
}

// DiscreteCollisionCheckTrajectory reports every pair closer than contactDistance at each state of the trajectory.
// Rows of traj are joint vectors in the manipulator's joint order.
func (env *Environment) DiscreteCollisionCheckTrajectory(
	ctx context.Context, manipName string, traj [][]float64, contactDistance float64,
) ([]Contact, error) {
	return env.checkTrajectory(ctx, manipName, traj, contactDistance, 0)
}

// ContinuousCollisionCheckTrajectory reports every pair closer than contactDistance on the motion between step i and
// step i+stepGap, for every i. A stepGap below 1 is treated as 1.
func (env *Environment) ContinuousCollisionCheckTrajectory(
	ctx context.Context, manipName string, traj [][]float64, contactDistance float64, stepGap int,
) ([]Contact, error) {
	if stepGap < 1 {
		stepGap = 1
	}
	return env.checkTrajectory(ctx, manipName, traj, contactDistance, stepGap)
}

// checkTrajectory checks states when gap is zero and motions otherwise. Steps are checked concurrently and merged in
// a deterministic order.
func (env *Environment) checkTrajectory(
	ctx context.Context, manipName string, traj [][]float64, contactDistance float64, gap int,
) ([]Contact, error) {
	n := len(traj)
	if gap > 0 {
		n = len(traj) - gap
	}
	if n <= 0 {
		return []Contact{}, nil
	}

	perStep := make([][]Contact, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(utils.ParallelFactor, 1))
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var q1 []float64
			if gap > 0 {
				q1 = traj[i+gap]
			}
			return env.visitPairs(manipName, traj[i], q1, func(link, other string, dist float64) {
				if other != "" && dist < contactDistance {
					perStep[i] = append(perStep[i], Contact{Step: i, LinkA: link, LinkB: other, Distance: dist, Continuous: gap > 0})
				}
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "collision check failed")
	}

	contacts := lo.Flatten(perStep)
	SortContacts(contacts)
	return contacts, nil
}

// ContactSummary aggregates a contact report.
type ContactSummary struct {
	Count        int
	MinDistance  float64
	MeanDistance float64
	Steps        []int
	Links        []string
}

// SummarizeContacts computes the summary of a report. An empty report has zero distances.
func SummarizeContacts(contacts []Contact) (ContactSummary, error) {
	summary := ContactSummary{Count: len(contacts), Steps: []int{}, Links: []string{}}
	if len(contacts) == 0 {
		return summary, nil
	}
	distances := stats.Float64Data(lo.Map(contacts, func(c Contact, _ int) float64 { return c.Distance }))
	var err error
	if summary.MinDistance, err = distances.Min(); err != nil {
		return summary, err
	}
	if summary.MeanDistance, err = distances.Mean(); err != nil {
		return summary, err
	}
	summary.Steps = lo.Uniq(lo.Map(contacts, func(c Contact, _ int) int { return c.Step }))
	summary.Links = lo.Uniq(lo.Map(contacts, func(c Contact, _ int) string { return c.LinkA }))
	slices.Sort(summary.Steps)
	slices.Sort(summary.Links)
	return summary, nil
}
