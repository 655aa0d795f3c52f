package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viam-labs/trajopt/logging"
	"github.com/viam-labs/trajopt/motionplan/trajopt"
	"github.com/viam-labs/trajopt/pointcloud"
)

func TestExampleMethodsAgree(t *testing.T) {
	env, err := newExampleEnvironment(logging.NewTestLogger(t), "", "")
	test.That(t, err, test.ShouldBeNil)

	kin, ok := env.Kinematics(exampleManipulator)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, kin.LinkNames(), test.ShouldContain, octomapName)
	test.That(t, kin.CurrentJointValues()[1], test.ShouldEqual, .2762)

	fromDoc, doc, err := trajopt.ParseProblemBytes(defaultDocument, env)
	test.That(t, err, test.ShouldBeNil)
	fromCode, params, err := programmaticProblem(env, defaultNumSteps)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, doc.Params(), test.ShouldResemble, params)

	test.That(t, fromDoc.NumVars(), test.ShouldEqual, fromCode.NumVars())
	test.That(t, fromDoc.CostNames(), test.ShouldResemble, fromCode.CostNames())
	test.That(t, fromDoc.ConstraintNames(), test.ShouldResemble, fromCode.ConstraintNames())
	test.That(t, fromDoc.InitialVector(), test.ShouldResemble, fromCode.InitialVector())

	x := fromCode.InitialVector()
	for i, c := range fromCode.SCOProblem().Constraints() {
		want, err := c.Violation(x)
		test.That(t, err, test.ShouldBeNil)
		got, err := fromDoc.SCOProblem().Constraints()[i].Violation(x)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldAlmostEqual, want, 1e-9)
	}
}

func TestProgrammaticStepCount(t *testing.T) {
	env, err := newExampleEnvironment(logging.NewTestLogger(t), "", "")
	test.That(t, err, test.ShouldBeNil)
	p, _, err := programmaticProblem(env, 9)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.NumVars(), test.ShouldEqual, 9*7+8)
	test.That(t, len(p.ConstraintNames()), test.ShouldEqual, 9)

	pos, _ := waypoint(8, 9)
	test.That(t, pos.Y, test.ShouldAlmostEqual, .2, 1e-12)
}

func TestEnvironmentFromFiles(t *testing.T) {
	cloud, err := pointcloud.NewCubeCloudCentered(r3.Vector{}, 4, .05, 100)
	test.That(t, err, test.ShouldBeNil)
	path := filepath.Join(t.TempDir(), "cube.pcd")
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pointcloud.ToPCD(cloud, f), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	logger, logs := logging.NewObservedTestLogger(t)
	modelPath := filepath.Join("..", "..", "referenceframe", "models", exampleManipulator+".json")
	env, err := newExampleEnvironment(logger, modelPath, path)
	test.That(t, err, test.ShouldBeNil)
	kin, ok := env.Kinematics(exampleManipulator)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, kin.LinkNames(), test.ShouldContain, octomapName)
	test.That(t, logs.FilterMessageSnippet("example environment ready").Len(), test.ShouldEqual, 1)

	_, err = newExampleEnvironment(logger, "", filepath.Join(t.TempDir(), "missing.pcd"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "loading obstacle cloud")

	_, err = newExampleEnvironment(logger, filepath.Join(t.TempDir(), "missing.json"), "")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCommands(t *testing.T) {
	t.Run("schema", func(t *testing.T) {
		var out bytes.Buffer
		test.That(t, newApp(&out, &out).Run([]string{"cartesian-plan", "schema"}), test.ShouldBeNil)
		test.That(t, out.String(), test.ShouldContainSubstring, "basic_info")

		out.Reset()
		test.That(t, newApp(&out, &out).Run([]string{"cartesian-plan", "schema", "--terms"}), test.ShouldBeNil)
		test.That(t, out.String(), test.ShouldContainSubstring, "joint_vel_limit")
	})

	t.Run("missing config", func(t *testing.T) {
		var out bytes.Buffer
		err := newApp(&out, &out).Run([]string{
			"cartesian-plan", "plan", "--config", filepath.Join(t.TempDir(), "missing.json"),
		})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "reading problem document")
	})

	t.Run("unknown method", func(t *testing.T) {
		var out bytes.Buffer
		err := newApp(&out, &out).Run([]string{"cartesian-plan", "plan", "--method", "yaml"})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("bad log pattern", func(t *testing.T) {
		var out bytes.Buffer
		err := newApp(&out, &out).Run([]string{"cartesian-plan", "--log-pattern", "workflow", "plan"})
		test.That(t, err, test.ShouldNotBeNil)

		patterns, err := parseLogPatterns([]string{"cartesian-plan.*=debug"})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, patterns[0].Pattern, test.ShouldEqual, "cartesian-plan.*")
		test.That(t, patterns[0].Level, test.ShouldEqual, "debug")
	})

	t.Run("unknown solver", func(t *testing.T) {
		_, err := newSolver("simplex")
		test.That(t, err, test.ShouldNotBeNil)
	})
}
