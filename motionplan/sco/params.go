// Package sco is a sequential convex optimizer. It minimizes a sum of penalized error functions subject to penalized
// constraints over a box of variable bounds, using a trust-region SQP loop and an exact l1 merit function.
package sco

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// default values for the trust region loop.
const (
	// a step is accepted when the true improvement is at least this fraction of the improvement the model predicted.
	defaultImproveRatioThreshold = .25

	// the loop has converged once the trust box is smaller than this.
	defaultMinTrustBoxSize = 1e-4

	// the loop has converged once the model predicts less improvement than this.
	defaultMinApproxImprove = 1e-4

	// Number of linearizations before giving up.
	defaultMaxIter = 50

	defaultTrustShrinkRatio = .1
	defaultTrustExpandRatio = 1.5

	// constraints violated by less than this count as satisfied.
	defaultCntTolerance = 1e-4

	defaultMaxMeritCoeffIncreases  = 5
	defaultMeritCoeffIncreaseRatio = 10
	defaultInitialMeritErrorCoeff  = 10
	defaultInitialTrustBoxSize     = 1e-1

	// step used for central difference jacobians when a term does not set its own.
	defaultJacobianStep = 1e-5

	// consecutive convex solver failures tolerated before the problem is declared infeasible.
	maxConsecutiveSolverFailures = 3
)

// the loop has converged once the predicted improvement is less than this fraction of the merit. Off by default.
var defaultMinApproxImproveFrac = math.Inf(-1)

// Params configures TrustRegionSQP. The JSON names match the opt_info section of a problem document.
type Params struct {
	ImproveRatioThreshold   float64       `json:"improve_ratio_threshold"`
	MinTrustBoxSize         float64       `json:"min_trust_box_size"`
	MinApproxImprove        float64       `json:"min_approx_improve"`
	MinApproxImproveFrac    float64       `json:"min_approx_improve_frac"`
	MaxIter                 int           `json:"max_iter"`
	TrustShrinkRatio        float64       `json:"trust_shrink_ratio"`
	TrustExpandRatio        float64       `json:"trust_expand_ratio"`
	CntTolerance            float64       `json:"cnt_tolerance"`
	MaxMeritCoeffIncreases  int           `json:"max_merit_coeff_increases"`
	MeritCoeffIncreaseRatio float64       `json:"merit_coeff_increase_ratio"`
	InitialMeritErrorCoeff  float64       `json:"merit_error_coeff"`
	InitialTrustBoxSize     float64       `json:"trust_box_size"`
	MaxTime                 time.Duration `json:"max_time"`
}

// NewParams returns the default parameters.
func NewParams() Params {
	return Params{
		ImproveRatioThreshold:   defaultImproveRatioThreshold,
		MinTrustBoxSize:         defaultMinTrustBoxSize,
		MinApproxImprove:        defaultMinApproxImprove,
		MinApproxImproveFrac:    defaultMinApproxImproveFrac,
		MaxIter:                 defaultMaxIter,
		TrustShrinkRatio:        defaultTrustShrinkRatio,
		TrustExpandRatio:        defaultTrustExpandRatio,
		CntTolerance:            defaultCntTolerance,
		MaxMeritCoeffIncreases:  defaultMaxMeritCoeffIncreases,
		MeritCoeffIncreaseRatio: defaultMeritCoeffIncreaseRatio,
		InitialMeritErrorCoeff:  defaultInitialMeritErrorCoeff,
		InitialTrustBoxSize:     defaultInitialTrustBoxSize,
	}
}

// Validate checks that the parameters describe a loop that can make progress.
func (p Params) Validate() error {
	switch {
	case p.MaxIter < 0:
		return errors.Errorf("max_iter must not be negative, got %d", p.MaxIter)
	case p.TrustShrinkRatio <= 0 || p.TrustShrinkRatio >= 1:
		return errors.Errorf("trust_shrink_ratio must be in (0, 1), got %f", p.TrustShrinkRatio)
	case p.TrustExpandRatio < 1:
		return errors.Errorf("trust_expand_ratio must be at least 1, got %f", p.TrustExpandRatio)
	case p.InitialTrustBoxSize <= 0:
		return errors.Errorf("trust_box_size must be positive, got %f", p.InitialTrustBoxSize)
	case p.InitialMeritErrorCoeff <= 0:
		return errors.Errorf("merit_error_coeff must be positive, got %f", p.InitialMeritErrorCoeff)
	case p.MeritCoeffIncreaseRatio <= 1:
		return errors.Errorf("merit_coeff_increase_ratio must be greater than 1, got %f", p.MeritCoeffIncreaseRatio)
	case p.MaxMeritCoeffIncreases < 0:
		return errors.Errorf("max_merit_coeff_increases must not be negative, got %d", p.MaxMeritCoeffIncreases)
	case p.CntTolerance < 0:
		return errors.Errorf("cnt_tolerance must not be negative, got %f", p.CntTolerance)
	case p.MaxTime < 0:
		return errors.Errorf("max_time must not be negative, got %s", p.MaxTime)
	}
	return nil
}
