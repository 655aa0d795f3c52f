//go:build windows || no_cgo

package sco

import (
	"context"

	"github.com/pkg/errors"
)

// NloptSolver mimics the type in the cgo compiled code.
type NloptSolver struct {
	MaxEval int
}

// NewNloptSolver is not supported on no_cgo builds.
func NewNloptSolver() (*NloptSolver, error) {
	return nil, errors.New("nlopt is not supported on this build")
}

// Solve refuses to solve problems without cgo.
func (s *NloptSolver) Solve(ctx context.Context, model *ConvexModel) ([]float64, error) {
	return nil, errors.New("cannot solve without cgo")
}
