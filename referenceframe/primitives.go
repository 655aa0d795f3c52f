package referenceframe

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/viam-labs/trajopt/utils"
)

// World is the name of the root frame every model is expressed in.
const World = "world"

// OOBErrString is a string that all OOB errors should contain, so that they can be checked for distinct from other
// Transform errors.
const OOBErrString = "input out of bounds"

// Input wraps the input to a mutable frame, e.g. a joint angle or a slider position. Revolute inputs are in
// radians. Prismatic inputs are in meters.
type Input struct {
	Value float64
}

// FloatsToInputs wraps a slice of floats in Inputs.
func FloatsToInputs(floats []float64) []Input {
	inputs := make([]Input, len(floats))
	for i, f := range floats {
		inputs[i] = Input{f}
	}
	return inputs
}

// InputsToFloats unwraps Inputs to raw floats.
func InputsToFloats(inputs []Input) []float64 {
	floats := make([]float64, len(inputs))
	for i, f := range inputs {
		floats[i] = f.Value
	}
	return floats
}

// InterpolateInputs will return a set of inputs that are the specified percent between the two given sets of
// inputs. For example, setting by to 0.5 will return the inputs halfway between the from/to values.
func InterpolateInputs(from, to []Input, by float64) []Input {
	newVals := make([]Input, 0, len(from))
	for i, j1 := range from {
		newVals = append(newVals, Input{j1.Value + ((to[i].Value - j1.Value) * by)})
	}
	return newVals
}

// InputsL2Distance returns the two-norm between the from and to vectors.
func InputsL2Distance(from, to []Input) float64 {
	if len(from) != len(to) {
		return math.Inf(1)
	}
	return floats.Distance(InputsToFloats(from), InputsToFloats(to), 2)
}

// Limit represents the limits of motion for a referenceframe.
type Limit struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the limit, inclusive.
func (l Limit) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

func limitsAlmostEqual(a, b []Limit) bool {
	if len(a) != len(b) {
		return false
	}

	const epsilon = 1e-5
	for idx, x := range a {
		if !utils.Float64AlmostEqual(x.Min, b[idx].Min, epsilon) ||
			!utils.Float64AlmostEqual(x.Max, b[idx].Max, epsilon) {
			return false
		}
	}

	return true
}
