package utils

import (
	"github.com/pkg/errors"
)

// NewLengthMismatchError is used when two slices that must line up have different lengths.
func NewLengthMismatchError(what string, expected, actual int) error {
	return errors.Errorf("wrong number of %s: expected %d got %d", what, expected, actual)
}
