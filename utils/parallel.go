// Package utils contains small numeric and concurrency helpers shared by the planner packages.
package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. Tests that want deterministic
// scheduling can set this to 1.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

// MemberWorkFunc runs for each work item of a group and may fail.
type MemberWorkFunc func(workNum int) error

// GroupWorkParallel splits `totalSize` work items into contiguous groups and runs each group on its
// own goroutine. It returns once every group has finished; errors and panics from all members are
// combined. Work is skipped once the context is done.
func GroupWorkParallel(ctx context.Context, totalSize int, work MemberWorkFunc) error {
	if totalSize <= 0 {
		return nil
	}
	numGroups := ParallelFactor
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	var (
		wait     sync.WaitGroup
		errMu    sync.Mutex
		combined error
	)
	storeError := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		combined = multierr.Append(combined, err)
	}

	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		from := groupSize * groupNum
		to := from + groupSize
		if groupNum == numGroups-1 {
			to += extra
		}
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			defer func() {
				if thePanic := recover(); thePanic != nil {
					storeError(fmt.Errorf("got panic running group work in parallel: %v", thePanic))
				}
			}()
			for workNum := from; workNum < to; workNum++ {
				if ctx.Err() != nil {
					storeError(ctx.Err())
					return
				}
				if err := work(workNum); err != nil {
					storeError(errors.Wrapf(err, "work item %d", workNum))
				}
			}
		})
	}
	wait.Wait()
	return combined
}
