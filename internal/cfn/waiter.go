package cfn

import (
	"context"
	"fmt"
	"time"

	"github.com/JonWallsten/aws-cdk/internal/awsapi"
)

// DefaultPollInterval is how often the waiter re-reads the live status.
const DefaultPollInterval = 5 * time.Second

// WaitForStabilize blocks until the stack leaves all in-progress statuses
// and returns the final view. The live status is re-read on every tick; the
// caller never assumes a status from a previous observation. A monitor, when
// given, is polled on the same cadence. The wait has no internal deadline;
// callers bound it through ctx if they need to.
func WaitForStabilize(ctx context.Context, api awsapi.CloudFormationAPI, stackName string, monitor *Monitor, interval time.Duration) (*Stack, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		stack, err := Lookup(ctx, api, stackName)
		if err != nil {
			// Transient describe issues: retry on the next tick.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
			continue
		}
		if monitor != nil {
			monitor.Poll(ctx)
		}
		if !stack.Exists {
			return stack, nil
		}
		if !stack.IsInProgress() {
			return stack, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// WaitForDelete blocks until the stack is gone or reports a failed delete.
func WaitForDelete(ctx context.Context, api awsapi.CloudFormationAPI, stackName string, monitor *Monitor, interval time.Duration) error {
	stack, err := WaitForStabilize(ctx, api, stackName, monitor, interval)
	if err != nil {
		return err
	}
	if !stack.Exists || stack.Status() == "DELETE_COMPLETE" {
		return nil
	}
	return fmt.Errorf("stack %s was not deleted, final status %s: %s", stackName, stack.Status(), stack.StatusReason())
}
