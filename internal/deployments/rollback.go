package deployments

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/google/uuid"

	"github.com/JonWallsten/aws-cdk/internal/cfn"
	"github.com/JonWallsten/aws-cdk/internal/envs"
)

// maxRollbackIterations bounds the recovery loop. Hitting the bound raises
// RollbackExhaustedError, distinct from per-iteration failures.
const maxRollbackIterations = 10

// RollbackStackOptions configures one rollback recovery operation.
type RollbackStackOptions struct {
	Stack        StackRef
	RoleOverride string
	// Force recomputes and orphans stuck resources on each continuation.
	Force bool
	// OrphanLogicalIDs seeds the skip set for continuation calls.
	OrphanLogicalIDs []string
	// ValidateBootstrapStackVersion toggles the compatibility gate.
	ValidateBootstrapStackVersion bool
}

// RollbackStackResult is the structured outcome of a rollback operation.
// A stack that was never in a rollbackable state is reported here, not as
// an error.
type RollbackStackResult struct {
	Success                bool
	NotInRollbackableState bool
}

// RollbackStack drives a stack stuck outside a stable state to a terminal
// state. Once a mutating call has been issued the orchestrator always waits
// for stabilization before returning, so the stack is never left in front of
// a dangling mutation.
func (d *Deployments) RollbackStack(ctx context.Context, opts RollbackStackOptions) (*RollbackStackResult, error) {
	prepared, err := d.PrepareSdkWithDeployRole(ctx, opts.Stack, opts.RoleOverride, envs.ForWriting)
	if err != nil {
		return nil, err
	}
	if opts.ValidateBootstrapStackVersion {
		if err := prepared.EnvResources.ValidateVersion(ctx, opts.Stack.StackName, opts.Stack.RequiresBootstrapStackVersion, opts.Stack.BootstrapStackVersionSSMParameter); err != nil {
			return nil, err
		}
	}

	api := prepared.Client.Client.CloudFormation
	stackName := opts.Stack.StackName
	resourcesToSkip := append([]string(nil), opts.OrphanLogicalIDs...)

	for i := 0; i < maxRollbackIterations; i++ {
		// The live status is re-read at the top of every iteration, never
		// assumed from the previous one.
		stack, err := cfn.Lookup(ctx, api, stackName)
		if err != nil {
			return nil, err
		}
		if !stack.Exists {
			return nil, fmt.Errorf("stack %s does not exist", stackName)
		}

		switch stack.RollbackChoice() {
		case cfn.ChoiceNone:
			fmt.Fprintf(d.w, "[deploy] stack %s does not need a rollback: %s\n", stackName, stack.Status())
			return &RollbackStackResult{NotInRollbackableState: true}, nil

		case cfn.ChoiceRollbackFailed:
			fmt.Fprintf(d.w, "[deploy] stack %s is in %s and cannot be recovered automatically\n", stackName, stack.Status())
			return &RollbackStackResult{NotInRollbackableState: true}, nil

		case cfn.ChoiceStartRollback:
			fmt.Fprintf(d.w, "[deploy] initiating rollback of stack %s\n", stackName)
			_, err := api.RollbackStack(ctx, &cloudformation.RollbackStackInput{
				StackName:          aws.String(stackName),
				RoleARN:            optionalARN(prepared.ExecutionRoleARN),
				ClientRequestToken: aws.String("rollback-" + uuid.NewString()),
				// Never delete resources that were still being created and
				// are not yet associated with the stack.
				RetainExceptOnCreate: aws.Bool(true),
			})
			if err != nil {
				return nil, fmt.Errorf("initiating rollback of stack %s: %w", stackName, err)
			}

		case cfn.ChoiceContinueUpdateRollback:
			if opts.Force {
				failed, err := cfn.FailedResources(ctx, api, stackName, []string{
					string(cfntypes.StackStatusRollbackInProgress),
					string(cfntypes.StackStatusUpdateRollbackInProgress),
				})
				if err != nil {
					return nil, err
				}
				resourcesToSkip = mergeSkipSet(resourcesToSkip, failed)
			}
			if len(resourcesToSkip) > 0 {
				fmt.Fprintf(d.w, "[deploy] continuing rollback of stack %s, orphaning: %s\n", stackName, strings.Join(resourcesToSkip, ", "))
			} else {
				fmt.Fprintf(d.w, "[deploy] continuing rollback of stack %s\n", stackName)
			}
			_, err := api.ContinueUpdateRollback(ctx, &cloudformation.ContinueUpdateRollbackInput{
				StackName:          aws.String(stackName),
				RoleARN:            optionalARN(prepared.ExecutionRoleARN),
				ClientRequestToken: aws.String("continue-rollback-" + uuid.NewString()),
				ResourcesToSkip:    resourcesToSkip,
			})
			if err != nil {
				return nil, fmt.Errorf("continuing rollback of stack %s: %w", stackName, err)
			}

		default:
			return nil, fmt.Errorf("unexpected status of stack %s: %s", stackName, stack.Status())
		}

		var monitor *cfn.Monitor
		if !d.quiet {
			monitor = cfn.NewMonitor(api, stackName, d.w)
		}

		waited, err := cfn.WaitForStabilize(ctx, api, stackName, monitor, d.pollInterval)
		if err != nil {
			return nil, err
		}
		if !waited.Exists {
			return nil, fmt.Errorf("stack %s was deleted during rollback", stackName)
		}
		if waited.IsRollbackSuccess() {
			return &RollbackStackResult{Success: true}, nil
		}

		// Another round makes sense only when forced recovery can orphan
		// its way past a stuck continuation.
		if waited.RollbackChoice() == cfn.ChoiceContinueUpdateRollback && opts.Force {
			continue
		}
		message := fmt.Sprintf("rollback did not complete, final status %s", waited.Status())
		if errs := monitor.Errors(); len(errs) > 0 {
			message = strings.Join(errs, ", ")
		}
		return nil, &RollbackProgressError{
			StackName:   stackName,
			Message:     message,
			EventErrors: monitor.Errors(),
		}
	}

	return nil, &RollbackExhaustedError{StackName: stackName, Iterations: maxRollbackIterations}
}

// mergeSkipSet unions the prior orphan list with the newly computed failure
// set, keeping first-seen order.
func mergeSkipSet(prior, computed []string) []string {
	seen := make(map[string]bool, len(prior)+len(computed))
	var out []string
	for _, id := range prior {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range computed {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func optionalARN(arn string) *string {
	if arn == "" {
		return nil
	}
	return aws.String(arn)
}
