// Package cfn contains the CloudFormation-facing machinery: live stack
// lookup and status classification, the stack event poller and progress
// monitor, the stabilization waiter, and the deploy/destroy executors.
package cfn

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/JonWallsten/aws-cdk/internal/awsapi"
)

// RollbackChoice classifies a live stack status into the recovery action the
// rollback orchestrator should take. Derived at poll time, never persisted.
type RollbackChoice int

const (
	// ChoiceNone: the stack is stable, nothing to roll back.
	ChoiceNone RollbackChoice = iota
	// ChoiceStartRollback: a rollback has to be initiated.
	ChoiceStartRollback
	// ChoiceContinueUpdateRollback: the stack is stuck and requires an
	// explicit continuation.
	ChoiceContinueUpdateRollback
	// ChoiceRollbackFailed: terminal, cannot be recovered without manual
	// intervention.
	ChoiceRollbackFailed
)

func (c RollbackChoice) String() string {
	switch c {
	case ChoiceStartRollback:
		return "StartRollback"
	case ChoiceContinueUpdateRollback:
		return "ContinueUpdateRollback"
	case ChoiceRollbackFailed:
		return "RollbackFailed"
	default:
		return "None"
	}
}

// Stack is a point-in-time view of a named stack. A non-existing stack is
// represented with Exists == false rather than an error, so callers can
// branch without string-matching.
type Stack struct {
	Name   string
	Exists bool

	description *types.Stack
}

// Lookup describes the stack by name. "Does not exist" from the control
// plane is mapped to a Stack with Exists == false.
func Lookup(ctx context.Context, api awsapi.CloudFormationAPI, stackName string) (*Stack, error) {
	out, err := api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "does not exist") {
			return &Stack{Name: stackName, Exists: false}, nil
		}
		return nil, fmt.Errorf("describing stack %s: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return &Stack{Name: stackName, Exists: false}, nil
	}
	return &Stack{Name: stackName, Exists: true, description: &out.Stacks[0]}, nil
}

// Status returns the live stack status, or "" for a non-existing stack.
func (s *Stack) Status() types.StackStatus {
	if !s.Exists {
		return ""
	}
	return s.description.StackStatus
}

// StatusReason returns the status reason reported by the control plane.
func (s *Stack) StatusReason() string {
	if !s.Exists || s.description.StackStatusReason == nil {
		return ""
	}
	return *s.description.StackStatusReason
}

// StackID returns the unique stack identifier.
func (s *Stack) StackID() string {
	if !s.Exists {
		return ""
	}
	return aws.ToString(s.description.StackId)
}

// Outputs returns the stack outputs as a plain map.
func (s *Stack) Outputs() map[string]string {
	if !s.Exists {
		return nil
	}
	out := make(map[string]string, len(s.description.Outputs))
	for _, o := range s.description.Outputs {
		out[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return out
}

// IsInProgress reports whether any operation is still running against the
// stack. Review-in-progress counts as stable: nothing is executing.
func (s *Stack) IsInProgress() bool {
	status := string(s.Status())
	return strings.HasSuffix(status, "_IN_PROGRESS") && status != string(types.StackStatusReviewInProgress)
}

// IsRollbackSuccess reports whether the status represents a completed
// rollback.
func (s *Stack) IsRollbackSuccess() bool {
	switch s.Status() {
	case types.StackStatusRollbackComplete, types.StackStatusUpdateRollbackComplete:
		return true
	}
	return false
}

// IsDeploySuccess reports whether the status represents a successful create
// or update.
func (s *Stack) IsDeploySuccess() bool {
	switch s.Status() {
	case types.StackStatusCreateComplete, types.StackStatusUpdateComplete, types.StackStatusImportComplete:
		return true
	}
	return false
}

// RollbackChoice derives the recovery action for the current status.
func (s *Stack) RollbackChoice() RollbackChoice {
	switch s.Status() {
	case types.StackStatusCreateFailed, types.StackStatusUpdateFailed:
		return ChoiceStartRollback
	case types.StackStatusUpdateRollbackFailed:
		return ChoiceContinueUpdateRollback
	case types.StackStatusRollbackFailed:
		return ChoiceRollbackFailed
	default:
		return ChoiceNone
	}
}

// CurrentTemplate fetches the deployed template document. Returns the empty
// document for a stack that does not exist.
func CurrentTemplate(ctx context.Context, api awsapi.CloudFormationAPI, stackName string) (string, error) {
	out, err := api.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName:     aws.String(stackName),
		TemplateStage: types.TemplateStageOriginal,
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "does not exist") {
			return "{}", nil
		}
		return "", fmt.Errorf("reading template of stack %s: %w", stackName, err)
	}
	return aws.ToString(out.TemplateBody), nil
}

// ResourceIdentifierSummaries lists the resource identifier summaries for
// the deployed template.
func ResourceIdentifierSummaries(ctx context.Context, api awsapi.CloudFormationAPI, stackName string) ([]types.ResourceIdentifierSummary, error) {
	out, err := api.GetTemplateSummary(ctx, &cloudformation.GetTemplateSummaryInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, fmt.Errorf("summarizing template of stack %s: %w", stackName, err)
	}
	return out.ResourceIdentifierSummaries, nil
}
