package cfn

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/google/uuid"

	"github.com/JonWallsten/aws-cdk/internal/awsapi"
)

// DeploymentMethod selects how template changes are applied. The legacy
// change-set boolean from older configurations is resolved into one of these
// variants at the CLI boundary; ambiguous combinations are rejected there.
type DeploymentMethod int

const (
	// MethodChangeSet creates and executes a change set.
	MethodChangeSet DeploymentMethod = iota
	// MethodDirect calls create/update directly.
	MethodDirect
)

// DeployStackInput describes one create-or-update operation. Every
// recognized option is an explicit field with its zero value as default.
type DeployStackInput struct {
	StackName    string
	TemplateBody string
	Parameters   map[string]string
	Tags         map[string]string
	// RoleARN is the execution role passed to the control plane.
	RoleARN string
	Method  DeploymentMethod
	// RollbackOnFailure disables the control plane's automatic rollback
	// when false.
	RollbackOnFailure bool

	Writer       io.Writer
	Quiet        bool
	PollInterval time.Duration
}

// DeployResult reports the outcome of a deploy operation.
type DeployResult struct {
	StackID string
	// NoOp is set when the template contained no changes.
	NoOp    bool
	Outputs map[string]string
}

// DeployStack creates or updates the stack and waits for it to stabilize.
// A stack stuck in ROLLBACK_COMPLETE cannot be updated and is deleted and
// recreated.
func DeployStack(ctx context.Context, api awsapi.CloudFormationAPI, in DeployStackInput) (*DeployResult, error) {
	if in.Writer == nil {
		in.Writer = io.Discard
	}
	stack, err := Lookup(ctx, api, in.StackName)
	if err != nil {
		return nil, err
	}

	if stack.Exists && stack.Status() == types.StackStatusRollbackComplete {
		fmt.Fprintf(in.Writer, "[deploy] stack %s is in ROLLBACK_COMPLETE, deleting before recreate\n", in.StackName)
		if err := DestroyStack(ctx, api, DestroyStackInput{StackName: in.StackName, RoleARN: in.RoleARN, Writer: in.Writer, Quiet: in.Quiet, PollInterval: in.PollInterval}); err != nil {
			return nil, err
		}
		stack = &Stack{Name: in.StackName, Exists: false}
	}

	switch in.Method {
	case MethodDirect:
		return deployDirect(ctx, api, in, stack.Exists)
	default:
		return deployChangeSet(ctx, api, in, stack.Exists)
	}
}

func deployDirect(ctx context.Context, api awsapi.CloudFormationAPI, in DeployStackInput, exists bool) (*DeployResult, error) {
	var err error
	if exists {
		_, err = api.UpdateStack(ctx, &cloudformation.UpdateStackInput{
			StackName:    aws.String(in.StackName),
			TemplateBody: aws.String(in.TemplateBody),
			Parameters:   toParameters(in.Parameters),
			Tags:         toTags(in.Tags),
			RoleARN:      roleARN(in.RoleARN),
			Capabilities: defaultCapabilities(),
		})
		if err != nil && strings.Contains(err.Error(), "No updates are to be performed") {
			return &DeployResult{NoOp: true}, nil
		}
	} else {
		_, err = api.CreateStack(ctx, &cloudformation.CreateStackInput{
			StackName:          aws.String(in.StackName),
			TemplateBody:       aws.String(in.TemplateBody),
			Parameters:         toParameters(in.Parameters),
			Tags:               toTags(in.Tags),
			RoleARN:            roleARN(in.RoleARN),
			Capabilities:       defaultCapabilities(),
			OnFailure:          onFailure(in.RollbackOnFailure),
			ClientRequestToken: aws.String("deploy-" + uuid.NewString()),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("deploying stack %s: %w", in.StackName, err)
	}
	return waitForDeploy(ctx, api, in)
}

func deployChangeSet(ctx context.Context, api awsapi.CloudFormationAPI, in DeployStackInput, exists bool) (*DeployResult, error) {
	changeSetType := types.ChangeSetTypeCreate
	if exists {
		changeSetType = types.ChangeSetTypeUpdate
	}
	changeSetName := "deploy-" + uuid.NewString()

	_, err := api.CreateChangeSet(ctx, &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(in.StackName),
		ChangeSetName: aws.String(changeSetName),
		ChangeSetType: changeSetType,
		TemplateBody:  aws.String(in.TemplateBody),
		Parameters:    toParameters(in.Parameters),
		Tags:          toTags(in.Tags),
		RoleARN:       roleARN(in.RoleARN),
		Capabilities:  defaultCapabilities(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating change set for stack %s: %w", in.StackName, err)
	}

	desc, err := waitForChangeSet(ctx, api, in.StackName, changeSetName, in.PollInterval)
	if err != nil {
		return nil, err
	}
	if changeSetIsEmpty(desc) {
		_, _ = api.DeleteChangeSet(ctx, &cloudformation.DeleteChangeSetInput{
			StackName:     aws.String(in.StackName),
			ChangeSetName: aws.String(changeSetName),
		})
		return &DeployResult{NoOp: true}, nil
	}
	if desc.Status != types.ChangeSetStatusCreateComplete {
		return nil, fmt.Errorf("change set for stack %s failed: %s", in.StackName, aws.ToString(desc.StatusReason))
	}

	_, err = api.ExecuteChangeSet(ctx, &cloudformation.ExecuteChangeSetInput{
		StackName:          aws.String(in.StackName),
		ChangeSetName:      aws.String(changeSetName),
		ClientRequestToken: aws.String("exec-" + uuid.NewString()),
		DisableRollback:    aws.Bool(!in.RollbackOnFailure),
	})
	if err != nil {
		return nil, fmt.Errorf("executing change set for stack %s: %w", in.StackName, err)
	}
	return waitForDeploy(ctx, api, in)
}

func waitForChangeSet(ctx context.Context, api awsapi.CloudFormationAPI, stackName, changeSetName string, interval time.Duration) (*cloudformation.DescribeChangeSetOutput, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		out, err := api.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
			StackName:     aws.String(stackName),
			ChangeSetName: aws.String(changeSetName),
		})
		if err != nil {
			return nil, fmt.Errorf("describing change set of stack %s: %w", stackName, err)
		}
		switch out.Status {
		case types.ChangeSetStatusCreateInProgress, types.ChangeSetStatusCreatePending:
			// keep polling
		default:
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func changeSetIsEmpty(desc *cloudformation.DescribeChangeSetOutput) bool {
	if desc.Status != types.ChangeSetStatusFailed {
		return false
	}
	reason := aws.ToString(desc.StatusReason)
	return strings.Contains(reason, "didn't contain changes") || strings.Contains(reason, "No updates are to be performed")
}

func waitForDeploy(ctx context.Context, api awsapi.CloudFormationAPI, in DeployStackInput) (*DeployResult, error) {
	var monitor *Monitor
	if !in.Quiet {
		monitor = NewMonitor(api, in.StackName, in.Writer)
	}
	stack, err := WaitForStabilize(ctx, api, in.StackName, monitor, in.PollInterval)
	if err != nil {
		return nil, err
	}
	if !stack.Exists {
		return nil, fmt.Errorf("stack %s disappeared while deploying", in.StackName)
	}
	if !stack.IsDeploySuccess() {
		msg := stack.StatusReason()
		if errs := monitor.Errors(); len(errs) > 0 {
			msg = strings.Join(errs, ", ")
		}
		return nil, fmt.Errorf("stack %s failed to deploy, final status %s: %s", in.StackName, stack.Status(), msg)
	}
	return &DeployResult{StackID: stack.StackID(), Outputs: stack.Outputs()}, nil
}

// DestroyStackInput describes one delete operation.
type DestroyStackInput struct {
	StackName string
	RoleARN   string

	Writer       io.Writer
	Quiet        bool
	PollInterval time.Duration
}

// DestroyStack deletes the stack and waits until it is gone. Deleting a
// stack that does not exist is not an error.
func DestroyStack(ctx context.Context, api awsapi.CloudFormationAPI, in DestroyStackInput) error {
	if in.Writer == nil {
		in.Writer = io.Discard
	}
	stack, err := Lookup(ctx, api, in.StackName)
	if err != nil {
		return err
	}
	if !stack.Exists {
		return nil
	}
	_, err = api.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName:          aws.String(in.StackName),
		RoleARN:            roleARN(in.RoleARN),
		ClientRequestToken: aws.String("destroy-" + uuid.NewString()),
	})
	if err != nil {
		return fmt.Errorf("deleting stack %s: %w", in.StackName, err)
	}
	var monitor *Monitor
	if !in.Quiet {
		monitor = NewMonitor(api, in.StackName, in.Writer)
	}
	return WaitForDelete(ctx, api, in.StackName, monitor, in.PollInterval)
}

func toParameters(params map[string]string) []types.Parameter {
	var out []types.Parameter
	for k, v := range params {
		out = append(out, types.Parameter{ParameterKey: aws.String(k), ParameterValue: aws.String(v)})
	}
	return out
}

func toTags(tags map[string]string) []types.Tag {
	var out []types.Tag
	for k, v := range tags {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func roleARN(arn string) *string {
	if arn == "" {
		return nil
	}
	return aws.String(arn)
}

func defaultCapabilities() []types.Capability {
	return []types.Capability{
		types.CapabilityCapabilityIam,
		types.CapabilityCapabilityNamedIam,
		types.CapabilityCapabilityAutoExpand,
	}
}

func onFailure(rollbackOnFailure bool) types.OnFailure {
	if rollbackOnFailure {
		return types.OnFailureRollback
	}
	return types.OnFailureDoNothing
}
