package deployments

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/JonWallsten/aws-cdk/internal/awsapi"
	"github.com/JonWallsten/aws-cdk/internal/envs"
)

// statusScript feeds DescribeStacks one status per call, sticking on the
// last entry.
func statusScript(statuses ...cfntypes.StackStatus) func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
	i := 0
	return func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
		status := statuses[i]
		if i < len(statuses)-1 {
			i++
		}
		return &cloudformation.DescribeStacksOutput{Stacks: []cfntypes.Stack{{
			StackName:   in.StackName,
			StackStatus: status,
		}}}, nil
	}
}

func rollbackDeployments(api *fakeCFN) *Deployments {
	provider := &fakeProvider{
		env:     envs.Environment{Account: "123456789012", Region: "eu-west-1"},
		resolve: staticClient(&awsapi.Client{CloudFormation: api}, true),
	}
	return testDeployments(provider, nil)
}

func TestRollbackStableStack(t *testing.T) {
	mutations := 0
	api := &fakeCFN{
		describeStacks: statusScript(cfntypes.StackStatusUpdateComplete),
		rollbackStack: func(in *cloudformation.RollbackStackInput) (*cloudformation.RollbackStackOutput, error) {
			mutations++
			return &cloudformation.RollbackStackOutput{}, nil
		},
		continueUpdateRollback: func(in *cloudformation.ContinueUpdateRollbackInput) (*cloudformation.ContinueUpdateRollbackOutput, error) {
			mutations++
			return &cloudformation.ContinueUpdateRollbackOutput{}, nil
		},
	}
	d := rollbackDeployments(api)

	result, err := d.RollbackStack(context.Background(), RollbackStackOptions{Stack: testStack()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NotInRollbackableState {
		t.Error("stable stack should report NotInRollbackableState")
	}
	if mutations != 0 {
		t.Errorf("%d mutating calls against a stable stack, want 0", mutations)
	}
}

func TestRollbackFailedStateIsTerminal(t *testing.T) {
	api := &fakeCFN{
		describeStacks: statusScript(cfntypes.StackStatusRollbackFailed),
	}
	d := rollbackDeployments(api)

	result, err := d.RollbackStack(context.Background(), RollbackStackOptions{Stack: testStack()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NotInRollbackableState {
		t.Error("ROLLBACK_FAILED should report NotInRollbackableState")
	}
}

func TestRollbackMissingStack(t *testing.T) {
	api := &fakeCFN{
		describeStacks: func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return nil, errors.New("Stack with id api does not exist")
		},
	}
	d := rollbackDeployments(api)

	if _, err := d.RollbackStack(context.Background(), RollbackStackOptions{Stack: testStack()}); err == nil {
		t.Fatal("expected error for a missing stack")
	}
}

func TestRollbackStartSuccess(t *testing.T) {
	var rollbackInput *cloudformation.RollbackStackInput
	api := &fakeCFN{
		describeStacks: statusScript(
			cfntypes.StackStatusUpdateFailed,
			cfntypes.StackStatusUpdateRollbackInProgress,
			cfntypes.StackStatusUpdateRollbackComplete,
		),
		rollbackStack: func(in *cloudformation.RollbackStackInput) (*cloudformation.RollbackStackOutput, error) {
			rollbackInput = in
			return &cloudformation.RollbackStackOutput{}, nil
		},
	}
	d := rollbackDeployments(api)

	result, err := d.RollbackStack(context.Background(), RollbackStackOptions{Stack: testStack()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Error("rollback reaching UPDATE_ROLLBACK_COMPLETE should succeed")
	}
	if rollbackInput == nil {
		t.Fatal("RollbackStack was not called")
	}
	if !aws.ToBool(rollbackInput.RetainExceptOnCreate) {
		t.Error("RetainExceptOnCreate was not set")
	}
	if token := aws.ToString(rollbackInput.ClientRequestToken); !strings.HasPrefix(token, "rollback-") {
		t.Errorf("client request token = %q, want a rollback- prefix", token)
	}
}

func TestRollbackContinueWithoutForceSingleAttempt(t *testing.T) {
	continues := 0
	api := &fakeCFN{
		describeStacks: statusScript(cfntypes.StackStatusUpdateRollbackFailed),
		continueUpdateRollback: func(in *cloudformation.ContinueUpdateRollbackInput) (*cloudformation.ContinueUpdateRollbackOutput, error) {
			continues++
			return &cloudformation.ContinueUpdateRollbackOutput{}, nil
		},
	}
	d := rollbackDeployments(api)

	_, err := d.RollbackStack(context.Background(), RollbackStackOptions{
		Stack:            testStack(),
		OrphanLogicalIDs: []string{"Database"},
	})
	var progress *RollbackProgressError
	if !errors.As(err, &progress) {
		t.Fatalf("expected RollbackProgressError, got %v", err)
	}
	if continues != 1 {
		t.Errorf("%d continuation attempts without force, want exactly 1", continues)
	}
}

func TestRollbackForceOrphansAndExhausts(t *testing.T) {
	var skipSets [][]string
	api := &fakeCFN{
		describeStacks: statusScript(cfntypes.StackStatusUpdateRollbackFailed),
		describeStackEvents: func(in *cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error) {
			return &cloudformation.DescribeStackEventsOutput{StackEvents: []cfntypes.StackEvent{{
				StackName:         aws.String("api"),
				LogicalResourceId: aws.String("StuckResource"),
				ResourceType:      aws.String("AWS::EC2::Instance"),
				ResourceStatus:    cfntypes.ResourceStatusDeleteFailed,
				EventId:           aws.String("ev-1"),
			}}}, nil
		},
		continueUpdateRollback: func(in *cloudformation.ContinueUpdateRollbackInput) (*cloudformation.ContinueUpdateRollbackOutput, error) {
			skipSets = append(skipSets, in.ResourcesToSkip)
			return &cloudformation.ContinueUpdateRollbackOutput{}, nil
		},
	}
	d := rollbackDeployments(api)

	_, err := d.RollbackStack(context.Background(), RollbackStackOptions{
		Stack:            testStack(),
		Force:            true,
		OrphanLogicalIDs: []string{"Database"},
	})
	var exhausted *RollbackExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RollbackExhaustedError, got %v", err)
	}
	if exhausted.Iterations != maxRollbackIterations {
		t.Errorf("iterations = %d, want %d", exhausted.Iterations, maxRollbackIterations)
	}
	if len(skipSets) != maxRollbackIterations {
		t.Fatalf("%d continuation attempts, want %d", len(skipSets), maxRollbackIterations)
	}
	// Prior orphans come first, computed failures are merged in after.
	first := skipSets[0]
	if len(first) != 2 || first[0] != "Database" || first[1] != "StuckResource" {
		t.Errorf("skip set = %v, want [Database StuckResource]", first)
	}
	// The merged set is deduplicated across iterations.
	last := skipSets[len(skipSets)-1]
	if len(last) != 2 {
		t.Errorf("final skip set = %v, want no duplicates", last)
	}
}

func TestRollbackVersionGateRunsFirst(t *testing.T) {
	reader := &fakeSSM{values: map[string]string{"/bootstrap/version": "2"}}
	describes := 0
	api := &fakeCFN{
		describeStacks: func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			describes++
			return statusScript(cfntypes.StackStatusUpdateRollbackFailed)(in)
		},
	}
	provider := &fakeProvider{
		env:     envs.Environment{Account: "123456789012", Region: "eu-west-1"},
		resolve: staticClient(&awsapi.Client{CloudFormation: api, SSM: reader}, true),
	}
	d := testDeployments(provider, nil)

	stack := testStack()
	stack.RequiresBootstrapStackVersion = 5
	stack.BootstrapStackVersionSSMParameter = "/bootstrap/version"

	_, err := d.RollbackStack(context.Background(), RollbackStackOptions{
		Stack:                         stack,
		ValidateBootstrapStackVersion: true,
	})
	var mismatch *envs.VersionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected VersionMismatchError, got %v", err)
	}
	if describes != 0 {
		t.Errorf("stack was inspected %d times before the gate, want 0", describes)
	}
}
