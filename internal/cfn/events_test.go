package cfn

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

func stackEvent(stackName, logicalID, resourceType string, status types.ResourceStatus) types.StackEvent {
	return types.StackEvent{
		StackName:         aws.String(stackName),
		LogicalResourceId: aws.String(logicalID),
		ResourceType:      aws.String(resourceType),
		ResourceStatus:    status,
		EventId:           aws.String(stackName + "/" + logicalID + "/" + string(status)),
	}
}

func TestFailedResourcesStopsAtOperationBoundary(t *testing.T) {
	// Newest first: two failures from the current rollback, then the
	// stack-level boundary event of the previous operation, then an old
	// failure that must not leak in.
	events := []types.StackEvent{
		stackEvent("demo", "Database", "AWS::RDS::DBInstance", types.ResourceStatusUpdateFailed),
		stackEvent("demo", "demo", "AWS::CloudFormation::Stack", types.ResourceStatus(types.StackStatusUpdateRollbackInProgress)),
		stackEvent("demo", "Queue", "AWS::SQS::Queue", types.ResourceStatusDeleteFailed),
		stackEvent("demo", "demo", "AWS::CloudFormation::Stack", types.ResourceStatus(types.StackStatusUpdateComplete)),
		stackEvent("demo", "OldBucket", "AWS::S3::Bucket", types.ResourceStatusCreateFailed),
	}
	api := &fakeCFN{
		describeStackEvents: func(in *cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error) {
			return &cloudformation.DescribeStackEventsOutput{StackEvents: events}, nil
		},
	}

	failed, err := FailedResources(context.Background(), api, "demo", []string{
		string(types.StackStatusRollbackInProgress),
		string(types.StackStatusUpdateRollbackInProgress),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Database", "Queue"}
	if len(failed) != len(want) {
		t.Fatalf("failed = %v, want %v", failed, want)
	}
	for i := range want {
		if failed[i] != want[i] {
			t.Fatalf("failed = %v, want %v", failed, want)
		}
	}
}

func TestFailedResourcesExcludesNestedStacks(t *testing.T) {
	events := []types.StackEvent{
		stackEvent("demo", "Function", "AWS::Lambda::Function", types.ResourceStatusUpdateFailed),
		// Same failure reported inside a nested stack carries the nested
		// stack's name and must be ignored.
		stackEvent("demo-nested", "Inner", "AWS::SNS::Topic", types.ResourceStatusUpdateFailed),
		stackEvent("demo", "demo", "AWS::CloudFormation::Stack", types.ResourceStatus(types.StackStatusUpdateComplete)),
	}
	api := &fakeCFN{
		describeStackEvents: func(in *cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error) {
			return &cloudformation.DescribeStackEventsOutput{StackEvents: events}, nil
		},
	}

	failed, err := FailedResources(context.Background(), api, "demo", []string{
		string(types.StackStatusUpdateRollbackInProgress),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 1 || failed[0] != "Function" {
		t.Fatalf("failed = %v, want [Function]", failed)
	}
}

func TestFailedResourcesDeduplicates(t *testing.T) {
	events := []types.StackEvent{
		stackEvent("demo", "Database", "AWS::RDS::DBInstance", types.ResourceStatusUpdateFailed),
		stackEvent("demo", "Database", "AWS::RDS::DBInstance", types.ResourceStatusDeleteFailed),
	}
	api := &fakeCFN{
		describeStackEvents: func(in *cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error) {
			return &cloudformation.DescribeStackEventsOutput{StackEvents: events}, nil
		},
	}

	failed, err := FailedResources(context.Background(), api, "demo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 1 || failed[0] != "Database" {
		t.Fatalf("failed = %v, want [Database]", failed)
	}
}

func TestFailedResourcesPaginates(t *testing.T) {
	pageOne := &cloudformation.DescribeStackEventsOutput{
		StackEvents: []types.StackEvent{
			stackEvent("demo", "First", "AWS::S3::Bucket", types.ResourceStatusDeleteFailed),
		},
		NextToken: aws.String("page-2"),
	}
	pageTwo := &cloudformation.DescribeStackEventsOutput{
		StackEvents: []types.StackEvent{
			stackEvent("demo", "Second", "AWS::S3::Bucket", types.ResourceStatusDeleteFailed),
		},
	}
	api := &fakeCFN{
		describeStackEvents: func(in *cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error) {
			if aws.ToString(in.NextToken) == "page-2" {
				return pageTwo, nil
			}
			return pageOne, nil
		},
	}

	failed, err := FailedResources(context.Background(), api, "demo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("failed = %v, want both pages", failed)
	}
}

func TestMonitorRecordsFailureReasons(t *testing.T) {
	now := time.Now().Add(time.Minute)
	events := []types.StackEvent{
		{
			StackName:            aws.String("demo"),
			LogicalResourceId:    aws.String("Database"),
			ResourceStatus:       types.ResourceStatusCreateFailed,
			ResourceStatusReason: aws.String("Resource limit exceeded"),
			EventId:              aws.String("ev-2"),
			Timestamp:            aws.Time(now),
		},
		{
			StackName:         aws.String("demo"),
			LogicalResourceId: aws.String("Bucket"),
			ResourceStatus:    types.ResourceStatusCreateComplete,
			EventId:           aws.String("ev-1"),
			Timestamp:         aws.Time(now),
		},
	}
	api := &fakeCFN{
		describeStackEvents: func(in *cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error) {
			return &cloudformation.DescribeStackEventsOutput{StackEvents: events}, nil
		},
	}

	var out bytes.Buffer
	monitor := NewMonitor(api, "demo", &out)
	monitor.Poll(context.Background())
	monitor.Poll(context.Background())

	errs := monitor.Errors()
	if len(errs) != 1 || errs[0] != "Resource limit exceeded" {
		t.Fatalf("errors = %v, want the failure reason once", errs)
	}
	if got := strings.Count(out.String(), "Bucket"); got != 1 {
		t.Errorf("event printed %d times, want 1", got)
	}
}

func TestMonitorIgnoresEventsBeforeStart(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	api := &fakeCFN{
		describeStackEvents: func(in *cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error) {
			return &cloudformation.DescribeStackEventsOutput{StackEvents: []types.StackEvent{
				{
					StackName:            aws.String("demo"),
					LogicalResourceId:    aws.String("Old"),
					ResourceStatus:       types.ResourceStatusCreateFailed,
					ResourceStatusReason: aws.String("ancient history"),
					EventId:              aws.String("ev-old"),
					Timestamp:            aws.Time(old),
				},
			}}, nil
		},
	}

	var out bytes.Buffer
	monitor := NewMonitor(api, "demo", &out)
	monitor.Poll(context.Background())

	if len(monitor.Errors()) != 0 {
		t.Errorf("errors = %v, want none for pre-start events", monitor.Errors())
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want none for pre-start events", out.String())
	}
}

func TestMonitorNilSafeErrors(t *testing.T) {
	var monitor *Monitor
	if monitor.Errors() != nil {
		t.Error("nil monitor should report no errors")
	}
}
