package cfn

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// fakeCFN implements awsapi.CloudFormationAPI with injectable behavior per
// method. Methods without an injected func fail loudly so tests only exercise
// what they set up.
type fakeCFN struct {
	describeStacks         func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error)
	describeStackEvents    func(*cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error)
	getTemplate            func(*cloudformation.GetTemplateInput) (*cloudformation.GetTemplateOutput, error)
	getTemplateSummary     func(*cloudformation.GetTemplateSummaryInput) (*cloudformation.GetTemplateSummaryOutput, error)
	createStack            func(*cloudformation.CreateStackInput) (*cloudformation.CreateStackOutput, error)
	updateStack            func(*cloudformation.UpdateStackInput) (*cloudformation.UpdateStackOutput, error)
	deleteStack            func(*cloudformation.DeleteStackInput) (*cloudformation.DeleteStackOutput, error)
	createChangeSet        func(*cloudformation.CreateChangeSetInput) (*cloudformation.CreateChangeSetOutput, error)
	describeChangeSet      func(*cloudformation.DescribeChangeSetInput) (*cloudformation.DescribeChangeSetOutput, error)
	executeChangeSet       func(*cloudformation.ExecuteChangeSetInput) (*cloudformation.ExecuteChangeSetOutput, error)
	deleteChangeSet        func(*cloudformation.DeleteChangeSetInput) (*cloudformation.DeleteChangeSetOutput, error)
	rollbackStack          func(*cloudformation.RollbackStackInput) (*cloudformation.RollbackStackOutput, error)
	continueUpdateRollback func(*cloudformation.ContinueUpdateRollbackInput) (*cloudformation.ContinueUpdateRollbackOutput, error)
}

var errNotStubbed = errors.New("not stubbed")

func (f *fakeCFN) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	if f.describeStacks == nil {
		return nil, errNotStubbed
	}
	return f.describeStacks(params)
}

func (f *fakeCFN) DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	if f.describeStackEvents == nil {
		return &cloudformation.DescribeStackEventsOutput{}, nil
	}
	return f.describeStackEvents(params)
}

func (f *fakeCFN) GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error) {
	if f.getTemplate == nil {
		return nil, errNotStubbed
	}
	return f.getTemplate(params)
}

func (f *fakeCFN) GetTemplateSummary(ctx context.Context, params *cloudformation.GetTemplateSummaryInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateSummaryOutput, error) {
	if f.getTemplateSummary == nil {
		return nil, errNotStubbed
	}
	return f.getTemplateSummary(params)
}

func (f *fakeCFN) CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	if f.createStack == nil {
		return nil, errNotStubbed
	}
	return f.createStack(params)
}

func (f *fakeCFN) UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	if f.updateStack == nil {
		return nil, errNotStubbed
	}
	return f.updateStack(params)
}

func (f *fakeCFN) DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	if f.deleteStack == nil {
		return nil, errNotStubbed
	}
	return f.deleteStack(params)
}

func (f *fakeCFN) CreateChangeSet(ctx context.Context, params *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error) {
	if f.createChangeSet == nil {
		return nil, errNotStubbed
	}
	return f.createChangeSet(params)
}

func (f *fakeCFN) DescribeChangeSet(ctx context.Context, params *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error) {
	if f.describeChangeSet == nil {
		return nil, errNotStubbed
	}
	return f.describeChangeSet(params)
}

func (f *fakeCFN) ExecuteChangeSet(ctx context.Context, params *cloudformation.ExecuteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ExecuteChangeSetOutput, error) {
	if f.executeChangeSet == nil {
		return nil, errNotStubbed
	}
	return f.executeChangeSet(params)
}

func (f *fakeCFN) DeleteChangeSet(ctx context.Context, params *cloudformation.DeleteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteChangeSetOutput, error) {
	if f.deleteChangeSet == nil {
		return nil, errNotStubbed
	}
	return f.deleteChangeSet(params)
}

func (f *fakeCFN) RollbackStack(ctx context.Context, params *cloudformation.RollbackStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.RollbackStackOutput, error) {
	if f.rollbackStack == nil {
		return nil, errNotStubbed
	}
	return f.rollbackStack(params)
}

func (f *fakeCFN) ContinueUpdateRollback(ctx context.Context, params *cloudformation.ContinueUpdateRollbackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ContinueUpdateRollbackOutput, error) {
	if f.continueUpdateRollback == nil {
		return nil, errNotStubbed
	}
	return f.continueUpdateRollback(params)
}

// describeStatus returns a fake whose DescribeStacks reports the given status.
func describeStatus(status types.StackStatus) func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
	return func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
		return &cloudformation.DescribeStacksOutput{
			Stacks: []types.Stack{{
				StackName:   in.StackName,
				StackId:     aws.String("arn:aws:cloudformation:eu-west-1:123456789012:stack/" + aws.ToString(in.StackName) + "/uuid"),
				StackStatus: status,
			}},
		}, nil
	}
}

func TestLookupMissingStack(t *testing.T) {
	api := &fakeCFN{
		describeStacks: func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return nil, errors.New("Stack with id demo does not exist")
		},
	}
	stack, err := Lookup(context.Background(), api, "demo")
	if err != nil {
		t.Fatalf("missing stack should not be an error: %v", err)
	}
	if stack.Exists {
		t.Error("Exists = true for a missing stack")
	}
	if stack.Status() != "" {
		t.Errorf("Status() = %q for a missing stack", stack.Status())
	}
	if stack.RollbackChoice() != ChoiceNone {
		t.Errorf("RollbackChoice() = %v for a missing stack", stack.RollbackChoice())
	}
}

func TestLookupOtherErrorPropagates(t *testing.T) {
	api := &fakeCFN{
		describeStacks: func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	if _, err := Lookup(context.Background(), api, "demo"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRollbackChoiceMapping(t *testing.T) {
	cases := []struct {
		status types.StackStatus
		want   RollbackChoice
	}{
		{types.StackStatusCreateFailed, ChoiceStartRollback},
		{types.StackStatusUpdateFailed, ChoiceStartRollback},
		{types.StackStatusUpdateRollbackFailed, ChoiceContinueUpdateRollback},
		{types.StackStatusRollbackFailed, ChoiceRollbackFailed},
		{types.StackStatusCreateComplete, ChoiceNone},
		{types.StackStatusUpdateComplete, ChoiceNone},
		{types.StackStatusRollbackComplete, ChoiceNone},
		{types.StackStatusUpdateRollbackComplete, ChoiceNone},
		{types.StackStatusDeleteComplete, ChoiceNone},
	}
	for _, tc := range cases {
		api := &fakeCFN{describeStacks: describeStatus(tc.status)}
		stack, err := Lookup(context.Background(), api, "demo")
		if err != nil {
			t.Fatalf("%s: %v", tc.status, err)
		}
		if got := stack.RollbackChoice(); got != tc.want {
			t.Errorf("RollbackChoice(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestIsInProgress(t *testing.T) {
	cases := []struct {
		status types.StackStatus
		want   bool
	}{
		{types.StackStatusCreateInProgress, true},
		{types.StackStatusUpdateRollbackInProgress, true},
		{types.StackStatusDeleteInProgress, true},
		{types.StackStatusReviewInProgress, false},
		{types.StackStatusCreateComplete, false},
		{types.StackStatusUpdateRollbackFailed, false},
	}
	for _, tc := range cases {
		api := &fakeCFN{describeStacks: describeStatus(tc.status)}
		stack, err := Lookup(context.Background(), api, "demo")
		if err != nil {
			t.Fatalf("%s: %v", tc.status, err)
		}
		if got := stack.IsInProgress(); got != tc.want {
			t.Errorf("IsInProgress(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestCurrentTemplateMissingStack(t *testing.T) {
	api := &fakeCFN{
		getTemplate: func(in *cloudformation.GetTemplateInput) (*cloudformation.GetTemplateOutput, error) {
			return nil, errors.New("Stack with id demo does not exist")
		},
	}
	body, err := CurrentTemplate(context.Background(), api, "demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "{}" {
		t.Errorf("template = %q, want the empty document", body)
	}
}

func TestCurrentTemplate(t *testing.T) {
	api := &fakeCFN{
		getTemplate: func(in *cloudformation.GetTemplateInput) (*cloudformation.GetTemplateOutput, error) {
			return &cloudformation.GetTemplateOutput{TemplateBody: aws.String(`{"Resources":{}}`)}, nil
		},
	}
	body, err := CurrentTemplate(context.Background(), api, "demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != `{"Resources":{}}` {
		t.Errorf("unexpected template body: %q", body)
	}
}
