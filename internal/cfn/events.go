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

	"github.com/JonWallsten/aws-cdk/internal/awsapi"
)

// FailedResources returns the logical IDs of resources that failed during
// the most recent operation whose stack-level events match the given
// statuses. Only failures reported directly against the stack are returned;
// events emitted by nested stacks carry a different stack name and are
// excluded.
func FailedResources(ctx context.Context, api awsapi.CloudFormationAPI, stackName string, statuses []string) ([]string, error) {
	match := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		match[s] = true
	}

	var failed []string
	seen := make(map[string]bool)
	var nextToken *string
	for {
		out, err := api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
			StackName: aws.String(stackName),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("polling events of stack %s: %w", stackName, err)
		}
		for _, ev := range out.StackEvents {
			// Events arrive newest first. A stack-level event whose status
			// is outside the matched set marks the boundary of the current
			// operation.
			if isStackLevelEvent(ev, stackName) {
				if !match[string(ev.ResourceStatus)] {
					return failed, nil
				}
				continue
			}
			if aws.ToString(ev.StackName) != stackName {
				continue
			}
			if !strings.HasSuffix(string(ev.ResourceStatus), "_FAILED") {
				continue
			}
			id := aws.ToString(ev.LogicalResourceId)
			if id != "" && !seen[id] {
				seen[id] = true
				failed = append(failed, id)
			}
		}
		nextToken = out.NextToken
		if nextToken == nil {
			return failed, nil
		}
	}
}

func isStackLevelEvent(ev types.StackEvent, stackName string) bool {
	return aws.ToString(ev.ResourceType) == "AWS::CloudFormation::Stack" &&
		aws.ToString(ev.LogicalResourceId) == stackName &&
		aws.ToString(ev.StackName) == stackName
}

// Monitor streams stack events to a writer while an operation is in flight
// and accumulates the failure reasons it sees. One monitor covers one
// mutating operation.
type Monitor struct {
	api       awsapi.CloudFormationAPI
	stackName string
	w         io.Writer
	start     time.Time

	seen   map[string]bool
	errors []string
}

// NewMonitor starts monitoring at the current wall clock; earlier events are
// ignored.
func NewMonitor(api awsapi.CloudFormationAPI, stackName string, w io.Writer) *Monitor {
	if w == nil {
		w = io.Discard
	}
	return &Monitor{
		api:       api,
		stackName: stackName,
		w:         w,
		start:     time.Now(),
		seen:      make(map[string]bool),
	}
}

// Poll fetches events since the monitor started, prints the new ones and
// records failure reasons. Errors from the poll itself are swallowed: the
// monitor is advisory and must never break the operation it observes.
func (m *Monitor) Poll(ctx context.Context) {
	out, err := m.api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(m.stackName),
	})
	if err != nil {
		return
	}
	// Reverse so output reads oldest first.
	events := out.StackEvents
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Timestamp == nil || ev.Timestamp.Before(m.start) {
			continue
		}
		id := aws.ToString(ev.EventId)
		if m.seen[id] {
			continue
		}
		m.seen[id] = true

		status := string(ev.ResourceStatus)
		reason := aws.ToString(ev.ResourceStatusReason)
		fmt.Fprintf(m.w, "%s | %s | %s | %s\n",
			m.stackName, status, aws.ToString(ev.LogicalResourceId), reason)

		if strings.HasSuffix(status, "_FAILED") && reason != "" {
			m.errors = append(m.errors, reason)
		}
	}
}

// Errors returns the failure reasons collected so far.
func (m *Monitor) Errors() []string {
	if m == nil {
		return nil
	}
	return m.errors
}
