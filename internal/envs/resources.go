package envs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/JonWallsten/aws-cdk/internal/awsapi"
)

// VersionMismatchError reports environment bootstrap infrastructure below
// the version a stack requires. The message is always prefixed with the
// stack name.
type VersionMismatchError struct {
	StackName string
	Required  int
	Found     int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s: bootstrap stack version %d required, found version %d; environment needs to be bootstrapped with a newer version", e.StackName, e.Required, e.Found)
}

// Registry hands out one Resources accessor per distinct resolved
// environment + client pair. Owned by the façade, lifecycle one run.
type Registry struct {
	mu      sync.Mutex
	entries map[registryKey]*Resources
}

type registryKey struct {
	env    Environment
	client *awsapi.Client
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]*Resources)}
}

// For returns the accessor for the pair, creating it lazily.
func (r *Registry) For(env Environment, client *awsapi.Client) *Resources {
	key := registryKey{env: env, client: client}
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.entries[key]; ok {
		return res
	}
	res := &Resources{Environment: env, ssm: client.SSM}
	r.entries[key] = res
	return res
}

// Resources reads bootstrap metadata for one environment through
// environment-scoped credentials.
type Resources struct {
	Environment Environment
	ssm         awsapi.SSMAPI
}

// NewResources is used by tests and callers that already hold a metadata
// reader for the environment.
func NewResources(env Environment, reader awsapi.SSMAPI) *Resources {
	return &Resources{Environment: env, ssm: reader}
}

// VersionFromSSMParameter reads the bootstrap version value stored at the
// given metadata parameter location.
func (r *Resources) VersionFromSSMParameter(ctx context.Context, parameterName string) (int, error) {
	out, err := r.ssm.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(parameterName)})
	if err != nil {
		return 0, fmt.Errorf("reading bootstrap version from %s in %s: %w", parameterName, r.Environment, err)
	}
	raw := strings.TrimSpace(aws.ToString(out.Parameter.Value))
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("bootstrap version parameter %s has non-numeric value %q", parameterName, raw)
	}
	return version, nil
}

// ValidateVersion is the bootstrap compatibility gate. A zero required
// version means no requirement was declared and the gate passes trivially.
// It must run before the first mutating call of any operation.
func (r *Resources) ValidateVersion(ctx context.Context, stackName string, requiredVersion int, parameterName string) error {
	if requiredVersion == 0 {
		return nil
	}
	if parameterName == "" {
		return fmt.Errorf("%s: bootstrap stack version %d required but no version parameter location was declared", stackName, requiredVersion)
	}
	found, err := r.VersionFromSSMParameter(ctx, parameterName)
	if err != nil {
		return fmt.Errorf("%s: %w", stackName, err)
	}
	if found < requiredVersion {
		return &VersionMismatchError{StackName: stackName, Required: requiredVersion, Found: found}
	}
	return nil
}
