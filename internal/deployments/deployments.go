// Package deployments is the orchestration façade: one operation per use
// case, each resolving environment and credentials first, passing mutating
// operations through the bootstrap compatibility gate, and delegating to the
// CloudFormation executors or driving the rollback recovery loop itself.
package deployments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/JonWallsten/aws-cdk/internal/assets"
	"github.com/JonWallsten/aws-cdk/internal/cfn"
	"github.com/JonWallsten/aws-cdk/internal/envs"
)

// LookupRole describes the elevated read-only role a stack may declare for
// discovery operations.
type LookupRole struct {
	ARN                         string
	AssumeRoleExternalID        string
	AssumeRoleAdditionalOptions map[string]string

	RequiresBootstrapStackVersion     int
	BootstrapStackVersionSSMParameter string
}

// StackRef identifies a deployable unit.
type StackRef struct {
	StackName string
	// Environment is an "aws://account/region" reference; account and
	// region may be the unknown placeholders.
	Environment string

	// Deploy-role elevation chain.
	AssumeRoleARN               string
	AssumeRoleExternalID        string
	AssumeRoleAdditionalOptions map[string]string

	// ExecutionRoleARN is passed to the control plane for mutating calls.
	ExecutionRoleARN string

	LookupRole *LookupRole

	RequiresBootstrapStackVersion     int
	BootstrapStackVersionSSMParameter string
}

// Options configures a Deployments façade.
type Options struct {
	Provider envs.Provider
	// Quiet suppresses event monitoring output.
	Quiet  bool
	Writer io.Writer
	// PollInterval overrides the status poll cadence (tests use a short one).
	PollInterval time.Duration
}

// Deployments owns the per-run caches and exposes one operation per use
// case. Safe for use from logically concurrent asset operations.
type Deployments struct {
	provider     envs.Provider
	resources    *envs.Registry
	quiet        bool
	w            io.Writer
	pollInterval time.Duration

	mu         sync.Mutex
	publishers map[*assets.Manifest]*assets.Publisher
}

// New creates a façade. Caches start empty and live until the façade is
// dropped.
func New(opts Options) *Deployments {
	w := opts.Writer
	if w == nil {
		w = io.Discard
	}
	return &Deployments{
		provider:     opts.Provider,
		resources:    envs.NewRegistry(),
		quiet:        opts.Quiet,
		w:            w,
		pollInterval: opts.PollInterval,
		publishers:   make(map[*assets.Manifest]*assets.Publisher),
	}
}

// PreparedSdk is the result of resolving environment and credentials for one
// stack operation.
type PreparedSdk struct {
	Client              *envs.CachedClient
	ResolvedEnvironment envs.Environment
	// ExecutionRoleARN has environment placeholders already resolved.
	ExecutionRoleARN string
	EnvResources     *envs.Resources
}

// ResolveEnvironment resolves the stack's abstract environment reference.
func (d *Deployments) ResolveEnvironment(ctx context.Context, stack StackRef) (envs.Environment, error) {
	if stack.Environment == "" {
		return envs.Environment{}, &envs.ConfigurationError{StackName: stack.StackName, Reason: "stack does not declare an environment"}
	}
	return d.provider.ResolveEnvironment(ctx, stack.Environment)
}

// PrepareSdkWithDeployRole resolves credentials for the stack's deploy role.
// roleOverride, when set, replaces the stack's execution role.
func (d *Deployments) PrepareSdkWithDeployRole(ctx context.Context, stack StackRef, roleOverride string, mode envs.AccessMode) (*PreparedSdk, error) {
	env, err := d.ResolveEnvironment(ctx, stack)
	if err != nil {
		return nil, err
	}

	opts := envs.CredentialsOptions{
		AssumeRoleARN:               stack.AssumeRoleARN,
		AssumeRoleExternalID:        stack.AssumeRoleExternalID,
		AssumeRoleAdditionalOptions: stack.AssumeRoleAdditionalOptions,
	}.ResolvePlaceholders(env)

	executionRole := stack.ExecutionRoleARN
	if roleOverride != "" {
		executionRole = roleOverride
	}
	executionRole = envs.CredentialsOptions{AssumeRoleARN: executionRole}.ResolvePlaceholders(env).AssumeRoleARN

	client, err := d.provider.ForEnvironment(ctx, env, mode, opts)
	if err != nil {
		return nil, err
	}
	return &PreparedSdk{
		Client:              client,
		ResolvedEnvironment: env,
		ExecutionRoleARN:    executionRole,
		EnvResources:        d.resources.For(env, client.Client),
	}, nil
}

// RoleResolution tags which credential tier a read operation ended up with.
type RoleResolution int

const (
	// AssumedLookupRole: the elevated read-only role was assumed.
	AssumedLookupRole RoleResolution = iota
	// FellBackToDeployRole: lookup-role resolution failed and the standard
	// deploy-role path was used instead.
	FellBackToDeployRole
)

// PrepareSdkWithLookupRole resolves credentials for the stack's lookup role.
// When the role was assumed and the stack declares a bootstrap requirement
// for it, the requirement is verified and a mismatch is fatal. When default
// credentials came back instead, a warning is emitted and those credentials
// are used. Any other failure is returned to the caller for fallback; a
// failed attempt never poisons the cache for the deploy-role path.
func (d *Deployments) PrepareSdkWithLookupRole(ctx context.Context, stack StackRef) (*PreparedSdk, error) {
	env, err := d.ResolveEnvironment(ctx, stack)
	if err != nil {
		return nil, err
	}

	var opts envs.CredentialsOptions
	var lookup LookupRole
	if stack.LookupRole != nil {
		lookup = *stack.LookupRole
		opts = envs.CredentialsOptions{
			AssumeRoleARN:               lookup.ARN,
			AssumeRoleExternalID:        lookup.AssumeRoleExternalID,
			AssumeRoleAdditionalOptions: lookup.AssumeRoleAdditionalOptions,
		}.ResolvePlaceholders(env)
	}

	client, err := d.provider.ForEnvironment(ctx, env, envs.ForReading, opts)
	if err != nil {
		if stack.LookupRole != nil {
			fmt.Fprintf(d.w, "[deploy] warning: could not resolve lookup role for stack %s: %v\n", stack.StackName, err)
		}
		return nil, err
	}
	envResources := d.resources.For(env, client.Client)

	if client.DidAssumeRole && lookup.RequiresBootstrapStackVersion > 0 {
		if err := envResources.ValidateVersion(ctx, stack.StackName, lookup.RequiresBootstrapStackVersion, lookup.BootstrapStackVersionSSMParameter); err != nil {
			return nil, err
		}
	} else if !client.DidAssumeRole && lookup.RequiresBootstrapStackVersion > 0 {
		fmt.Fprintf(d.w, "[deploy] warning: lookup role for stack %s exists but was not assumed, proceeding with default credentials\n", stack.StackName)
	}

	return &PreparedSdk{
		Client:              client,
		ResolvedEnvironment: env,
		EnvResources:        envResources,
	}, nil
}

// prepareSdkForReading is the explicit two-tier resolution for informational
// operations: lookup role first, deploy role as fallback. The fallback
// decision is returned as a tag rather than expressed through error control
// flow.
func (d *Deployments) prepareSdkForReading(ctx context.Context, stack StackRef) (*PreparedSdk, RoleResolution, error) {
	prepared, err := d.PrepareSdkWithLookupRole(ctx, stack)
	if err == nil {
		return prepared, AssumedLookupRole, nil
	}
	// Bootstrap-version mismatches on an assumed lookup role are fatal, not
	// a reason to fall back.
	var mismatch *envs.VersionMismatchError
	if errors.As(err, &mismatch) {
		return nil, AssumedLookupRole, err
	}

	prepared, err = d.PrepareSdkWithDeployRole(ctx, stack, "", envs.ForReading)
	if err != nil {
		return nil, FellBackToDeployRole, err
	}
	return prepared, FellBackToDeployRole, nil
}

// ReadCurrentTemplate fetches the template currently deployed for the stack,
// preferring lookup-role credentials.
func (d *Deployments) ReadCurrentTemplate(ctx context.Context, stack StackRef) (string, error) {
	prepared, _, err := d.prepareSdkForReading(ctx, stack)
	if err != nil {
		return "", err
	}
	return cfn.CurrentTemplate(ctx, prepared.Client.Client.CloudFormation, stack.StackName)
}

// ResourceIdentifierSummaries lists resource identifier summaries for the
// deployed template.
func (d *Deployments) ResourceIdentifierSummaries(ctx context.Context, stack StackRef) ([]cfntypes.ResourceIdentifierSummary, error) {
	prepared, _, err := d.prepareSdkForReading(ctx, stack)
	if err != nil {
		return nil, err
	}
	return cfn.ResourceIdentifierSummaries(ctx, prepared.Client.Client.CloudFormation, stack.StackName)
}

// StackExists reports whether the stack exists in its environment.
// tryLookupRole selects the two-tier read path instead of the deploy role.
func (d *Deployments) StackExists(ctx context.Context, stack StackRef, tryLookupRole bool) (bool, error) {
	var prepared *PreparedSdk
	var err error
	if tryLookupRole {
		prepared, _, err = d.prepareSdkForReading(ctx, stack)
	} else {
		prepared, err = d.PrepareSdkWithDeployRole(ctx, stack, "", envs.ForReading)
	}
	if err != nil {
		return false, err
	}
	live, err := cfn.Lookup(ctx, prepared.Client.Client.CloudFormation, stack.StackName)
	if err != nil {
		return false, err
	}
	return live.Exists, nil
}

// DeployStackOptions configures one deploy operation.
type DeployStackOptions struct {
	Stack        StackRef
	TemplateBody string
	Parameters   map[string]string
	Tags         map[string]string
	RoleOverride string
	Method       cfn.DeploymentMethod
	// RollbackOnFailure keeps the control plane's automatic rollback
	// enabled. Disabled implies hotswap-style iteration workflows.
	RollbackOnFailure bool
}

// DeployStack resolves credentials, runs the bootstrap gate and delegates to
// the deploy executor.
func (d *Deployments) DeployStack(ctx context.Context, opts DeployStackOptions) (*cfn.DeployResult, error) {
	prepared, err := d.PrepareSdkWithDeployRole(ctx, opts.Stack, opts.RoleOverride, envs.ForWriting)
	if err != nil {
		return nil, err
	}
	if err := prepared.EnvResources.ValidateVersion(ctx, opts.Stack.StackName, opts.Stack.RequiresBootstrapStackVersion, opts.Stack.BootstrapStackVersionSSMParameter); err != nil {
		return nil, err
	}
	return cfn.DeployStack(ctx, prepared.Client.Client.CloudFormation, cfn.DeployStackInput{
		StackName:         opts.Stack.StackName,
		TemplateBody:      opts.TemplateBody,
		Parameters:        opts.Parameters,
		Tags:              opts.Tags,
		RoleARN:           prepared.ExecutionRoleARN,
		Method:            opts.Method,
		RollbackOnFailure: opts.RollbackOnFailure,
		Writer:            d.w,
		Quiet:             d.quiet,
		PollInterval:      d.pollInterval,
	})
}

// DestroyStack deletes the stack and waits for completion.
func (d *Deployments) DestroyStack(ctx context.Context, stack StackRef, roleOverride string) error {
	prepared, err := d.PrepareSdkWithDeployRole(ctx, stack, roleOverride, envs.ForWriting)
	if err != nil {
		return err
	}
	return cfn.DestroyStack(ctx, prepared.Client.Client.CloudFormation, cfn.DestroyStackInput{
		StackName:    stack.StackName,
		RoleARN:      prepared.ExecutionRoleARN,
		Writer:       d.w,
		Quiet:        d.quiet,
		PollInterval: d.pollInterval,
	})
}
