package envs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/JonWallsten/aws-cdk/internal/awsapi"
)

// CachedClient is the result of resolving one (environment, mode,
// credentials) triple. It is handed out by reference and never mutated
// after creation.
type CachedClient struct {
	Client        *awsapi.Client
	DidAssumeRole bool
}

// Provider resolves environments and authenticated clients. The façade
// depends on this interface; AwsProvider is the production implementation.
type Provider interface {
	// ResolveEnvironment turns an "aws://account/region" reference into a
	// concrete environment, filling unknown placeholders from the base
	// credentials.
	ResolveEnvironment(ctx context.Context, ref string) (Environment, error)

	// ForEnvironment returns the cached client for the triple, creating it
	// on first use. Identical inputs always return the same instance for
	// the lifetime of the provider.
	ForEnvironment(ctx context.Context, env Environment, mode AccessMode, opts CredentialsOptions) (*CachedClient, error)
}

// AwsProvider resolves clients against the real AWS SDK and memoizes them by
// composite cache key. It is owned by one orchestration run and is never a
// process-wide global.
type AwsProvider struct {
	base           aws.Config
	defaultAccount string
	warnings       io.Writer

	mu    sync.Mutex
	cache map[string]*CachedClient

	// Injection points for tests.
	assumeRole    func(ctx context.Context, base aws.Config, region, roleArn, externalID string, additional map[string]string) (aws.Config, error)
	lookupAccount func(ctx context.Context, cfg aws.Config) (string, error)
	newClient     func(cfg aws.Config) *awsapi.Client
}

// NewAwsProvider loads the base config chain and returns an empty cache.
// Warnings (lookup-role fallbacks and the like) are written to w.
func NewAwsProvider(ctx context.Context, profile, region string, w io.Writer) (*AwsProvider, error) {
	base, err := awsapi.LoadBaseConfig(ctx, profile, region)
	if err != nil {
		return nil, err
	}
	return NewAwsProviderFromConfig(base, w), nil
}

// NewAwsProviderFromConfig wraps an already-loaded config.
func NewAwsProviderFromConfig(base aws.Config, w io.Writer) *AwsProvider {
	if w == nil {
		w = io.Discard
	}
	return &AwsProvider{
		base:          base,
		warnings:      w,
		cache:         make(map[string]*CachedClient),
		assumeRole:    awsapi.AssumeRoleConfig,
		lookupAccount: awsapi.DefaultAccount,
		newClient:     awsapi.NewClient,
	}
}

// CacheKey derives the deterministic composite key for one resolution
// triple. Equal inputs always produce equal keys.
func CacheKey(env Environment, mode AccessMode, opts CredentialsOptions) string {
	key := fmt.Sprintf("%s:%s:%d:%s:%s", env.Account, env.Region, mode, opts.AssumeRoleARN, opts.AssumeRoleExternalID)
	if len(opts.AssumeRoleAdditionalOptions) > 0 {
		// Deterministic: encoding/json sorts map keys.
		extra, _ := json.Marshal(opts.AssumeRoleAdditionalOptions)
		key += ":" + string(extra)
	}
	return key
}

func (p *AwsProvider) ResolveEnvironment(ctx context.Context, ref string) (Environment, error) {
	env, err := ParseEnvironment(ref)
	if err != nil {
		return Environment{}, err
	}
	if env.Region == UnknownRegion {
		env.Region = p.base.Region
	}
	if env.Account == UnknownAccount {
		account, err := p.resolveDefaultAccount(ctx)
		if err != nil {
			return Environment{}, err
		}
		env.Account = account
	}
	return env, nil
}

func (p *AwsProvider) resolveDefaultAccount(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultAccountLocked(ctx)
}

func (p *AwsProvider) ForEnvironment(ctx context.Context, env Environment, mode AccessMode, opts CredentialsOptions) (*CachedClient, error) {
	key := CacheKey(env, mode, opts)

	// The lock covers entry construction so concurrent first-use never
	// builds duplicates.
	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.cache[key]; ok {
		return cached, nil
	}

	cached, err := p.resolveLocked(ctx, env, opts)
	if err != nil {
		return nil, err
	}
	p.cache[key] = cached
	return cached, nil
}

func (p *AwsProvider) resolveLocked(ctx context.Context, env Environment, opts CredentialsOptions) (*CachedClient, error) {
	if opts.AssumeRoleARN == "" {
		cfg := p.base.Copy()
		cfg.Region = env.Region
		return &CachedClient{Client: p.newClient(cfg), DidAssumeRole: false}, nil
	}

	cfg, err := p.assumeRole(ctx, p.base, env.Region, opts.AssumeRoleARN, opts.AssumeRoleExternalID, opts.AssumeRoleAdditionalOptions)
	if err == nil {
		return &CachedClient{Client: p.newClient(cfg), DidAssumeRole: true}, nil
	}

	// When the base credentials already belong to the target account the
	// role is optional; proceed without it. Cross-account access without
	// the role cannot work, so that stays fatal.
	account, accErr := p.defaultAccountLocked(ctx)
	if accErr == nil && account == env.Account {
		fmt.Fprintf(p.warnings, "[deploy] warning: could not assume role %s, proceeding with default credentials (%v)\n", opts.AssumeRoleARN, err)
		base := p.base.Copy()
		base.Region = env.Region
		return &CachedClient{Client: p.newClient(base), DidAssumeRole: false}, nil
	}
	return nil, &CredentialError{Environment: env, RoleARN: opts.AssumeRoleARN, Err: err}
}

func (p *AwsProvider) defaultAccountLocked(ctx context.Context) (string, error) {
	if p.defaultAccount != "" {
		return p.defaultAccount, nil
	}
	account, err := p.lookupAccount(ctx, p.base)
	if err != nil {
		return "", err
	}
	p.defaultAccount = account
	return account, nil
}
