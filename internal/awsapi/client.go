package awsapi

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Client bundles the per-environment service clients behind the narrow
// interfaces above. One Client corresponds to one resolved (account, region,
// credentials) triple and is shared through the credential cache.
type Client struct {
	cfg aws.Config

	CloudFormation CloudFormationAPI
	SSM            SSMAPI
	S3             S3API
	ECR            ECRAPI
	STS            STSAPI
}

// NewClient builds the service bundle from an already-resolved config.
func NewClient(cfg aws.Config) *Client {
	return &Client{
		cfg:            cfg,
		CloudFormation: cloudformation.NewFromConfig(cfg),
		SSM:            ssm.NewFromConfig(cfg),
		S3:             s3.NewFromConfig(cfg),
		ECR:            ecr.NewFromConfig(cfg),
		STS:            sts.NewFromConfig(cfg),
	}
}

// Config returns the resolved SDK config backing this client bundle.
func (c *Client) Config() aws.Config {
	return c.cfg
}

// LoadBaseConfig loads the shared AWS config chain, optionally pinned to a
// profile and region.
func LoadBaseConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	var optFns []func(*config.LoadOptions) error
	if profile != "" {
		optFns = append(optFns, config.WithSharedConfigProfile(profile))
	}
	if region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return cfg, nil
}

// AssumeRoleConfig derives a config whose credentials come from assuming the
// given role on top of the base config. Recognized additional options:
// "RoleSessionName" and "DurationSeconds"; unknown keys are ignored here but
// still participate in the credential cache key upstream.
func AssumeRoleConfig(ctx context.Context, base aws.Config, region, roleArn, externalID string, additional map[string]string) (aws.Config, error) {
	stsClient := sts.NewFromConfig(base)
	provider := stscreds.NewAssumeRoleProvider(stsClient, roleArn, func(o *stscreds.AssumeRoleOptions) {
		if externalID != "" {
			o.ExternalID = aws.String(externalID)
		}
		if name := additional["RoleSessionName"]; name != "" {
			o.RoleSessionName = name
		}
		if secs := additional["DurationSeconds"]; secs != "" {
			if n, err := strconv.Atoi(secs); err == nil && n > 0 {
				o.Duration = time.Duration(n) * time.Second
			}
		}
	})

	cfg := base.Copy()
	cfg.Credentials = aws.NewCredentialsCache(provider)
	if region != "" {
		cfg.Region = region
	}

	// Resolve once so role-assumption failures surface now, not on the first
	// control-plane call.
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return aws.Config{}, fmt.Errorf("could not assume role %s: %w", roleArn, err)
	}
	return cfg, nil
}

// DefaultAccount returns the account ID of the base credentials.
func DefaultAccount(ctx context.Context, cfg aws.Config) (string, error) {
	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("unable to determine default AWS account: %w", err)
	}
	return aws.ToString(out.Account), nil
}
