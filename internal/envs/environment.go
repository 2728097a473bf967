// Package envs resolves abstract environment references into concrete
// (account, region) targets and owns the credential cache and the
// per-environment bootstrap metadata accessors.
package envs

import (
	"fmt"
	"strings"
)

// Placeholder tokens that may appear in role ARNs, external IDs and
// additional option values. They are replaced against the resolved
// environment before credentials are resolved.
const (
	AccountPlaceholder = "${AWS::AccountId}"
	RegionPlaceholder  = "${AWS::Region}"

	// UnknownAccount and UnknownRegion mark environment-agnostic stacks;
	// they resolve to whatever the base credentials point at.
	UnknownAccount = "unknown-account"
	UnknownRegion  = "unknown-region"
)

// Environment is a resolved deployment target. Equality is by value.
type Environment struct {
	Account string
	Region  string
}

func (e Environment) String() string {
	return fmt.Sprintf("aws://%s/%s", e.Account, e.Region)
}

// ParseEnvironment parses an "aws://account/region" reference. Account and
// region may be the unknown placeholders for environment-agnostic stacks.
func ParseEnvironment(ref string) (Environment, error) {
	rest, ok := strings.CutPrefix(ref, "aws://")
	if !ok {
		return Environment{}, fmt.Errorf("malformed environment %q: expected aws://account/region", ref)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Environment{}, fmt.Errorf("malformed environment %q: expected aws://account/region", ref)
	}
	return Environment{Account: parts[0], Region: parts[1]}, nil
}

// AccessMode informs which default role class applies when none is explicit.
type AccessMode int

const (
	ForReading AccessMode = iota
	ForWriting
)

func (m AccessMode) String() string {
	if m == ForWriting {
		return "ForWriting"
	}
	return "ForReading"
}

// CredentialsOptions describes an optional role-elevation chain.
type CredentialsOptions struct {
	AssumeRoleARN        string
	AssumeRoleExternalID string
	// AssumeRoleAdditionalOptions carries extra assume-role settings
	// (session name, duration). Values participate in the cache key.
	AssumeRoleAdditionalOptions map[string]string
}

// ResolvePlaceholders returns a copy of the options with account/region
// tokens replaced against the resolved environment.
func (o CredentialsOptions) ResolvePlaceholders(env Environment) CredentialsOptions {
	out := CredentialsOptions{
		AssumeRoleARN:        replacePlaceholders(o.AssumeRoleARN, env),
		AssumeRoleExternalID: replacePlaceholders(o.AssumeRoleExternalID, env),
	}
	if len(o.AssumeRoleAdditionalOptions) > 0 {
		out.AssumeRoleAdditionalOptions = make(map[string]string, len(o.AssumeRoleAdditionalOptions))
		for k, v := range o.AssumeRoleAdditionalOptions {
			out.AssumeRoleAdditionalOptions[k] = replacePlaceholders(v, env)
		}
	}
	return out
}

func replacePlaceholders(s string, env Environment) string {
	s = strings.ReplaceAll(s, AccountPlaceholder, env.Account)
	s = strings.ReplaceAll(s, RegionPlaceholder, env.Region)
	return s
}

// ConfigurationError reports a stack that cannot be deployed as declared,
// for example one carrying no environment.
type ConfigurationError struct {
	StackName string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.StackName, e.Reason)
}

// CredentialError reports a failed role assumption. It is recovered locally
// on the lookup-role path and fatal everywhere else.
type CredentialError struct {
	Environment Environment
	RoleARN     string
	Err         error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("could not assume role %s in %s: %v", e.RoleARN, e.Environment, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }
