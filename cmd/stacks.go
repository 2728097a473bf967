package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JonWallsten/aws-cdk/internal/deployments"
)

// stackSpec is one entry of the stack manifest file.
type stackSpec struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Template    string `yaml:"template"`

	AssumeRoleArn        string            `yaml:"assumeRoleArn"`
	AssumeRoleExternalID string            `yaml:"assumeRoleExternalId"`
	AssumeRoleOptions    map[string]string `yaml:"assumeRoleOptions"`
	ExecutionRoleArn     string            `yaml:"executionRoleArn"`

	LookupRole *struct {
		Arn                      string            `yaml:"arn"`
		ExternalID               string            `yaml:"externalId"`
		Options                  map[string]string `yaml:"options"`
		RequiresBootstrapVersion int               `yaml:"requiresBootstrapVersion"`
		BootstrapVersionParam    string            `yaml:"bootstrapVersionParameter"`
	} `yaml:"lookupRole"`

	RequiresBootstrapVersion int    `yaml:"requiresBootstrapVersion"`
	BootstrapVersionParam    string `yaml:"bootstrapVersionParameter"`

	Tags       map[string]string `yaml:"tags"`
	Parameters map[string]string `yaml:"parameters"`

	AssetManifest string `yaml:"assetManifest"`
}

type stackManifest struct {
	Stacks []stackSpec `yaml:"stacks"`
}

// loadStackSpec finds the named stack in the stack manifest file.
func loadStackSpec(name string) (*stackSpec, error) {
	path := viper.GetString("stacks_file")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stack manifest %s: %w", path, err)
	}
	var manifest stackManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing stack manifest %s: %w", path, err)
	}
	for i := range manifest.Stacks {
		if manifest.Stacks[i].Name == name {
			return &manifest.Stacks[i], nil
		}
	}
	return nil, fmt.Errorf("stack %q not found in %s", name, path)
}

func (s *stackSpec) ref() deployments.StackRef {
	ref := deployments.StackRef{
		StackName:                         s.Name,
		Environment:                       s.Environment,
		AssumeRoleARN:                     s.AssumeRoleArn,
		AssumeRoleExternalID:              s.AssumeRoleExternalID,
		AssumeRoleAdditionalOptions:       s.AssumeRoleOptions,
		ExecutionRoleARN:                  s.ExecutionRoleArn,
		RequiresBootstrapStackVersion:     s.RequiresBootstrapVersion,
		BootstrapStackVersionSSMParameter: s.BootstrapVersionParam,
	}
	if s.LookupRole != nil {
		ref.LookupRole = &deployments.LookupRole{
			ARN:                               s.LookupRole.Arn,
			AssumeRoleExternalID:              s.LookupRole.ExternalID,
			AssumeRoleAdditionalOptions:       s.LookupRole.Options,
			RequiresBootstrapStackVersion:     s.LookupRole.RequiresBootstrapVersion,
			BootstrapStackVersionSSMParameter: s.LookupRole.BootstrapVersionParam,
		}
	}
	return ref
}

func (s *stackSpec) templateBody() (string, error) {
	if s.Template == "" {
		return "", fmt.Errorf("stack %s declares no template", s.Name)
	}
	data, err := os.ReadFile(s.Template)
	if err != nil {
		return "", fmt.Errorf("reading template of stack %s: %w", s.Name, err)
	}
	return string(data), nil
}
