package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonWallsten/aws-cdk/internal/cfn"
	"github.com/JonWallsten/aws-cdk/internal/deployments"
)

var (
	deployRoleArn    string
	deployMethod     string
	deployChangeSet  bool
	deployNoRollback bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy STACK",
	Short: "Deploy a stack to its environment",
	Long: `Deploy a stack declared in the stack manifest.

Examples:
  cdkdeploy deploy api-stack
  cdkdeploy deploy api-stack --method direct
  cdkdeploy deploy api-stack --role-arn arn:aws:iam::123456789012:role/deploy`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

var destroyCmd = &cobra.Command{
	Use:   "destroy STACK",
	Short: "Destroy a stack",
	Args:  cobra.ExactArgs(1),
	RunE:  runDestroy,
}

func init() {
	deployCmd.Flags().StringVar(&deployRoleArn, "role-arn", "", "execution role override")
	deployCmd.Flags().StringVar(&deployMethod, "method", "", "deployment method: change-set or direct")
	deployCmd.Flags().BoolVar(&deployChangeSet, "change-set", false, "deploy via change set (deprecated, use --method change-set)")
	deployCmd.Flags().BoolVar(&deployNoRollback, "no-rollback", false, "disable automatic rollback on failure")

	destroyCmd.Flags().StringVar(&deployRoleArn, "role-arn", "", "execution role override")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(destroyCmd)
}

// resolveDeploymentMethod folds the deprecated --change-set flag and the
// --method field into a single variant, rejecting ambiguous combinations.
func resolveDeploymentMethod(method string, legacyChangeSet bool) (cfn.DeploymentMethod, error) {
	if method != "" && legacyChangeSet {
		return 0, fmt.Errorf("--change-set and --method cannot be combined; use --method")
	}
	if legacyChangeSet {
		return cfn.MethodChangeSet, nil
	}
	switch method {
	case "", "change-set":
		return cfn.MethodChangeSet, nil
	case "direct":
		return cfn.MethodDirect, nil
	default:
		return 0, fmt.Errorf("unknown deployment method %q: expected change-set or direct", method)
	}
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	spec, err := loadStackSpec(args[0])
	if err != nil {
		return err
	}
	method, err := resolveDeploymentMethod(deployMethod, deployChangeSet)
	if err != nil {
		return err
	}
	body, err := spec.templateBody()
	if err != nil {
		return err
	}

	d, err := newDeployments(ctx)
	if err != nil {
		return err
	}
	result, err := d.DeployStack(ctx, deployments.DeployStackOptions{
		Stack:             spec.ref(),
		TemplateBody:      body,
		Parameters:        spec.Parameters,
		Tags:              spec.Tags,
		RoleOverride:      deployRoleArn,
		Method:            method,
		RollbackOnFailure: !deployNoRollback,
	})
	if err != nil {
		return err
	}
	if result.NoOp {
		fmt.Printf("%s: no changes\n", spec.Name)
		return nil
	}
	fmt.Printf("%s: deployed (%s)\n", spec.Name, result.StackID)
	for k, v := range result.Outputs {
		fmt.Printf("  %s = %s\n", k, v)
	}
	return nil
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	spec, err := loadStackSpec(args[0])
	if err != nil {
		return err
	}
	d, err := newDeployments(ctx)
	if err != nil {
		return err
	}
	if err := d.DestroyStack(ctx, spec.ref(), deployRoleArn); err != nil {
		return err
	}
	fmt.Printf("%s: destroyed\n", spec.Name)
	return nil
}
