package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonWallsten/aws-cdk/internal/deployments"
)

var (
	rollbackRoleArn        string
	rollbackForce          bool
	rollbackOrphans        []string
	rollbackNoVersionCheck bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback STACK",
	Short: "Roll a stuck stack back to a stable state",
	Long: `Roll a stack that is stuck in a failed state back to a stable one.

With --force, resources that block a rollback continuation are detected
from the event history and orphaned automatically, retrying until the
stack stabilizes. Specific logical IDs can be orphaned up front with
--orphan.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackRoleArn, "role-arn", "", "execution role override")
	rollbackCmd.Flags().BoolVar(&rollbackForce, "force", false, "orphan blocking resources and retry until stable")
	rollbackCmd.Flags().StringSliceVar(&rollbackOrphans, "orphan", nil, "logical resource IDs to orphan during continuation")
	rollbackCmd.Flags().BoolVar(&rollbackNoVersionCheck, "no-version-check", false, "skip the bootstrap version gate")

	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	spec, err := loadStackSpec(args[0])
	if err != nil {
		return err
	}
	d, err := newDeployments(ctx)
	if err != nil {
		return err
	}
	result, err := d.RollbackStack(ctx, deployments.RollbackStackOptions{
		Stack:                         spec.ref(),
		RoleOverride:                  rollbackRoleArn,
		Force:                         rollbackForce,
		OrphanLogicalIDs:              rollbackOrphans,
		ValidateBootstrapStackVersion: !rollbackNoVersionCheck,
	})
	if err != nil {
		return err
	}
	if result.NotInRollbackableState {
		return nil
	}
	fmt.Printf("%s: rollback complete\n", spec.Name)
	return nil
}
