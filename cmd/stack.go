package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var existsLookup bool

var existsCmd = &cobra.Command{
	Use:   "exists STACK",
	Short: "Check whether a stack exists in its environment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExists,
}

var templateCmd = &cobra.Command{
	Use:   "template STACK",
	Short: "Print the template currently deployed for a stack",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplate,
}

func init() {
	existsCmd.Flags().BoolVar(&existsLookup, "lookup", false, "try the lookup role before the deploy role")

	rootCmd.AddCommand(existsCmd)
	rootCmd.AddCommand(templateCmd)
}

func runExists(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	spec, err := loadStackSpec(args[0])
	if err != nil {
		return err
	}
	d, err := newDeployments(ctx)
	if err != nil {
		return err
	}
	exists, err := d.StackExists(ctx, spec.ref(), existsLookup)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Printf("%s: does not exist\n", spec.Name)
		os.Exit(1)
	}
	fmt.Printf("%s: exists\n", spec.Name)
	return nil
}

func runTemplate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	spec, err := loadStackSpec(args[0])
	if err != nil {
		return err
	}
	d, err := newDeployments(ctx)
	if err != nil {
		return err
	}
	body, err := d.ReadCurrentTemplate(ctx, spec.ref())
	if err != nil {
		return err
	}
	fmt.Println(body)
	return nil
}
