// Package cmd wires the CLI surface of the deployment engine.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JonWallsten/aws-cdk/internal/deployments"
	"github.com/JonWallsten/aws-cdk/internal/envs"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cdkdeploy",
	Short: "Deployment orchestration for declarative infrastructure stacks",
	Long: `cdkdeploy drives stack deployments against the AWS control plane: it
resolves credentials and execution roles per target environment, verifies
bootstrap compatibility before mutating anything, recovers stacks stuck
mid-rollback, and builds and publishes the assets a stack template refers to.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cdkdeploy.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "AWS profile for base credentials")
	rootCmd.PersistentFlags().String("region", "", "default AWS region")
	rootCmd.PersistentFlags().String("stacks-file", "stacks.yaml", "stack manifest file")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress stack event output")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug output")
	rootCmd.PersistentFlags().Duration("poll-interval", 0, "stack status poll interval (default 5s)")

	// TODO: add error return here
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	viper.BindPFlag("region", rootCmd.PersistentFlags().Lookup("region"))
	viper.BindPFlag("stacks_file", rootCmd.PersistentFlags().Lookup("stacks-file"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("poll_interval", rootCmd.PersistentFlags().Lookup("poll-interval"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".cdkdeploy")
		}
	}

	viper.SetEnvPrefix("CDKDEPLOY")
	viper.AutomaticEnv()

	// Missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()
}

// newDeployments builds the façade for one command invocation.
func newDeployments(ctx context.Context) (*deployments.Deployments, error) {
	provider, err := envs.NewAwsProvider(ctx, viper.GetString("profile"), viper.GetString("region"), os.Stderr)
	if err != nil {
		return nil, err
	}
	return deployments.New(deployments.Options{
		Provider:     provider,
		Quiet:        viper.GetBool("quiet"),
		Writer:       os.Stderr,
		PollInterval: viper.GetDuration("poll_interval"),
	}), nil
}
