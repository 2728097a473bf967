package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonWallsten/aws-cdk/internal/assets"
	"github.com/JonWallsten/aws-cdk/internal/deployments"
)

var (
	assetManifestPath string
	assetID           string
	assetConcurrency  int
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Build and publish the assets a stack refers to",
}

var assetsBuildCmd = &cobra.Command{
	Use:   "build STACK",
	Short: "Build assets from the stack's asset manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsBuild,
}

var assetsPublishCmd = &cobra.Command{
	Use:   "publish STACK",
	Short: "Publish assets to their destinations",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsPublish,
}

var assetsCheckCmd = &cobra.Command{
	Use:   "check STACK",
	Short: "Check whether an asset is already published",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsCheck,
}

func init() {
	assetsCmd.PersistentFlags().StringVar(&assetManifestPath, "manifest", "", "asset manifest path (overrides the stack manifest entry)")
	assetsCmd.PersistentFlags().StringVar(&assetID, "asset", "", "operate on a single asset ID")
	assetsCmd.PersistentFlags().IntVar(&assetConcurrency, "concurrency", 1, "number of assets to process in parallel")

	assetsCmd.AddCommand(assetsBuildCmd)
	assetsCmd.AddCommand(assetsPublishCmd)
	assetsCmd.AddCommand(assetsCheckCmd)
	rootCmd.AddCommand(assetsCmd)
}

// loadAssetContext resolves the stack spec and its asset manifest for one
// assets subcommand.
func loadAssetContext(stackName string) (*stackSpec, *assets.Manifest, error) {
	spec, err := loadStackSpec(stackName)
	if err != nil {
		return nil, nil, err
	}
	path := assetManifestPath
	if path == "" {
		path = spec.AssetManifest
	}
	if path == "" {
		return nil, nil, fmt.Errorf("stack %s declares no asset manifest", spec.Name)
	}
	manifest, err := assets.LoadManifest(path)
	if err != nil {
		return nil, nil, err
	}
	return spec, manifest, nil
}

func runAssetsBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	spec, manifest, err := loadAssetContext(args[0])
	if err != nil {
		return err
	}
	d, err := newDeployments(ctx)
	if err != nil {
		return err
	}
	opts := deployments.AssetOptions{Stack: spec.ref(), Concurrency: assetConcurrency}
	if assetID != "" {
		entry, err := manifest.Entry(assetID)
		if err != nil {
			return err
		}
		return d.BuildSingleAsset(ctx, manifest, entry, opts)
	}
	return d.BuildAssets(ctx, manifest, opts)
}

func runAssetsPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	spec, manifest, err := loadAssetContext(args[0])
	if err != nil {
		return err
	}
	d, err := newDeployments(ctx)
	if err != nil {
		return err
	}
	opts := deployments.AssetOptions{Stack: spec.ref(), Concurrency: assetConcurrency}
	if assetID != "" {
		entry, err := manifest.Entry(assetID)
		if err != nil {
			return err
		}
		return d.PublishSingleAsset(ctx, manifest, entry, opts)
	}
	return d.PublishAssets(ctx, manifest, opts)
}

func runAssetsCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	spec, manifest, err := loadAssetContext(args[0])
	if err != nil {
		return err
	}
	if assetID == "" {
		return fmt.Errorf("assets check requires --asset")
	}
	entry, err := manifest.Entry(assetID)
	if err != nil {
		return err
	}
	d, err := newDeployments(ctx)
	if err != nil {
		return err
	}
	published, err := d.IsSingleAssetPublished(ctx, manifest, entry, deployments.AssetOptions{Stack: spec.ref()})
	if err != nil {
		return err
	}
	if published {
		fmt.Printf("%s: published\n", assetID)
	} else {
		fmt.Printf("%s: not published\n", assetID)
	}
	return nil
}
