package deployments

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JonWallsten/aws-cdk/internal/assets"
	"github.com/JonWallsten/aws-cdk/internal/envs"
)

// AssetOptions configures asset build and publish operations. Assets gate on
// the build-time bootstrap requirement declared by the manifest itself, not
// the stack's.
type AssetOptions struct {
	Stack        StackRef
	RoleOverride string
	// Concurrency > 1 runs entry operations in parallel. The publisher
	// cache stays identity-keyed and coherent either way.
	Concurrency int
}

// cachedPublisher returns the one publisher for this manifest reference,
// creating it on first use. Creation is serialized so concurrent first-use
// never constructs duplicates.
func (d *Deployments) cachedPublisher(manifest *assets.Manifest, prepared *PreparedSdk, stackName string) *assets.Publisher {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.publishers[manifest]; ok {
		return p
	}
	listener := &assets.WriterListener{
		W:      d.w,
		Prefix: fmt.Sprintf("%s: ", stackName),
		Quiet:  d.quiet,
	}
	p := assets.NewPublisher(manifest, prepared.Client.Client, listener)
	d.publishers[manifest] = p
	return p
}

func (d *Deployments) prepareAssetPublisher(ctx context.Context, manifest *assets.Manifest, opts AssetOptions, gate bool) (*assets.Publisher, error) {
	prepared, err := d.PrepareSdkWithDeployRole(ctx, opts.Stack, opts.RoleOverride, envs.ForWriting)
	if err != nil {
		return nil, err
	}
	if gate {
		if err := prepared.EnvResources.ValidateVersion(ctx, opts.Stack.StackName, manifest.RequiresBootstrapStackVersion, manifest.BootstrapStackVersionSSMParameter); err != nil {
			return nil, err
		}
	}
	return d.cachedPublisher(manifest, prepared, opts.Stack.StackName), nil
}

// BuildSingleAsset builds one manifest entry, running the bootstrap gate
// against the manifest's build-time requirement first.
func (d *Deployments) BuildSingleAsset(ctx context.Context, manifest *assets.Manifest, entry assets.Entry, opts AssetOptions) error {
	publisher, err := d.prepareAssetPublisher(ctx, manifest, opts, true)
	if err != nil {
		return err
	}
	if err := publisher.BuildEntry(ctx, entry); err != nil {
		return err
	}
	if publisher.HasFailures() {
		return &AssetOperationError{AssetID: entry.ID(), Operation: "build", Failures: publisher.Failures()}
	}
	return nil
}

// PublishSingleAsset publishes one manifest entry. An entry already marked
// built is not rebuilt.
func (d *Deployments) PublishSingleAsset(ctx context.Context, manifest *assets.Manifest, entry assets.Entry, opts AssetOptions) error {
	publisher, err := d.prepareAssetPublisher(ctx, manifest, opts, false)
	if err != nil {
		return err
	}
	if err := publisher.PublishEntry(ctx, entry); err != nil {
		return err
	}
	if publisher.HasFailures() {
		return &AssetOperationError{AssetID: entry.ID(), Operation: "publish", Failures: publisher.Failures()}
	}
	return nil
}

// IsSingleAssetPublished checks the destination without publishing.
func (d *Deployments) IsSingleAssetPublished(ctx context.Context, manifest *assets.Manifest, entry assets.Entry, opts AssetOptions) (bool, error) {
	publisher, err := d.prepareAssetPublisher(ctx, manifest, opts, false)
	if err != nil {
		return false, err
	}
	return publisher.IsEntryPublished(ctx, entry)
}

// BuildAssets builds every entry of the manifest, optionally in parallel.
func (d *Deployments) BuildAssets(ctx context.Context, manifest *assets.Manifest, opts AssetOptions) error {
	return d.forEachEntry(ctx, manifest, opts, func(ctx context.Context, e assets.Entry) error {
		return d.BuildSingleAsset(ctx, manifest, e, opts)
	})
}

// PublishAssets publishes every entry of the manifest, optionally in
// parallel.
func (d *Deployments) PublishAssets(ctx context.Context, manifest *assets.Manifest, opts AssetOptions) error {
	return d.forEachEntry(ctx, manifest, opts, func(ctx context.Context, e assets.Entry) error {
		return d.PublishSingleAsset(ctx, manifest, e, opts)
	})
}

func (d *Deployments) forEachEntry(ctx context.Context, manifest *assets.Manifest, opts AssetOptions, op func(context.Context, assets.Entry) error) error {
	if opts.Concurrency <= 1 {
		for _, e := range manifest.Entries {
			if err := op(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, e := range manifest.Entries {
		e := e
		g.Go(func() error { return op(ctx, e) })
	}
	return g.Wait()
}
