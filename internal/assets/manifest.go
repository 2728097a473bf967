// Package assets coordinates build and publish of out-of-band artifacts
// referenced by a stack template. One publisher is cached per manifest
// identity so build progress is visible to later publish calls.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JonWallsten/aws-cdk/internal/awsapi"
)

// Entry is one artifact in a manifest: something to build and then publish.
// The build step itself is opaque to the engine.
type Entry interface {
	ID() string
	Build(ctx context.Context, c *awsapi.Client) error
	Publish(ctx context.Context, c *awsapi.Client) error
	IsPublished(ctx context.Context, c *awsapi.Client) (bool, error)
}

// Manifest is a set of asset entries. Publishers are cached by manifest
// pointer identity: the same manifest reference always maps to the same
// publisher within a run.
type Manifest struct {
	Directory string
	Entries   []Entry

	// Build-time bootstrap requirement declared by the asset artifact
	// itself (not the stack's).
	RequiresBootstrapStackVersion     int
	BootstrapStackVersionSSMParameter string
}

type manifestFile struct {
	Version int `json:"version"`
	Files   map[string]struct {
		Source struct {
			Path string `json:"path"`
		} `json:"source"`
		Destination struct {
			BucketName string `json:"bucketName"`
			ObjectKey  string `json:"objectKey"`
		} `json:"destination"`
	} `json:"files"`
	DockerImages map[string]struct {
		Destination struct {
			RepositoryName string `json:"repositoryName"`
			ImageTag       string `json:"imageTag"`
		} `json:"destination"`
	} `json:"dockerImages"`
	Bootstrap struct {
		RequiredVersion  int    `json:"requiredVersion"`
		VersionParameter string `json:"versionParameter"`
	} `json:"bootstrap"`
}

// LoadManifest reads an asset manifest file and materializes its entries.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading asset manifest %s: %w", path, err)
	}
	var mf manifestFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parsing asset manifest %s: %w", path, err)
	}

	m := &Manifest{
		Directory:                         filepath.Dir(path),
		RequiresBootstrapStackVersion:     mf.Bootstrap.RequiredVersion,
		BootstrapStackVersionSSMParameter: mf.Bootstrap.VersionParameter,
	}
	for id, f := range mf.Files {
		m.Entries = append(m.Entries, &FileEntry{
			EntryID: id,
			Source:  filepath.Join(m.Directory, f.Source.Path),
			Bucket:  f.Destination.BucketName,
			Key:     f.Destination.ObjectKey,
		})
	}
	for id, img := range mf.DockerImages {
		m.Entries = append(m.Entries, &ImageEntry{
			EntryID:    id,
			Repository: img.Destination.RepositoryName,
			Tag:        img.Destination.ImageTag,
		})
	}
	return m, nil
}

// Entry returns the entry with the given ID.
func (m *Manifest) Entry(id string) (Entry, error) {
	for _, e := range m.Entries {
		if e.ID() == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("asset manifest has no entry %q", id)
}

// FileEntry is an artifact published as an object to staging storage.
// Builder, when set, produces the source file; the build step is otherwise
// a no-op (the file already exists on disk).
type FileEntry struct {
	EntryID string
	Source  string
	Bucket  string
	Key     string
	Builder func(ctx context.Context) error
}

func (f *FileEntry) ID() string { return f.EntryID }

func (f *FileEntry) Build(ctx context.Context, _ *awsapi.Client) error {
	if f.Builder != nil {
		if err := f.Builder(ctx); err != nil {
			return fmt.Errorf("building asset %s: %w", f.EntryID, err)
		}
	}
	if _, err := os.Stat(f.Source); err != nil {
		return fmt.Errorf("asset %s has no built artifact at %s: %w", f.EntryID, f.Source, err)
	}
	return nil
}

func (f *FileEntry) Publish(ctx context.Context, c *awsapi.Client) error {
	body, err := os.Open(f.Source)
	if err != nil {
		return fmt.Errorf("opening artifact of asset %s: %w", f.EntryID, err)
	}
	defer body.Close()
	_, err = c.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.Bucket),
		Key:    aws.String(f.Key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("publishing asset %s to s3://%s/%s: %w", f.EntryID, f.Bucket, f.Key, err)
	}
	return nil
}

func (f *FileEntry) IsPublished(ctx context.Context, c *awsapi.Client) (bool, error) {
	_, err := c.S3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.Bucket),
		Key:    aws.String(f.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking asset %s at s3://%s/%s: %w", f.EntryID, f.Bucket, f.Key, err)
	}
	return true, nil
}

// ImageEntry is a container image artifact. Building and pushing are opaque
// steps supplied by the caller; the published check goes against the image
// registry.
type ImageEntry struct {
	EntryID    string
	Repository string
	Tag        string
	Builder    func(ctx context.Context) error
	Pusher     func(ctx context.Context) error
}

func (i *ImageEntry) ID() string { return i.EntryID }

func (i *ImageEntry) Build(ctx context.Context, _ *awsapi.Client) error {
	if i.Builder == nil {
		return nil
	}
	if err := i.Builder(ctx); err != nil {
		return fmt.Errorf("building image asset %s: %w", i.EntryID, err)
	}
	return nil
}

func (i *ImageEntry) Publish(ctx context.Context, c *awsapi.Client) error {
	if i.Pusher == nil {
		return fmt.Errorf("image asset %s has no push step configured", i.EntryID)
	}
	if err := i.Pusher(ctx); err != nil {
		return fmt.Errorf("publishing image asset %s: %w", i.EntryID, err)
	}
	return nil
}

func (i *ImageEntry) IsPublished(ctx context.Context, c *awsapi.Client) (bool, error) {
	_, err := c.ECR.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(i.Repository),
		ImageIds:       []types.ImageIdentifier{{ImageTag: aws.String(i.Tag)}},
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking image asset %s in %s: %w", i.EntryID, i.Repository, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "notfound") || strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist") || strings.Contains(msg, "404")
}
