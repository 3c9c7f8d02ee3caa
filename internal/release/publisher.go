package release

import (
	"context"
	"fmt"

	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

// Upload names one local file destined for a release
type Upload struct {
	Name string
	Path string
}

// PublishError wraps a failure while publishing one version
type PublishError struct {
	Version string
	Op      string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing %s: %s: %v", e.Version, e.Op, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrPublishFailed, e.Err}
}

// Publisher creates releases and attaches build artifacts. Publishing
// the same version twice reuses the existing release and the duplicate
// asset policy decides what happens to already-attached names: they are
// skipped by default, replaced when overwrite is configured.
type Publisher struct {
	client *Client
	logger *logger.Logger
}

// NewPublisher wraps an API client for publishing
func NewPublisher(client *Client) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.NewLogger("publisher"),
	}
}

// Publish ensures a release exists for the version and uploads every
// given artifact. Zero uploads is ErrNothingToPublish and creates no
// release.
func (p *Publisher) Publish(ctx context.Context, version string, uploads []Upload, notes string) (*Release, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("version %s: %w", version, ErrNothingToPublish)
	}

	if p.client.cfg.Token == "" {
		return nil, &PublishError{Version: version, Op: "auth", Err: fmt.Errorf("release token not configured")}
	}

	rel, err := p.ensureRelease(ctx, version, notes)
	if err != nil {
		return nil, &PublishError{Version: version, Op: "ensure release", Err: err}
	}

	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if rel.HasAsset(up.Name) {
			if !p.client.cfg.Overwrite {
				p.logger.WithFields(logger.Fields{
					"version": version,
					"asset":   up.Name,
				}).Info("Asset already published, skipping")
				continue
			}
			if err := p.replaceAsset(ctx, rel, up.Name); err != nil {
				return nil, &PublishError{Version: version, Op: "replace asset " + up.Name, Err: err}
			}
		}

		asset, err := p.client.UploadAsset(ctx, rel.ID, up.Name, up.Path)
		if err != nil {
			return nil, &PublishError{Version: version, Op: "upload asset " + up.Name, Err: err}
		}
		rel.Assets = append(rel.Assets, *asset)
	}

	return rel, nil
}

// ensureRelease returns the existing release for a version or creates it
func (p *Publisher) ensureRelease(ctx context.Context, version, notes string) (*Release, error) {
	rel, err := p.client.GetReleaseByTag(ctx, version)
	if err != nil {
		return nil, err
	}
	if rel != nil {
		p.logger.WithFields(logger.Fields{
			"version": version,
			"id":      rel.ID,
		}).Info("Reusing existing release")
		return rel, nil
	}

	name := "gettext " + version
	if notes == "" {
		notes = fmt.Sprintf("Automated build of gettext %s.", version)
	}
	return p.client.CreateRelease(ctx, version, name, notes)
}

// replaceAsset deletes the asset currently occupying a name
func (p *Publisher) replaceAsset(ctx context.Context, rel *Release, name string) error {
	for i, a := range rel.Assets {
		if a.Name != name {
			continue
		}
		if err := p.client.DeleteAsset(ctx, a.ID); err != nil {
			return err
		}
		rel.Assets = append(rel.Assets[:i], rel.Assets[i+1:]...)
		p.logger.WithFields(logger.Fields{
			"asset": name,
		}).Info("Replaced existing asset")
		return nil
	}
	return nil
}
