package attachments

import (
	"context"
	"io"

	"github.com/angelmondragon/intake-backend/pkg/config"
	"github.com/angelmondragon/intake-backend/pkg/storage/cloudinary"
	"github.com/angelmondragon/intake-backend/pkg/storage/gcs"
)

// Backend stores one object and returns its public reference.
type Backend interface {
	Name() string
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

type gcsUploader interface {
	Upload(ctx context.Context, bucket, object, contentType string, body io.Reader) (*gcs.Object, error)
}

type gcsBackend struct {
	client gcsUploader
	bucket string
}

func NewGCSBackend(client gcsUploader, bucket string) Backend {
	return &gcsBackend{client: client, bucket: bucket}
}

func (b *gcsBackend) Name() string { return config.AttachmentBackendGCS }

func (b *gcsBackend) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	obj, err := b.client.Upload(ctx, b.bucket, key, contentType, body)
	if err != nil {
		return "", err
	}
	return obj.URL, nil
}

type cloudinaryUploader interface {
	Upload(ctx context.Context, key string, body io.Reader) (*cloudinary.Asset, error)
}

type cloudinaryBackend struct {
	client cloudinaryUploader
}

func NewCloudinaryBackend(client cloudinaryUploader) Backend {
	return &cloudinaryBackend{client: client}
}

func (b *cloudinaryBackend) Name() string { return config.AttachmentBackendCloudinary }

// Put ignores contentType; Cloudinary detects the resource type itself.
func (b *cloudinaryBackend) Put(ctx context.Context, key, _ string, body io.Reader) (string, error) {
	asset, err := b.client.Upload(ctx, key, body)
	if err != nil {
		return "", err
	}
	return asset.URL, nil
}
