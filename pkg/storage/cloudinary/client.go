package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/angelmondragon/intake-backend/pkg/config"
	"github.com/angelmondragon/intake-backend/pkg/logger"
)

// uploadAPI is the subset of the SDK uploader used here.
type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// Client uploads participant documents to Cloudinary.
type Client struct {
	api    uploadAPI
	folder string
}

// Asset is the stored result of an upload.
type Asset struct {
	PublicID string
	URL      string
	Bytes    int
	Format   string
}

func NewClient(ctx context.Context, cfg config.CloudinaryConfig, logg *logger.Logger) (*Client, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary credentials are required")
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "cloud", cfg.CloudName), "cloudinary client initialized")
	}
	return &Client{api: &cld.Upload, folder: strings.Trim(cfg.Folder, "/")}, nil
}

// Upload stores body under key (folder-relative, extension stripped as Cloudinary expects).
func (c *Client) Upload(ctx context.Context, key string, body io.Reader) (*Asset, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("cloudinary client not initialized")
	}
	if key == "" {
		return nil, errors.New("object key is required")
	}

	dir, name := path.Split(strings.Trim(key, "/"))
	publicID := strings.TrimSuffix(name, path.Ext(name))
	folder := strings.Trim(path.Join(c.folder, dir), "/")

	result, err := c.api.Upload(ctx, body, uploader.UploadParams{
		PublicID:     publicID,
		Folder:       folder,
		ResourceType: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if result == nil {
		return nil, errors.New("cloudinary upload: empty response")
	}
	if result.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary upload: %s", result.Error.Message)
	}
	if result.SecureURL == "" {
		return nil, errors.New("cloudinary upload: no secure url returned")
	}

	return &Asset{
		PublicID: result.PublicID,
		URL:      result.SecureURL,
		Bytes:    result.Bytes,
		Format:   result.Format,
	}, nil
}

// Delete removes an asset by public id.
func (c *Client) Delete(ctx context.Context, publicID string) error {
	if c == nil || c.api == nil {
		return errors.New("cloudinary client not initialized")
	}
	result, err := c.api.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if result != nil && result.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy: %s", result.Error.Message)
	}
	return nil
}
