package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/angelmondragon/intake-backend/pkg/config"
	"github.com/angelmondragon/intake-backend/pkg/logger"
)

const (
	readWriteScope = "https://www.googleapis.com/auth/devstorage.read_write"
	defaultAPIBase = "https://storage.googleapis.com"
	requestTimeout = 30 * time.Second
	pingTimeout    = 5 * time.Second
	errorBodyLimit = 2048
)

var errNotInitialized = errors.New("gcs client not initialized")

// Client uploads attachment objects through the JSON API. Requests are
// authorized by an oauth2 transport, so tokens refresh on their own.
type Client struct {
	httpClient *http.Client
	bucket     string
	publicBase string
	apiBase    string
}

// Object describes a stored object.
type Object struct {
	Bucket      string
	Name        string
	ContentType string
	Size        int64
	URL         string
}

// NewClient resolves credentials (inline JSON, then a key file, then
// application default credentials) and checks the bucket is reachable.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	base := &http.Client{Timeout: requestTimeout}
	authCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	ts, source, err := tokenSource(authCtx, gcp)
	if err != nil {
		return nil, err
	}

	client := newClient(oauth2.NewClient(authCtx, ts), cfg.BucketName, cfg.PublicBaseURL)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"bucket":      cfg.BucketName,
			"credentials": source,
		}), "gcs client initialized")
	}
	return client, nil
}

func newClient(httpClient *http.Client, bucket, publicBase string) *Client {
	return &Client{
		httpClient: httpClient,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		apiBase:    defaultAPIBase,
	}
}

func tokenSource(ctx context.Context, gcp config.GCPConfig) (oauth2.TokenSource, string, error) {
	var raw []byte
	source := "inline"
	switch {
	case gcp.CredentialsJSON != "":
		raw = []byte(gcp.CredentialsJSON)
	case gcp.ApplicationCredentials != "":
		b, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, "", fmt.Errorf("reading credentials file: %w", err)
		}
		raw, source = b, "file"
	default:
		ts, err := google.DefaultTokenSource(ctx, readWriteScope)
		if err != nil {
			return nil, "", fmt.Errorf("default gcp credentials: %w", err)
		}
		return ts, "default", nil
	}

	jwtCfg, err := google.JWTConfigFromJSON(raw, readWriteScope)
	if err != nil {
		return nil, "", fmt.Errorf("parsing service account credentials: %w", err)
	}
	return jwtCfg.TokenSource(ctx), source, nil
}

func (c *Client) DefaultBucket() string {
	if c == nil {
		return ""
	}
	return c.bucket
}

// PublicURL returns the stable, unsigned URL of an object.
func (c *Client) PublicURL(bucket, object string) string {
	base := c.publicBase
	if base == "" {
		base = defaultAPIBase
	}
	if bucket == "" {
		bucket = c.bucket
	}
	return fmt.Sprintf("%s/%s/%s", base, url.PathEscape(bucket), escapeObjectPath(object))
}

// Ping lists at most one object, which needs storage.objects.list on the bucket.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.httpClient == nil {
		return errNotInitialized
	}
	if c.bucket == "" {
		return errors.New("gcs bucket not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, c.endpoint("/storage/v1/b/%s/o", c.bucket, url.Values{"maxResults": {"1"}}), "", nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return statusError("gcs object check failed", resp)
	}
	return nil
}

// Upload streams body into bucket/object with a single media upload request.
// An empty bucket means the configured one.
func (c *Client) Upload(ctx context.Context, bucket, object, contentType string, body io.Reader) (*Object, error) {
	if c == nil || c.httpClient == nil {
		return nil, errNotInitialized
	}
	if bucket == "" {
		bucket = c.bucket
	}
	if bucket == "" || object == "" {
		return nil, errors.New("bucket and object are required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	query := url.Values{"uploadType": {"media"}, "name": {object}}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint("/upload/storage/v1/b/%s/o", bucket, query), contentType, body)
	if err != nil {
		return nil, fmt.Errorf("gcs upload: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, statusError("gcs upload failed", resp)
	}

	var meta struct {
		Bucket      string `json:"bucket"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        string `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode gcs upload response: %w", err)
	}
	obj := &Object{Bucket: bucket, Name: object, ContentType: meta.ContentType}
	if meta.Bucket != "" {
		obj.Bucket = meta.Bucket
	}
	if meta.Name != "" {
		obj.Name = meta.Name
	}
	// the JSON API encodes uint64 sizes as strings
	obj.Size, _ = strconv.ParseInt(meta.Size, 10, 64)
	obj.URL = c.PublicURL(obj.Bucket, obj.Name)
	return obj, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.httpClient.Do(req)
}

func (c *Client) endpoint(pathFormat, bucket string, query url.Values) string {
	base := strings.TrimRight(c.apiBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	u := base + fmt.Sprintf(pathFormat, url.PathEscape(bucket))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
	_ = resp.Body.Close()
}

func statusError(prefix string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if msg := strings.TrimSpace(string(b)); msg != "" {
		return fmt.Errorf("%s: %s: %s", prefix, resp.Status, msg)
	}
	return fmt.Errorf("%s: %s", prefix, resp.Status)
}

func escapeObjectPath(object string) string {
	parts := strings.Split(object, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
