// Package gcs keeps the progress snapshot in a Google Cloud Storage object so
// crawls running on ephemeral hosts can resume elsewhere.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	appstore "github.com/JakeFAU/sitetree-crawler/internal/store"
)

// Config captures the parameters required to locate the snapshot object.
type Config struct {
	Bucket string
	Object string
}

// ObjectProvider reads and writes the snapshot as one GCS object.
type ObjectProvider struct {
	client *storage.Client
	bucket string
	object string
	logger *zap.Logger
	owned  bool
}

// Dial creates a client and verifies the bucket is reachable, failing fast on
// misconfiguration. Authentication uses Application Default Credentials
// unless opts override it.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*ObjectProvider, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil && logger != nil {
			logger.Warn("Failed to close GCS client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	p, err := New(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*ObjectProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObjectProvider{client: client, bucket: cfg.Bucket, object: cfg.Object, logger: logger}, nil
}

// Load downloads the snapshot object.
func (p *ObjectProvider) Load(ctx context.Context) ([]byte, error) {
	r, err := p.client.Bucket(p.bucket).Object(p.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, appstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot object: %w", err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			p.logger.Warn("Failed to close GCS reader", zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot object: %w", err)
	}
	return data, nil
}

// Save uploads data, replacing the object in a single finalize step.
func (p *ObjectProvider) Save(ctx context.Context, data []byte) error {
	writer := p.client.Bucket(p.bucket).Object(p.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write snapshot object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write snapshot object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Location returns the gs:// URI of the snapshot.
func (p *ObjectProvider) Location() string {
	return fmt.Sprintf("gs://%s/%s", p.bucket, p.object)
}

// Close releases the client when Dial created it.
func (p *ObjectProvider) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
