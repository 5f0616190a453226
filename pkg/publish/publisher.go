// Package publish uploads packaged bundles to S3-compatible object storage.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/curator-health/curator/pkg/config"
	"github.com/curator-health/curator/pkg/engine"
)

// Format selects the bundle encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const defaultRegion = "us-east-1"

// objectStore is the subset of *minio.Client the publisher uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Location identifies an uploaded bundle.
type Location struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Key    string `json:"key" yaml:"key"`
	ETag   string `json:"etag,omitempty" yaml:"etag,omitempty"`
	Size   int64  `json:"size" yaml:"size"`
}

// Publisher writes bundles under bucket/prefix.
type Publisher struct {
	client objectStore
	bucket string
	prefix string
	region string
	logger zerolog.Logger

	initOnce sync.Once
	initErr  error
}

// NewPublisher creates a minio-backed publisher from cfg.
func NewPublisher(cfg config.PublishConfig, logger zerolog.Logger) (*Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("publish endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("publish bucket is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("publish access key and secret key are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return newPublisher(client, bucket, cfg.Prefix, region, logger), nil
}

func newPublisher(client objectStore, bucket, prefix, region string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		region: region,
		logger: logger.With().Str("component", "publisher").Str("bucket", bucket).Logger(),
	}
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish encodes bundle in format and uploads it. The object key is derived
// from the bundle root and fingerprint, so republishing an identical bundle
// overwrites the same object.
func (p *Publisher) Publish(ctx context.Context, bundle *engine.Bundle, format Format) (*Location, error) {
	if bundle == nil {
		return nil, fmt.Errorf("bundle is nil")
	}
	if bundle.Fingerprint == "" {
		return nil, fmt.Errorf("bundle has no fingerprint")
	}

	content, contentType, err := Encode(bundle, format)
	if err != nil {
		return nil, err
	}
	if err := p.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", p.bucket, err)
	}

	key := ObjectKey(p.prefix, bundle, format)
	info, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"operation-id": bundle.OperationID,
			"root":         bundle.Root.Canonical(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload bundle %s: %w", key, err)
	}

	p.logger.Info().
		Str("key", key).
		Str("root", bundle.Root.Canonical()).
		Int("entries", len(bundle.Entries)).
		Msg("Bundle published")

	return &Location{Bucket: p.bucket, Key: key, ETag: info.ETag, Size: int64(len(content))}, nil
}

// Encode renders bundle and returns the content type to store it under.
func Encode(bundle *engine.Bundle, format Format) ([]byte, string, error) {
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode bundle: %w", err)
		}
		return data, "application/json", nil
	case FormatYAML:
		data, err := yaml.Marshal(bundle)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode bundle: %w", err)
		}
		return data, "application/yaml", nil
	default:
		return nil, "", fmt.Errorf("unsupported bundle format %q", format)
	}
}

// ObjectKey builds prefix/host/path/version/fingerprint.ext for bundle.
func ObjectKey(prefix string, bundle *engine.Bundle, format Format) string {
	if format == "" {
		format = FormatJSON
	}
	version := bundle.Root.Version
	if version == "" {
		version = "unversioned"
	}
	parts := []string{}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, urlPath(bundle.Root.URL), version, bundle.Fingerprint+"."+string(format))
	return path.Join(parts...)
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.Trim(strings.ReplaceAll(raw, ":", "_"), "/")
	}
	return strings.Trim(path.Join(u.Host, u.Path), "/")
}
