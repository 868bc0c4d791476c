// Package storage archives persisted articles to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	markdownObject = "article.md"
	metadataObject = "metadata.json"
)

// Config holds S3/MinIO client configuration.
type Config struct {
	Endpoint        string // "localhost:9000" for MinIO
	Bucket          string // "estate-pulse"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Client wraps the MinIO/S3 client for archive operations.
type Client struct {
	minioClient *minio.Client
	bucket      string
}

// New creates a new S3/MinIO client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		minioClient: minioClient,
		bucket:      config.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	err = c.minioClient.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ArticleMetadata describes one archived article.
type ArticleMetadata struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ContentHash string     `json:"content_hash"`
	ArchivedAt  time.Time  `json:"archived_at"`
}

// DayPrefix returns the prefix holding every article archived on day.
func DayPrefix(day time.Time) string {
	return path.Join("articles", day.UTC().Format("2006/01/02"))
}

// Prefix returns the object prefix for an article archived on day:
// articles/<yyyy>/<mm>/<dd>/<id>.
func Prefix(day time.Time, articleID string) string {
	return path.Join(DayPrefix(day), articleID)
}

// PutMarkdown writes the rendered article under prefix.
func (c *Client) PutMarkdown(ctx context.Context, prefix, content string) error {
	if err := c.put(ctx, path.Join(prefix, markdownObject), "text/markdown", []byte(content)); err != nil {
		return fmt.Errorf("failed to put markdown: %w", err)
	}
	return nil
}

// PutMetadata writes the article metadata JSON under prefix.
func (c *Client) PutMetadata(ctx context.Context, prefix string, meta ArticleMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := c.put(ctx, path.Join(prefix, metadataObject), "application/json", data); err != nil {
		return fmt.Errorf("failed to put metadata: %w", err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, objectName, contentType string, data []byte) error {
	_, err := c.minioClient.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// ListArchived returns the article prefixes archived under prefix, e.g.
// DayPrefix for one day. Prefixes come back in key order.
func (c *Client) ListArchived(ctx context.Context, prefix string) ([]string, error) {
	var prefixes []string

	objectCh := c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    strings.TrimSuffix(prefix, "/") + "/",
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		if path.Base(object.Key) == metadataObject {
			prefixes = append(prefixes, path.Dir(object.Key))
		}
	}

	return prefixes, nil
}

// GetMarkdown reads the rendered article under prefix.
func (c *Client) GetMarkdown(ctx context.Context, prefix string) (string, error) {
	data, err := c.get(ctx, path.Join(prefix, markdownObject))
	if err != nil {
		return "", fmt.Errorf("failed to get markdown: %w", err)
	}
	return string(data), nil
}

// GetMetadata reads the article metadata under prefix.
func (c *Client) GetMetadata(ctx context.Context, prefix string) (*ArticleMetadata, error) {
	data, err := c.get(ctx, path.Join(prefix, metadataObject))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	var meta ArticleMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &meta, nil
}

func (c *Client) get(ctx context.Context, objectName string) ([]byte, error) {
	object, err := c.minioClient.GetObject(ctx, c.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()

	return io.ReadAll(object)
}

