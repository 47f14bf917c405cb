// Package archive keeps a copy of every fetched source page so a run can be
// re-extracted later.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"newsdigest/internal/config"
)

type Archiver interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Enabled reports whether Put stores anything.
	Enabled() bool
}

// Nop discards snapshots. Used when no bucket is configured.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte, string) error { return nil }
func (Nop) Enabled() bool                                      { return false }

type S3 struct {
	client *s3.Client
	bucket string
}

// New returns Nop when cfg has no bucket, otherwise an S3 archiver using the
// default AWS credential chain.
func New(ctx context.Context, cfg config.ArchiveConfig) (Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return Nop{}, nil
	}
	return NewS3(ctx, cfg)
}

func NewS3(ctx context.Context, cfg config.ArchiveConfig) (*S3, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: c, bucket: cfg.Bucket}, nil
}

func (s *S3) Enabled() bool { return true }

func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// SnapshotKey lays snapshots out by UTC day: <prefix>/YYYY/MM/DD/<runID>.html
func SnapshotKey(prefix string, t time.Time, runID string) string {
	t = t.UTC()
	return path.Join(strings.Trim(prefix, "/"), t.Format("2006"), t.Format("01"), t.Format("02"), runID+".html")
}
