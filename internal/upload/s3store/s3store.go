// Package s3store uploads attachments to an S3-compatible bucket.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/apperr"
	"github.com/parleyhq/parley/internal/upload"
)

// Store uploads blobs as uuid-keyed objects in one bucket. Objects are
// grouped under a resource-type prefix so the bucket stays browsable.
type Store struct {
	client  *s3.Client
	bucket  string
	region  string
	baseURL string
}

// Options configure the bucket and how public URLs are built. BaseURL
// overrides the standard bucket endpoint, for CDN or path-style
// deployments.
type Options struct {
	Bucket  string
	Region  string
	BaseURL string
}

// Open loads the ambient AWS credentials and verifies nothing; the
// first PutObject surfaces configuration problems.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 uploads: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("s3 uploads: load AWS config: %w", err)
	}
	return &Store{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  opts.Bucket,
		region:  opts.Region,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}, nil
}

func (s *Store) Upload(ctx context.Context, blob upload.Blob) (upload.Result, error) {
	resourceType := upload.ResourceTypeOf(blob.MIMEType)
	key := path.Join(resourceType, uuid.New().String()+path.Ext(blob.Name))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(blob.Data),
		ContentLength: aws.Int64(int64(len(blob.Data))),
		ContentType:   &blob.MIMEType,
	})
	if err != nil {
		return upload.Result{}, apperr.Upload(fmt.Sprintf("put %s/%s", s.bucket, key), err)
	}

	return upload.Result{
		URL:          s.objectURL(key),
		PublicID:     key,
		ResourceType: resourceType,
	}, nil
}

func (s *Store) objectURL(key string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
