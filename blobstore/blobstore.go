// Package blobstore implements parsepipe.BlobStore against an
// S3-compatible object store (MinIO or AWS S3) using aws-sdk-go-v2.
// Uploads go through feature/s3/manager's Uploader so large artifacts
// stream in parts instead of buffering whole in memory.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	parsepipe "github.com/quillhq/parsepipe"
)

// Store implements parsepipe.BlobStore over an S3-compatible endpoint.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
}

// Config configures Store's connection to the object store.
type Config struct {
	Endpoint  string // S3_ENDPOINT
	AccessKey string // S3_ACCESS_KEY
	SecretKey string // S3_SECRET_KEY
	UseSSL    bool   // S3_USE_SSL
	Region    string // defaults to "us-east-1" if empty, required by the SDK even for path-style MinIO
}

// New builds a Store from Config, using static credentials and path-style
// addressing (required for MinIO-style endpoints).
func New(ctx context.Context, cfg Config) (*Store, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// Download streams the object's content. Callers must close the returned
// ReadCloser.
func (s *Store) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &parsepipe.ErrBlobStoreUnavailable{Op: "download " + key, Err: err}
	}
	return out.Body, nil
}

// Upload writes size bytes read from body to bucket/key via the multipart
// Uploader.
func (s *Store) Upload(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return &parsepipe.ErrBlobStoreUnavailable{Op: "upload " + key, Err: err}
	}
	return nil
}

// Delete removes an object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &parsepipe.ErrBlobStoreUnavailable{Op: "delete " + key, Err: err}
	}
	return nil
}

// List returns every object under prefix, paginating through the full
// result set via ListObjectsV2's continuation token.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]parsepipe.SourceObject, error) {
	var objects []parsepipe.SourceObject
	var token *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &parsepipe.ErrBlobStoreUnavailable{Op: "list " + prefix, Err: err}
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue // directory marker, not a source file
			}
			objects = append(objects, parsepipe.SourceObject{
				Bucket:       bucket,
				ObjectKey:    key,
				OriginalName: path.Base(key),
				Size:         aws.ToInt64(obj.Size),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return objects, nil
}

var _ parsepipe.BlobStore = (*Store)(nil)
