package storage

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/teranos/smartcache/am"
	"github.com/teranos/smartcache/errors"
	"github.com/teranos/smartcache/logger"
)

// S3Fetcher streams objects from an S3-compatible store
type S3Fetcher struct {
	client *s3.Client
	log    *zap.SugaredLogger
}

// NewS3Fetcher builds a fetcher from storage configuration. A custom
// endpoint switches the client to path-style addressing for
// S3-compatible stores like MinIO.
func NewS3Fetcher(cfg am.Storage) (*S3Fetcher, error) {
	var optFns []func(*awsconfig.LoadOptions) error

	if cfg.S3Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Fetcher{
		client: client,
		log:    logger.Named("storage.s3"),
	}, nil
}

// Open streams the object behind an s3://bucket/key pointer
func (f *S3Fetcher) Open(ctx context.Context, pointer string) (io.ReadCloser, int64, error) {
	bucket, key, err := splitS3Pointer(pointer)
	if err != nil {
		return nil, 0, err
	}

	result, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to get s3 object %s/%s", bucket, key)
	}

	size := int64(-1)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}

	f.log.Debugw("opened s3 object", "bucket", bucket, "key", key, "size", size)
	return result.Body, size, nil
}

func splitS3Pointer(pointer string) (bucket, key string, err error) {
	u, err := url.Parse(pointer)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid s3 pointer %q", pointer)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.Newf("invalid s3 pointer %q", pointer)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", errors.Newf("s3 pointer %q has no object key", pointer)
	}
	return u.Host, key, nil
}
