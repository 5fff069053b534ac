package storage

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// S3Provider implements the Provider API for AWS S3 and S3-compatible object stores.
//
// Object stores have no directories: MkdirAll is a no-op and a write never fails for a missing parent.
type S3Provider struct {
	*baseProvider

	s3Client *s3.Client
	s3Bucket string
}

// NewS3Provider creates a provider for the given bucket. A non-empty endpoint overrides the AWS
// endpoint, e.g. for MinIO, and switches to path-style addressing with checksums only where required.
func NewS3Provider(endpoint string, bucket string, logger *zap.Logger) *S3Provider {
	return &S3Provider{
		baseProvider: newBaseProvider(endpoint, logger),
		s3Bucket:     bucket,
	}
}

func (p *S3Provider) Name() string {
	return S3
}

func (p *S3Provider) Close() error {
	p.status = Disconnected
	return nil
}

func (p *S3Provider) Connect(ctx context.Context) error {
	p.logger.Debug("Connecting to remote storage",
		zap.String("remote_storage", "AWS S3"),
		zap.String("hostname", p.hostname),
		zap.String("bucket", p.s3Bucket))

	p.status = Connecting

	sdkConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		p.logger.Error("Failed to load AWS SDK config", zap.Error(err))
		p.status = Disconnected
		return err
	}

	p.s3Client = s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if p.hostname != "" {
			endpoint := p.hostname
			if !strings.Contains(endpoint, "://") {
				endpoint = "http://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	p.status = Connected

	p.logger.Debug("Successfully connected to remote storage",
		zap.String("remote_storage", "AWS S3"),
		zap.String("hostname", p.hostname))

	return nil
}

func objectKey(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func (p *S3Provider) MkdirAll(_ context.Context, _ string) error {
	return p.checkConnected()
}

func (p *S3Provider) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := p.checkConnected(); err != nil {
		return err
	}

	key := objectKey(name)
	_, err := p.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.s3Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		p.logger.Error("Error while writing object to S3.",
			zap.String("key", key), zap.String("bucket", p.s3Bucket), zap.Error(err))
		return errors.Wrapf(err, "failed to write object \"%s\" to bucket \"%s\"", key, p.s3Bucket)
	}

	p.logger.Debug("Successfully wrote object.",
		zap.String("key", key), zap.String("bucket", p.s3Bucket), zap.Int("num_bytes", len(data)))

	return nil
}

func (p *S3Provider) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := p.checkConnected(); err != nil {
		return nil, err
	}

	key := objectKey(name)
	output, err := p.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.s3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, errors.Wrapf(ErrNotExist, "object \"%s\" in bucket \"%s\"", key, p.s3Bucket)
		}

		return nil, errors.Wrapf(err, "failed to read object \"%s\" from bucket \"%s\"", key, p.s3Bucket)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read body of object \"%s\"", key)
	}

	return data, nil
}

func (p *S3Provider) ListDir(ctx context.Context, dir string) ([]string, error) {
	if err := p.checkConnected(); err != nil {
		return nil, err
	}

	prefix := objectKey(dir)
	if prefix != "" {
		prefix += "/"
	}

	var names []string
	paginator := s3.NewListObjectsV2Paginator(p.s3Client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.s3Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list prefix \"%s\" of bucket \"%s\"", prefix, p.s3Bucket)
		}

		for _, object := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(object.Key), prefix))
		}
	}
	sort.Strings(names)

	return names, nil
}
