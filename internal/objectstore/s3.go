package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

var errMissingBucket = errors.New("objectstore: bucket is required")

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes the buckets and credentials. AccessKeyID may be empty to use
// the default AWS credential chain.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	PDFBucket       string
	AudioBucket     string
	PublicBaseURL   string
	Logger          *zap.Logger
}

// S3Uploader writes PDFs and audio to their own buckets.
type S3Uploader struct {
	client        PutObjectAPI
	pdfBucket     string
	audioBucket   string
	publicBaseURL string
	logger        *zap.Logger
}

// NewS3Uploader loads AWS configuration and builds the S3 client.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3UploaderWithClient(client, cfg)
}

// NewS3UploaderWithClient wires an existing client.
func NewS3UploaderWithClient(client PutObjectAPI, cfg S3Config) (*S3Uploader, error) {
	if strings.TrimSpace(cfg.PDFBucket) == "" || strings.TrimSpace(cfg.AudioBucket) == "" {
		return nil, errMissingBucket
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Uploader{
		client:        client,
		pdfBucket:     cfg.PDFBucket,
		audioBucket:   cfg.AudioBucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Upload puts the object into the bucket for its kind.
func (u *S3Uploader) Upload(ctx context.Context, data []byte, name string, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyObject
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	bucket := u.bucketFor(name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		u.logger.Error("s3 upload failed",
			zap.String("bucket", bucket),
			zap.String("key", name),
			zap.Error(err))
		return "", fmt.Errorf("objectstore: put %s/%s: %w", bucket, name, err)
	}
	url := u.publicURL(bucket, name)
	u.logger.Info("s3 upload complete", zap.String("url", url), zap.Int("bytes", len(data)))
	return url, nil
}

func (u *S3Uploader) bucketFor(name string) string {
	if KindOf(name) == KindAudio {
		return u.audioBucket
	}
	return u.pdfBucket
}

func (u *S3Uploader) publicURL(bucket, key string) string {
	if u.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", u.publicBaseURL, bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
}
