// Package storage publishes recordings to S3-compatible object storage and
// hands back time-limited signed URLs the speech service can fetch.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
)

const schemeHTTPS = "https"

// ErrEmptyKey indicates an upload without a destination key.
var ErrEmptyKey = errors.New("destination key cannot be empty")

// SignedUploader uploads byte buffers and returns HTTPS signed GET URLs.
type SignedUploader struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
	configErr error
	log       *logger.Logger
}

// NewSignedUploader builds the storage client from cfg. Missing credentials
// are not an error here; they are reported by every Upload call instead, so
// the rest of the service can start without storage configured.
func NewSignedUploader(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (*SignedUploader, error) {
	uploader := &SignedUploader{
		client:    nil,
		presigner: nil,
		bucket:    cfg.Bucket,
		ttl:       cfg.SignedURLTTL(),
		configErr: cfg.Validate(),
		log:       log,
	}

	if uploader.configErr != nil {
		log.Warn("Object storage disabled: %v", uploader.configErr)

		return uploader, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage configuration: %w", err)
	}

	endpoint := cfg.EndpointURL()
	usePathStyle := cfg.UsePathStyle

	uploader.client = s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		options.BaseEndpoint = aws.String(endpoint)
		options.UsePathStyle = usePathStyle
	})
	uploader.presigner = s3.NewPresignClient(uploader.client)

	return uploader, nil
}

// Upload stores data under key and returns a signed HTTPS URL for it.
func (u *SignedUploader) Upload(ctx context.Context, data []byte, key string) (string, error) {
	if u.configErr != nil {
		return "", u.configErr
	}

	if key == "" {
		return "", ErrEmptyKey
	}

	u.log.Info("Uploading %d bytes to '%s'", len(data), key)

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %d bytes to '%s': %w", len(data), key, err)
	}

	signed, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to sign url for '%s' (%d bytes): %w", key, len(data), err)
	}

	return forceHTTPS(signed.URL)
}

func forceHTTPS(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse signed url: %w", err)
	}

	parsed.Scheme = schemeHTTPS

	return parsed.String(), nil
}
