// Package s3 keeps registrations as JSON objects in an S3 bucket or an
// S3-compatible service such as MinIO.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openctemio/webhooks/internal/config"
	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/logger"
)

// Client is a bucket handle with the key prefix applied to every object.
type Client struct {
	api    *awss3.Client
	bucket string
	prefix string
	logger *logger.Logger
}

// New builds a client from cfg. Static keys take precedence over the
// default credential chain; a custom endpoint switches to path-style
// addressing, which MinIO requires.
func New(ctx context.Context, cfg *config.S3Config, log *logger.Logger, optFns ...func(*awss3.Options)) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	s3Opts = append(s3Opts, optFns...)

	log.Info("s3 client configured", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return &Client{
		api:    awss3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: log,
	}, nil
}

// Ping checks that the bucket exists and is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return wrapError("head bucket", err)
	}
	return nil
}

// Key joins parts under the configured prefix.
func (c *Client) Key(parts ...string) string {
	if c.prefix == "" {
		return strings.Join(parts, "/")
	}
	return c.prefix + "/" + strings.Join(parts, "/")
}

// statusOf returns the HTTP status of a service error, or 0 when the request
// never got a response.
func statusOf(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func isNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// isConflict covers a failed precondition and a concurrent conditional
// write to the same key, which S3 reports as 409.
func isConflict(err error) bool {
	switch statusOf(err) {
	case http.StatusPreconditionFailed, http.StatusConflict:
		return true
	}
	return false
}

// wrapError classifies an S3 error for the store contract.
func wrapError(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &netErr), statusOf(err) >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s: %w", shared.ErrStoreUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", shared.ErrStorage, op, err)
	}
}
