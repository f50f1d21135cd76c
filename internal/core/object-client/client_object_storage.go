package objectclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	cfg "github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/pkg/logger"
	"github.com/markdave123-py/textbook-index/pkg/retry"
)

var _ core.ObjectClient = (*S3Client)(nil)

// s3API is the part of the S3 client used outside uploads.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Client struct {
	api      s3API
	uploader *manager.Uploader
	region   string
	endpoint string
	policy   retry.Policy
}

// NewS3Client connects to AWS S3 or, when AWS_ENDPOINT is set, to any S3
// compatible store using path-style addressing. Without static keys the
// default credential chain is used.
func NewS3Client(ctx context.Context, cfg *cfg.Config) (*S3Client, error) {
	if cfg.AwsRegion == "" {
		return nil, fmt.Errorf("AWS_REGION not set")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AwsRegion)}
	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AwsEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AwsEndpoint)
			o.UsePathStyle = true
		}
	})
	logger.Info(ctx, "object storage client ready", "region", cfg.AwsRegion, "endpoint", cfg.AwsEndpoint)

	return &S3Client{
		api:      client,
		uploader: manager.NewUploader(client),
		region:   cfg.AwsRegion,
		endpoint: strings.TrimRight(cfg.AwsEndpoint, "/"),
		policy:   retry.Default(),
	}, nil
}

// ListObjects returns every object under prefix, skipping folder markers.
func (c *S3Client) ListObjects(ctx context.Context, bucket, prefix string) ([]models.ObjectInfo, error) {
	var out []models.ObjectInfo
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		out = out[:0]
		p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return classify(err)
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if key == "" || strings.HasSuffix(key, "/") {
					continue
				}
				out = append(out, models.ObjectInfo{
					Key:          key,
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3 list %s/%s failed: %w", bucket, prefix, err)
	}
	return out, nil
}

// UploadFile uploads a file and returns its URL.
func (c *S3Client) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	err := c.policy.Do(ctxUpload, func(ctx context.Context) error {
		_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return c.objectURL(bucket, key), nil
}

func (c *S3Client) DeleteFile(ctx context.Context, bucket, key string) error {
	ctxDel, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := c.policy.Do(ctxDel, func(ctx context.Context) error {
		_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

func (c *S3Client) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var body []byte
	err := c.policy.Do(ctxGet, func(ctx context.Context) error {
		resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classify(err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s failed: %w", bucket, key, err)
	}
	return body, nil
}

func (c *S3Client) objectURL(bucket, key string) string {
	if c.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", c.endpoint, url.PathEscape(bucket), key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, c.region, key)
}

// classify marks errors that will not change on retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
	)
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return retry.Permanent(err)
	}
	return err
}
