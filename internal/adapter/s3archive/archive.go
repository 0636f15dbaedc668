// Package s3archive writes search events to an S3-compatible bucket.
package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"weatherdash/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// Config describes the bucket and how to reach it. Endpoint is host:port of
// a MinIO-style server; leave it empty for AWS.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Archive implements domain.SearchArchive.
type Archive struct {
	uploader uploader
	bucket   string
}

var _ domain.SearchArchive = (*Archive)(nil)

// New builds the S3 client and makes sure the bucket exists.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			scheme := "http"
			if cfg.UseSSL {
				scheme = "https"
			}
			o.BaseEndpoint = aws.String(scheme + "://" + cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region, log); err != nil {
		return nil, err
	}
	return &Archive{uploader: manager.NewUploader(client), bucket: cfg.Bucket}, nil
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket, region string, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	log.Info("creating archive bucket", zap.String("bucket", bucket))
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if region != "" && region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := client.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	waiter := s3.NewBucketExistsWaiter(client)
	if err := waiter.Wait(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}, 20*time.Second); err != nil {
		return fmt.Errorf("wait for bucket %q: %w", bucket, err)
	}
	return nil
}

// ObjectKey is where an event is stored:
// searches/<userID>/<createdAt unix>-<recordID>.json
func ObjectKey(ev domain.SearchEvent) string {
	return fmt.Sprintf("searches/%d/%d-%s.json", ev.UserID, ev.CreatedAt.Unix(), ev.RecordID)
}

// Archive uploads ev as a JSON object.
func (a *Archive) Archive(ctx context.Context, ev domain.SearchEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode search event: %w", err)
	}
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ObjectKey(ev)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", ObjectKey(ev), err)
	}
	return nil
}
