package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Backend stores objects in an S3-compatible bucket. Path-style addressing
// and a custom endpoint keep it working against MinIO and friends.
type S3Backend struct {
	client *s3.S3
	bucket string
}

type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewS3Backend(opts S3Options) (*S3Backend, error) {
	cfg := &aws.Config{
		Region:           aws.String(opts.Region),
		DisableSSL:       aws.Bool(!opts.UseSSL),
		S3ForcePathStyle: aws.Bool(true),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.AccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	return &S3Backend{client: s3.New(sess), bucket: opts.Bucket}, nil
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if !ValidKey(key) {
		return permanent(fmt.Errorf("invalid key %q", key))
	}
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return classifyS3Err(err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if !ValidKey(key) {
		return nil, permanent(fmt.Errorf("invalid key %q", key))
	}
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Err(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, transient(err)
	}
	return data, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return permanent(fmt.Errorf("invalid key %q", key))
	}
	// DeleteObject on a missing key succeeds, which matches the idempotent
	// delete contract.
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Err(err)
	}
	return nil
}

func (b *S3Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	if !ValidKey(srcKey) || !ValidKey(dstKey) {
		return permanent(fmt.Errorf("invalid key %q -> %q", srcKey, dstKey))
	}
	_, err := b.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return classifyS3Err(err)
	}
	return nil
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, classifyS3Err(err)
	}
	return keys, nil
}

func classifyS3Err(err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%s: %w", aerr.Code(), ErrNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			s3.ErrCodeNoSuchBucket, "QuotaExceeded", "EntityTooLarge":
			return permanent(err)
		}
	}
	return transient(err)
}
