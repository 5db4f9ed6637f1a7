package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

// ObjectPutter is the subset of the MinIO client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// UploaderConfig configures the S3-compatible object store.
type UploaderConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Uploader stores rendered submissions in a bucket.
type Uploader struct {
	client ObjectPutter
	bucket string
}

// NewUploader connects to the object store and creates the bucket if needed.
func NewUploader(ctx context.Context, cfg UploaderConfig) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Printf("export: created bucket %s", cfg.Bucket)
	}
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// NewUploaderWithClient wraps an existing client.
func NewUploaderWithClient(client ObjectPutter, bucket string) *Uploader {
	return &Uploader{client: client, bucket: bucket}
}

// ObjectKey is where a submission's text copy lives in the bucket.
func ObjectKey(clinic, submissionID string) string {
	return clinic + "/" + submissionID + ".txt"
}

// Upload writes the text rendering of sub and returns its object key.
func (u *Uploader) Upload(ctx context.Context, clinic string, sub intake.Submission) (string, error) {
	if u == nil {
		return "", ErrUploadDisabled
	}
	body := []byte(Render(sub))
	key := ObjectKey(clinic, sub.ID)
	_, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}
