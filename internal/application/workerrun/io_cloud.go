package workerrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Object splits a uri of the form s3://bucket/key.
func s3Object(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == uri {
		return "", "", fmt.Errorf("cloud storage: uri %q is not an s3:// reference", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("cloud storage: uri %q has no object key", uri)
	}
	return parts[0], parts[1], nil
}

// downloadToTemp fetches an S3-compatible object to a local temp file and
// returns its path, so the remainder of a reader plan can reuse the same
// format-specific readers as local-disk sources.
func downloadToTemp(ctx context.Context, uri string) (string, error) {
	bucket, key, err := s3Object(uri)
	if err != nil {
		return "", err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("cloud storage: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	tmp, err := os.CreateTemp("", "flowfile-cloud-*"+filepath.Ext(key))
	if err != nil {
		return "", fmt.Errorf("cloud storage: %w", err)
	}
	defer tmp.Close()

	downloader := manager.NewDownloader(client)
	if _, err := downloader.Download(ctx, tmp, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return "", fmt.Errorf("cloud storage: download %s: %w", uri, err)
	}
	return tmp.Name(), nil
}

// uploadFromLocal pushes a local file to the given S3-compatible uri.
func uploadFromLocal(ctx context.Context, uri, localPath string) error {
	bucket, key, err := s3Object(uri)
	if err != nil {
		return err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("cloud storage: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("cloud storage: %w", err)
	}
	defer f.Close()

	uploader := manager.NewUploader(client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key), Body: f})
	if err != nil {
		return fmt.Errorf("cloud storage: upload %s: %w", uri, err)
	}
	return nil
}
