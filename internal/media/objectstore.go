package media

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"hyperyapper/internal/config"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
)

// ObjectStore hosts images on Cloudflare R2 via its S3-compatible API. The
// Threads graph API only accepts publicly reachable image URLs, so an image
// is staged here for the duration of the post and deleted afterwards.
type ObjectStore struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewObjectStore builds an R2-backed object store from config. Returns nil
// when R2 is not configured; callers treat a nil store as "image posting to
// Threads unavailable".
func NewObjectStore(cfg *config.Config) *ObjectStore {
	if cfg.R2AccountID == "" || cfg.R2AccessKeyID == "" || cfg.R2SecretAccessKey == "" || cfg.R2Bucket == "" {
		logging.Warn("R2 object store not configured; Threads image posting disabled")
		return nil
	}

	client := s3.New(s3.Options{
		Region:       "auto",
		BaseEndpoint: aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID)),
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.R2AccessKeyID, cfg.R2SecretAccessKey, ""),
	})

	return &ObjectStore{
		client:    client,
		bucket:    cfg.R2Bucket,
		publicURL: strings.TrimRight(cfg.R2PublicURL, "/"),
	}
}

// Upload stores the image under a random key and returns its public URL
// together with the key needed to delete it later.
func (os *ObjectStore) Upload(ctx context.Context, image models.ImageUpload) (publicURL, key string, err error) {
	ext := path.Ext(image.Filename)
	if ext == "" {
		ext = ".jpg"
	}
	key = uuid.NewString() + ext

	_, err = os.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(os.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(image.Data),
		ContentType:   aws.String(image.ContentType),
		ContentLength: aws.Int64(int64(len(image.Data))),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload image to object store: %w", err)
	}

	publicURL = fmt.Sprintf("%s/%s", os.publicURL, key)
	logging.Info("Uploaded image to object store: %s", publicURL)
	return publicURL, key, nil
}

// Delete removes a previously uploaded image.
func (os *ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := os.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(os.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete image %s from object store: %w", key, err)
	}
	logging.Info("Deleted image %s from object store", key)
	return nil
}
