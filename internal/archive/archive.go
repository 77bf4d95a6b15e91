// Package archive stores rendered contract PDFs in S3-compatible storage and
// hands out pre-signed download links. With no bucket configured the
// NoopUploader is used and the console serves PDFs directly.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/bidkit/internal/config"
)

// ErrNotConfigured is returned when no archive bucket is configured.
var ErrNotConfigured = errors.New("contract archive not configured")

const pdfContentType = "application/pdf"

// Uploader archives contract PDFs.
type Uploader interface {
	// Upload stores the PDF for one contract version.
	Upload(ctx context.Context, proposalID string, version int, pdf []byte) error

	// PresignedURL returns a download URL for one contract version.
	// Returns ErrNotConfigured when no bucket is configured.
	PresignedURL(ctx context.Context, proposalID string, version int) (url string, expiry time.Time, err error)
}

// objectStore is the part of *minio.Client the S3Uploader calls.
type objectStore interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error)
}

type minioStore struct {
	client *minio.Client
}

func (m *minioStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (m *minioStore) PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error) {
	params := url.Values{}
	params.Set("response-content-type", pdfContentType)
	return m.client.PresignedGetObject(ctx, bucket, key, expiry, params)
}

// S3Uploader archives to an S3 bucket.
type S3Uploader struct {
	store     objectStore
	bucket    string
	urlExpiry time.Duration
	now       func() time.Time
}

// Upload writes the PDF under the version's key.
func (u *S3Uploader) Upload(ctx context.Context, proposalID string, version int, pdf []byte) error {
	if err := u.store.PutObject(ctx, u.bucket, ObjectKey(proposalID, version), pdf, pdfContentType); err != nil {
		return fmt.Errorf("archive contract: %w", err)
	}
	return nil
}

// PresignedURL returns a pre-signed GET URL for the version's PDF.
func (u *S3Uploader) PresignedURL(ctx context.Context, proposalID string, version int) (string, time.Time, error) {
	signed, err := u.store.PresignedGetObject(ctx, u.bucket, ObjectKey(proposalID, version), u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return signed.String(), u.now().Add(u.urlExpiry), nil
}

// NoopUploader discards uploads.
type NoopUploader struct{}

// Upload does nothing.
func (NoopUploader) Upload(ctx context.Context, proposalID string, version int, pdf []byte) error {
	return nil
}

// PresignedURL always returns ErrNotConfigured.
func (NoopUploader) PresignedURL(ctx context.Context, proposalID string, version int) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader returns a NoopUploader when the bucket is empty and an
// S3Uploader otherwise.
func NewUploader(cfg config.ArchiveConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}
	return &S3Uploader{
		store:     &minioStore{client: client},
		bucket:    cfg.Bucket,
		urlExpiry: cfg.URLExpiry.Std(),
		now:       time.Now,
	}, nil
}

// ObjectKey is contracts/{proposal_id}/v{version}.pdf.
func ObjectKey(proposalID string, version int) string {
	return "contracts/" + proposalID + "/v" + strconv.Itoa(version) + ".pdf"
}
