package archive

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/hyperengineering/bidkit/internal/config"
)

type mockStore struct {
	bucket, key, contentType string
	data                     []byte
	expiry                   time.Duration
	err                      error
}

func (m *mockStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	m.bucket, m.key, m.data, m.contentType = bucket, key, data, contentType
	return m.err
}

func (m *mockStore) PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.bucket, m.key, m.expiry = bucket, key, expiry
	return url.Parse("https://s3.example.com/" + bucket + "/" + key + "?X-Amz-Signature=abc")
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("p-1", 3); got != "contracts/p-1/v3.pdf" {
		t.Errorf("ObjectKey() = %q", got)
	}
}

func TestNoopUploader(t *testing.T) {
	var u NoopUploader
	if err := u.Upload(context.Background(), "p", 1, []byte("%PDF-")); err != nil {
		t.Errorf("Upload() error = %v", err)
	}
	if _, _, err := u.PresignedURL(context.Background(), "p", 1); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("PresignedURL() error = %v, want ErrNotConfigured", err)
	}
}

func TestS3Uploader_Upload(t *testing.T) {
	store := &mockStore{}
	u := &S3Uploader{store: store, bucket: "contracts-bucket", urlExpiry: time.Minute, now: time.Now}

	if err := u.Upload(context.Background(), "p1", 2, []byte("%PDF-1.4")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if store.bucket != "contracts-bucket" || store.key != "contracts/p1/v2.pdf" || store.contentType != "application/pdf" {
		t.Errorf("put = %+v", store)
	}
	if string(store.data) != "%PDF-1.4" {
		t.Errorf("data = %q", store.data)
	}
}

func TestS3Uploader_UploadError(t *testing.T) {
	cause := errors.New("access denied")
	u := &S3Uploader{store: &mockStore{err: cause}, bucket: "b", now: time.Now}
	if err := u.Upload(context.Background(), "p1", 1, nil); !errors.Is(err, cause) {
		t.Errorf("Upload() error = %v, want wrapped cause", err)
	}
}

func TestS3Uploader_PresignedURL(t *testing.T) {
	store := &mockStore{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	u := &S3Uploader{store: store, bucket: "b", urlExpiry: 15 * time.Minute, now: func() time.Time { return now }}

	got, expiry, err := u.PresignedURL(context.Background(), "p1", 4)
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}
	if got != "https://s3.example.com/b/contracts/p1/v4.pdf?X-Amz-Signature=abc" {
		t.Errorf("url = %q", got)
	}
	if !expiry.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("expiry = %v", expiry)
	}
	if store.expiry != 15*time.Minute {
		t.Errorf("store expiry = %v", store.expiry)
	}
}

func TestNewUploader(t *testing.T) {
	u, err := NewUploader(config.ArchiveConfig{})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(NoopUploader); !ok {
		t.Errorf("empty bucket: got %T, want NoopUploader", u)
	}

	off := false
	u, err = NewUploader(config.ArchiveConfig{
		Bucket:    "contracts",
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		UseSSL:    &off,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		URLExpiry: config.Duration(5 * time.Minute),
	})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	s3, ok := u.(*S3Uploader)
	if !ok {
		t.Fatalf("got %T, want *S3Uploader", u)
	}
	if s3.bucket != "contracts" || s3.urlExpiry != 5*time.Minute {
		t.Errorf("uploader = %+v", s3)
	}
}
