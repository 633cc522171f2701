package files

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"storyreel/internal/logging"
)

// B2Object is the subset of *minio.Object used by B2Storage.
type B2Object interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// B2Client is the subset of the minio client used by B2Storage.
type B2Client interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (B2Object, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

// minioClient adapts *minio.Client to B2Client.
type minioClient struct {
	*minio.Client
}

func (c minioClient) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (B2Object, error) {
	obj, err := c.Client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// B2Storage implements Storage using Backblaze B2 via S3-compatible API.
type B2Storage struct {
	client    B2Client
	bucket    string
	prefix    string
	publicURL string // Base URL for public access (e.g., "https://f005.backblazeb2.com/file/mybucket")
}

// B2Config holds configuration for B2 storage.
type B2Config struct {
	KeyID     string
	AppKey    string
	Bucket    string
	Prefix    string // optional folder prefix for all objects
	PublicURL string // base URL for public access (enables direct image links)
	Endpoint  string
}

// NewB2Storage creates a new B2-backed storage.
func NewB2Storage(cfg B2Config) (*B2Storage, error) {
	logging.B2.Printf("initializing storage (bucket=%s, prefix=%s, endpoint=%s)", cfg.Bucket, cfg.Prefix, cfg.Endpoint)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.KeyID, cfg.AppKey, ""),
		Secure: true,
	})
	if err != nil {
		logging.B2.Printf("failed to create client: %v", err)
		return nil, err
	}

	if cfg.PublicURL != "" {
		logging.B2.Printf("public URL configured: %s", cfg.PublicURL)
	}

	logging.B2.Printf("storage initialized successfully")
	return NewB2StorageWithClient(minioClient{client}, cfg.Bucket, cfg.Prefix, cfg.PublicURL), nil
}

// NewB2StorageWithClient creates a B2Storage around an existing client.
func NewB2StorageWithClient(client B2Client, bucket, prefix, publicURL string) *B2Storage {
	return &B2Storage{
		client:    client,
		bucket:    bucket,
		prefix:    strings.TrimSuffix(prefix, "/"),
		publicURL: publicURL,
	}
}

func (s *B2Storage) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return path.Join(s.prefix, id)
}

func (s *B2Storage) Save(ctx context.Context, id string, data io.Reader) (int64, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	key := s.key(id)
	logging.B2.Printf("uploading image %s to bucket %s", key, s.bucket)

	info, err := s.client.PutObject(ctx, s.bucket, key, data, -1, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		logging.B2.Printf("upload failed for %s: %v", key, err)
		return 0, err
	}

	logging.B2.Printf("uploaded %s successfully (%d bytes)", key, info.Size)
	return info.Size, nil
}

func (s *B2Storage) Load(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	key := s.key(id)

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		logging.B2.Printf("failed to get object %s: %v", key, err)
		return nil, err
	}

	// GetObject is lazy; Stat surfaces a missing key
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		logging.B2.Printf("failed to stat object %s: %v", key, err)
		return nil, err
	}

	return obj, nil
}

func (s *B2Storage) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	key := s.key(id)
	logging.B2.Printf("deleting image %s from bucket %s", key, s.bucket)

	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrNotFound
		}
		logging.B2.Printf("failed to delete %s: %v", key, err)
		return err
	}
	return nil
}

// GetPublicURL returns the public URL for an image if public access is configured.
func (s *B2Storage) GetPublicURL(id string) string {
	if s.publicURL == "" {
		return ""
	}
	return strings.TrimSuffix(s.publicURL, "/") + "/" + s.key(id)
}
