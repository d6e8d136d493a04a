package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorage defines the object storage operations used for debug
// artifacts and export files.
type ObjectStorage interface {
	UploadBytes(ctx context.Context, data []byte, path, contentType string) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
	GenerateSignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Health(ctx context.Context) error
}

// ObjectInfo represents metadata about a stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType,omitempty"`
}

// MinIOConfig holds MinIO connection configuration.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// MinIOStorage implements ObjectStorage using MinIO SDK.
type MinIOStorage struct {
	client     *minio.Client
	bucketName string
	region     string
}

// Bucket prefixes.
const (
	PathArtifacts = "artifacts"
	PathExports   = "exports"
)

// NewMinIOStorage creates a new MinIO storage client.
func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOStorage{client: client, bucketName: cfg.BucketName, region: cfg.Region}, nil
}

// InitBucket ensures the bucket exists and creates it if necessary.
func (s *MinIOStorage) InitBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Health checks MinIO connectivity.
func (s *MinIOStorage) Health(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

// UploadBytes uploads data to path. An empty contentType is derived from the
// extension, then sniffed.
func (s *MinIOStorage) UploadBytes(ctx context.Context, data []byte, objectPath, contentType string) (string, error) {
	if contentType == "" {
		contentType = detectContentType(objectPath)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	info, err := s.client.PutObject(ctx, s.bucketName, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload bytes: %w", err)
	}

	return info.Key, nil
}

// Download downloads an object and returns its contents.
func (s *MinIOStorage) Download(ctx context.Context, objectPath string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return data, nil
}

// GenerateSignedURL generates a presigned URL for downloading.
func (s *MinIOStorage) GenerateSignedURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectPath, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return u.String(), nil
}

// List lists objects with the given prefix.
func (s *MinIOStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for obj := range objectCh {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}

		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
		})
	}

	return objects, nil
}

func detectContentType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return ""
}

// ArtifactPrefix is the folder holding one case's debug artifacts.
func ArtifactPrefix(caseID string) string {
	return path.Join(PathArtifacts, safeSegment(caseID)) + "/"
}

// ArtifactPath builds the object path of a debug artifact.
func ArtifactPath(caseID, name string) string {
	return path.Join(PathArtifacts, safeSegment(caseID), safeSegment(name))
}

// ExportPath builds the object path of an export file.
func ExportPath(caseID, filename string) string {
	return path.Join(PathExports, safeSegment(caseID), safeSegment(filename))
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
