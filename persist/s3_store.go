package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const ctxTimeout = 10 * time.Second

// S3Config holds the connection settings for an S3-compatible backend.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix"`
}

// S3Store archives snapshot containers in an S3-compatible bucket.
//
// Object layout:
//
//	bucket/
//	└── [keyPrefix/]snapshots/
//	    ├── <snapshot-id>.snapshot
//	    └── ...
//
// Containers are opaque to the store; they are already encrypted and
// authenticated end to end.
type S3Store struct {
	client     *minio.Client
	bucketName string
	keyPrefix  string
}

// NewS3Store connects to the S3 endpoint and ensures the bucket exists.
func NewS3Store(config S3Config) (*S3Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return store, nil
}

// NewS3StoreFromConfig creates an S3Store from StoreConfig.
func NewS3StoreFromConfig(config StoreConfig) (*S3Store, error) {
	jsonData, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 store config: %w", err)
	}
	var s3Config S3Config
	if err = json.Unmarshal(jsonData, &s3Config); err != nil {
		return nil, fmt.Errorf("invalid s3 store config: %w", err)
	}
	return NewS3Store(s3Config)
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{})
}

// SaveSnapshot uploads a container. S3 object puts are atomic, so a
// replaced snapshot is never observed half-written.
func (s *S3Store) SaveSnapshot(id string, data []byte) error {
	if err := validateSnapshotID(id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, s.bucketName, s.objectKey(id),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot downloads a container by ID.
func (s *S3Store) LoadSnapshot(id string) ([]byte, error) {
	if err := validateSnapshotID(id); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucketName, s.objectKey(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot object: %w", err)
	}
	return data, nil
}

// ListSnapshots enumerates archived snapshots, newest first.
func (s *S3Store) ListSnapshots() ([]SnapshotInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	prefix := s.objectKey("")
	var infos []SnapshotInfo
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", obj.Err)
		}
		name := path.Base(obj.Key)
		if !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		infos = append(infos, SnapshotInfo{
			ID:        strings.TrimSuffix(name, snapshotExt),
			Size:      obj.Size,
			CreatedAt: obj.LastModified.UTC(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// DeleteSnapshot removes an archived container.
func (s *S3Store) DeleteSnapshot(id string) error {
	if err := validateSnapshotID(id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// StatObject first: RemoveObject succeeds silently for missing keys.
	if _, err := s.client.StatObject(ctx, s.bucketName, s.objectKey(id), minio.StatObjectOptions{}); err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && (resp.Code == "NoSuchKey" || resp.StatusCode == 404) {
			return ErrSnapshotNotFound
		}
		return fmt.Errorf("failed to stat snapshot: %w", err)
	}

	if err := s.client.RemoveObject(ctx, s.bucketName, s.objectKey(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Ping checks bucket reachability.
func (s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to reach bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucketName)
	}
	return nil
}

// Close is a no-op; the MinIO client holds no persistent connection.
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) objectKey(id string) string {
	key := path.Join("snapshots", id)
	if id != "" {
		key += snapshotExt
	}
	if s.keyPrefix != "" {
		key = path.Join(s.keyPrefix, key)
	}
	return key
}
