package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"miner-go/internal/miner"
)

// MinioOptions configures a MinioVault.
type MinioOptions struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioVault stores objects in a MinIO (or other S3-compatible) bucket. The bucket is
// created on first use.
type MinioVault struct {
	name   string
	bucket string
	prefix string
	region string
	layout layout
	client *minio.Client

	initOnce sync.Once
	initErr  error
}

// NewMinioVault creates a vault backed by a MinIO bucket.
func NewMinioVault(name string, opts MinioOptions, sharder miner.Sharder) (*MinioVault, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio vault requires minio_endpoint to be set")
	}
	access := strings.TrimSpace(opts.AccessKey)
	secret := strings.TrimSpace(opts.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("minio vault requires an access key and a secret key")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("minio vault requires minio_bucket to be set")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &MinioVault{
		name:   name,
		bucket: bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		region: region,
		layout: layout{sharder: sharder},
		client: client,
	}, nil
}

func (v *MinioVault) ensureBucket(ctx context.Context) error {
	v.initOnce.Do(func() {
		exists, err := v.client.BucketExists(ctx, v.bucket)
		if err != nil {
			v.initErr = err
			return
		}
		if exists {
			return
		}
		v.initErr = v.client.MakeBucket(ctx, v.bucket, minio.MakeBucketOptions{Region: v.region})
	})
	if v.initErr != nil {
		return fmt.Errorf("ensure bucket: %w", v.initErr)
	}
	return nil
}

func (v *MinioVault) key(k string) string {
	if v.prefix == "" {
		return k
	}
	return path.Join(v.prefix, k)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func (v *MinioVault) put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := v.ensureBucket(ctx); err != nil {
		return err
	}
	info, err := v.client.PutObject(ctx, v.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if info.Size != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, info.Size)
	}
	return nil
}

func (v *MinioVault) get(ctx context.Context, key string, w io.Writer, what string) error {
	if err := v.ensureBucket(ctx); err != nil {
		return err
	}
	obj, err := v.client.GetObject(ctx, v.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer obj.Close()

	if _, err := io.Copy(w, obj); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

// PutContent stores the body of content id, replacing any existing object.
func (v *MinioVault) PutContent(id int64, r io.Reader, size int64) error {
	ctx := context.Background()
	if err := v.ensureBucket(ctx); err != nil {
		return err
	}
	return v.put(ctx, v.key(v.layout.contentKey(id)), r, size)
}

// GetContent retrieves the body of content id.
func (v *MinioVault) GetContent(id int64, w io.Writer) error {
	return v.get(context.Background(), v.key(v.layout.contentKey(id)), w, fmt.Sprintf("content %d", id))
}

// PutProject stores the record of project id.
func (v *MinioVault) PutProject(id int64, r io.Reader, size int64) error {
	return v.put(context.Background(), v.key(v.layout.projectKey(id)), r, size)
}

// GetProject retrieves the record of project id.
func (v *MinioVault) GetProject(id int64, w io.Writer) error {
	return v.get(context.Background(), v.key(v.layout.projectKey(id)), w, fmt.Sprintf("project %d", id))
}

// PutMetadata stores a named metadata item and its version marker.
func (v *MinioVault) PutMetadata(name string, r io.Reader, size int64, version int64) error {
	ctx := context.Background()
	if err := v.put(ctx, v.key(v.layout.metadataKey(name)), r, size); err != nil {
		return err
	}
	data := []byte(strconv.FormatInt(version, 10))
	return v.put(ctx, v.key(v.layout.versionKey(name)), bytes.NewReader(data), int64(len(data)))
}

// GetMetadata retrieves a named metadata item.
func (v *MinioVault) GetMetadata(name string, w io.Writer) error {
	return v.get(context.Background(), v.key(v.layout.metadataKey(name)), w, fmt.Sprintf("metadata %q", name))
}

// GetMetadataVersion returns the version of a metadata item, or 0 if none is stored.
func (v *MinioVault) GetMetadataVersion(name string) (int64, error) {
	var buf bytes.Buffer
	if err := v.get(context.Background(), v.key(v.layout.versionKey(name)), &buf, "version"); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return parseVersion(buf.String())
}

// ValidateSetup verifies that the bucket exists or can be created.
func (v *MinioVault) ValidateSetup() error {
	return v.ensureBucket(context.Background())
}

// Compile-time check that MinioVault implements miner.Vault interface
var _ miner.Vault = (*MinioVault)(nil)
