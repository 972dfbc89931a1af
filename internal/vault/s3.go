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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"miner-go/internal/miner"
)

// s3OpTimeout bounds every single request made by the S3 vault.
const s3OpTimeout = 5 * time.Minute

// S3Options configures an S3Vault.
type S3Options struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint overrides the service endpoint for S3-compatible stores. Path style
	// addressing is used when set.
	Endpoint string

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Vault stores objects in an S3 bucket under an optional key prefix, using the same
// layout as FileSystemVault.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	layout   layout
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Vault creates a vault backed by the given bucket.
func NewS3Vault(name string, opts S3Options, sharder miner.Sharder) (*S3Vault, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Vault{
		name:     name,
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		layout:   layout{sharder: sharder},
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (v *S3Vault) key(k string) string {
	if v.prefix == "" {
		return k
	}
	return path.Join(v.prefix, k)
}

func (v *S3Vault) put(ctx context.Context, key string, r io.Reader, size int64) error {
	cr := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
		Body:   cr,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if cr.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, cr.n)
	}
	return nil
}

func (v *S3Vault) get(ctx context.Context, key string, w io.Writer, what string) error {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

// PutContent stores the body of content id, replacing any existing object.
func (v *S3Vault) PutContent(id int64, r io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()
	return v.put(ctx, v.key(v.layout.contentKey(id)), r, size)
}

// GetContent retrieves the body of content id.
func (v *S3Vault) GetContent(id int64, w io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()
	return v.get(ctx, v.key(v.layout.contentKey(id)), w, fmt.Sprintf("content %d", id))
}

// PutProject stores the record of project id.
func (v *S3Vault) PutProject(id int64, r io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()
	return v.put(ctx, v.key(v.layout.projectKey(id)), r, size)
}

// GetProject retrieves the record of project id.
func (v *S3Vault) GetProject(id int64, w io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()
	return v.get(ctx, v.key(v.layout.projectKey(id)), w, fmt.Sprintf("project %d", id))
}

// PutMetadata stores a named metadata item and its version marker.
func (v *S3Vault) PutMetadata(name string, r io.Reader, size int64, version int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	if err := v.put(ctx, v.key(v.layout.metadataKey(name)), r, size); err != nil {
		return err
	}
	data := []byte(strconv.FormatInt(version, 10))
	return v.put(ctx, v.key(v.layout.versionKey(name)), bytes.NewReader(data), int64(len(data)))
}

// GetMetadata retrieves a named metadata item.
func (v *S3Vault) GetMetadata(name string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()
	return v.get(ctx, v.key(v.layout.metadataKey(name)), w, fmt.Sprintf("metadata %q", name))
}

// GetMetadataVersion returns the version of a metadata item, or 0 if none is stored.
func (v *S3Vault) GetMetadataVersion(name string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	var buf bytes.Buffer
	if err := v.get(ctx, v.key(v.layout.versionKey(name)), &buf, "version"); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return parseVersion(buf.String())
}

// ValidateSetup verifies that the bucket is reachable with the configured credentials.
func (v *S3Vault) ValidateSetup() error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func parseVersion(s string) (int64, error) {
	version, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// Compile-time check that S3Vault implements miner.Vault interface
var _ miner.Vault = (*S3Vault)(nil)
