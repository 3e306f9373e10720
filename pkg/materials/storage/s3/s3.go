package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/tendant/course-materials/pkg/materials"
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	Prefix          string // Key prefix for material blobs
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the materials.ChunkBackend interface.
//
// Each stage is a streaming upload to the live key fed through a pipe. S3 only
// publishes an object once the upload completes, so the live blob is replaced
// atomically on Commit and left untouched when the stage is aborted.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	config Config

	mu     sync.Mutex
	stages map[materials.StageKey]*upload
}

type upload struct {
	pw     *io.PipeWriter
	done   chan error
	cancel context.CancelFunc
}

// New creates a new S3-compatible storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	backend := NewWithClient(s3.NewFromConfig(awsCfg, s3Options...), config)

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

// NewWithClient creates a backend around an existing client.
func NewWithClient(client *s3.Client, config Config) *Backend {
	return &Backend{
		client: client,
		bucket: config.Bucket,
		prefix: strings.Trim(config.Prefix, "/"),
		config: config,
		stages: make(map[materials.StageKey]*upload),
	}
}

func (b *Backend) Name() string { return "s3" }

func (b *Backend) objectKey(id uuid.UUID) string {
	if b.prefix == "" {
		return id.String()
	}
	return path.Join(b.prefix, id.String())
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) && !hasErrorCode(err, "NoSuchBucket", "BadRequest") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	if _, err = b.client.CreateBucket(ctx, createInput); err != nil {
		if hasErrorCode(err, "BucketAlreadyExists", "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (b *Backend) WriteChunk(ctx context.Context, key materials.StageKey, data []byte, mode materials.WriteMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var u *upload
	switch mode {
	case materials.WriteCreate:
		b.discard(key)
		u = b.start(ctx, key)
	case materials.WriteAppend:
		b.mu.Lock()
		u = b.stages[key]
		b.mu.Unlock()
		if u == nil {
			return fmt.Errorf("stage %s: %w", key, materials.ErrNotFound)
		}
	default:
		return fmt.Errorf("unsupported write mode %s", mode)
	}

	// The pipe hands data to the uploader before Write returns.
	if _, err := u.pw.Write(data); err != nil {
		return fmt.Errorf("failed to stream to S3: %w", err)
	}
	return nil
}

// start begins the upload of a stage. The upload outlives the WriteChunk call
// that started it and is only bound to Commit or Abort.
func (b *Backend) start(ctx context.Context, key materials.StageKey) *upload {
	uploadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pr, pw := io.Pipe()
	u := &upload{pw: pw, done: make(chan error, 1), cancel: cancel}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key.MaterialID)),
		Body:   pr,
	}
	b.applySSE(input)

	go func() {
		_, err := manager.NewUploader(b.client).Upload(uploadCtx, input)
		if err != nil {
			pr.CloseWithError(err)
		} else {
			pr.Close()
		}
		u.done <- err
	}()

	b.mu.Lock()
	b.stages[key] = u
	b.mu.Unlock()
	return u
}

func (b *Backend) applySSE(input *s3.PutObjectInput) {
	if !b.config.EnableSSE {
		return
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
		}
	}
}

func (b *Backend) take(key materials.StageKey) *upload {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.stages[key]
	delete(b.stages, key)
	return u
}

// discard cancels the upload of key, if any, and waits for it to stop.
func (b *Backend) discard(key materials.StageKey) {
	u := b.take(key)
	if u == nil {
		return
	}
	u.pw.CloseWithError(errors.New("stage aborted"))
	u.cancel()
	<-u.done
}

func (b *Backend) Commit(ctx context.Context, key materials.StageKey) error {
	u := b.take(key)
	if u == nil {
		return fmt.Errorf("stage %s: %w", key, materials.ErrNotFound)
	}
	defer u.cancel()

	u.pw.Close()
	select {
	case err := <-u.done:
		if err != nil {
			return fmt.Errorf("failed to upload to S3: %w", err)
		}
		return nil
	case <-ctx.Done():
		u.cancel()
		<-u.done
		return ctx.Err()
	}
}

func (b *Backend) Abort(ctx context.Context, key materials.StageKey) error {
	b.discard(key)
	return nil
}

func (b *Backend) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return result.Body, nil
}

func (b *Backend) Size(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return aws.ToInt64(result.ContentLength), nil
}

// Delete removes the live object. S3 deletes are idempotent, so existence is
// checked first to report missing content.
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := b.Size(ctx, id); err != nil {
		return err
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	return hasErrorCode(err, "NoSuchKey", "NotFound")
}

func hasErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
