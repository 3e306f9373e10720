package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/course-materials/pkg/materials"
	"github.com/tendant/course-materials/pkg/materials/storage/storagetest"
)

func TestS3Backend_BasicConfiguration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(context.Background(), Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("ObjectKeyPrefix", func(t *testing.T) {
		id := uuid.New()

		b := NewWithClient(nil, Config{Bucket: "materials", Prefix: "/course-content/"})
		assert.Equal(t, "course-content/"+id.String(), b.objectKey(id))

		b = NewWithClient(nil, Config{Bucket: "materials"})
		assert.Equal(t, id.String(), b.objectKey(id))
	})

	t.Run("AbortUnknownStage", func(t *testing.T) {
		b := NewWithClient(nil, Config{Bucket: "materials"})
		key := materials.StageKey{MaterialID: uuid.New(), StageID: uuid.New()}
		assert.NoError(t, b.Abort(context.Background(), key))

		err := b.Commit(context.Background(), key)
		assert.True(t, errors.Is(err, materials.ErrNotFound))

		err = b.WriteChunk(context.Background(), key, []byte("x"), materials.WriteAppend)
		assert.True(t, errors.Is(err, materials.ErrNotFound))
	})
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &types.NotFound{})))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("connection reset")))
}

// TestS3Backend_Conformance runs against a live S3-compatible endpoint such as
// MinIO. Set TEST_S3_ENDPOINT to enable it.
func TestS3Backend_Conformance(t *testing.T) {
	endpoint := os.Getenv("TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_S3_ENDPOINT not set")
	}

	config := Config{
		Region:                 envOr("TEST_S3_REGION", "us-east-1"),
		Bucket:                 envOr("TEST_S3_BUCKET", "course-materials-test"),
		AccessKeyID:            envOr("TEST_S3_ACCESS_KEY_ID", "minioadmin"),
		SecretAccessKey:        envOr("TEST_S3_SECRET_ACCESS_KEY", "minioadmin"),
		Endpoint:               endpoint,
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	}

	storagetest.Run(t, func(t *testing.T) materials.ChunkBackend {
		cfg := config
		cfg.Prefix = "test-" + uuid.NewString()
		backend, err := New(context.Background(), cfg)
		require.NoError(t, err)
		return backend
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
