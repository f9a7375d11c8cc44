package app

import (
	"context"
	"errors"
	"testing"

	"github.com/srleom/miniclue/internal/platform/gcp"
	"github.com/srleom/miniclue/internal/platform/logger"
)

func TestClassifyStorageBootstrapErrorInvalidConfig(t *testing.T) {
	storageCfg := gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCSEmulator}
	srcErr := &gcp.ObjectStorageConfigError{Field: "STORAGE_EMULATOR_HOST", Reason: "required in gcs_emulator mode"}

	err := classifyStorageBootstrapError(storageCfg, srcErr)

	var got *StorageBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageBootstrapError, got=%T", err)
	}
	if got.Code != StorageBootstrapInvalidConfig {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapInvalidConfig, got.Code)
	}
	if got.Field != "STORAGE_EMULATOR_HOST" {
		t.Fatalf("field: got=%q", got.Field)
	}
	if !errors.Is(err, srcErr) {
		t.Fatalf("cause not unwrapped")
	}
}

func TestClassifyStorageBootstrapErrorConnectFailed(t *testing.T) {
	storageCfg := gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCS, Bucket: "b"}

	err := classifyStorageBootstrapError(storageCfg, errors.New("dial failed"))

	var got *StorageBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageBootstrapError, got=%T", err)
	}
	if got.Code != StorageBootstrapConnectFailed {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapConnectFailed, got.Code)
	}
}

func TestResolveObjectStoreLocalFallsBackToMemory(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("LECTURE_GCS_BUCKET", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	store, err := resolveObjectStore(context.Background(), logger.Nop(), Config{Env: "local"})
	if err != nil {
		t.Fatalf("resolveObjectStore: %v", err)
	}
	if _, ok := store.(*gcp.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestResolveObjectStoreProductionRequiresBucket(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("LECTURE_GCS_BUCKET", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	_, err := resolveObjectStore(context.Background(), logger.Nop(), Config{Env: "production"})
	var got *StorageBootstrapError
	if !errors.As(err, &got) || got.Code != StorageBootstrapInvalidConfig {
		t.Fatalf("want invalid_config, got %v", err)
	}
}

func TestResolveObjectStoreWrapsConnectFailure(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "gcs")
	t.Setenv("LECTURE_GCS_BUCKET", "lectures")
	orig := newObjectStore
	t.Cleanup(func() { newObjectStore = orig })
	newObjectStore = func(ctx context.Context, log *logger.Logger, cfg gcp.ObjectStorageConfig) (gcp.ObjectStore, error) {
		return nil, errors.New("no credentials")
	}

	_, err := resolveObjectStore(context.Background(), logger.Nop(), Config{Env: "production"})
	var got *StorageBootstrapError
	if !errors.As(err, &got) || got.Code != StorageBootstrapConnectFailed {
		t.Fatalf("want connect_failed, got %v", err)
	}
}
