package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/srleom/miniclue/internal/platform/envutil"
	"github.com/srleom/miniclue/internal/platform/gcp"
	"github.com/srleom/miniclue/internal/platform/logger"
)

var newObjectStore = gcp.NewObjectStore

type StorageBootstrapErrorCode string

const (
	StorageBootstrapInvalidConfig StorageBootstrapErrorCode = "invalid_config"
	StorageBootstrapConnectFailed StorageBootstrapErrorCode = "connect_failed"
)

type StorageBootstrapError struct {
	Code         StorageBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Field        string
	Cause        error
}

func (e *StorageBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf(
		"object storage bootstrap failed (code=%s mode=%q emulator_host=%q field=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Field,
		e.Cause,
	)
}

func (e *StorageBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveObjectStore builds the lecture object store. Local runs with no
// storage configured fall back to the in-process store.
func resolveObjectStore(ctx context.Context, log *logger.Logger, cfg Config) (gcp.ObjectStore, error) {
	storageCfg, err := gcp.ResolveObjectStorageConfigFromEnv()
	if err != nil && cfg.Local() && envutil.String("OBJECT_STORAGE_MODE", "") == "" && storageCfg.Bucket == "" {
		log.Warn("Object storage not configured; using in-memory store")
		storageCfg = gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeMemory}
		err = nil
	}
	if err != nil {
		return nil, classifyStorageBootstrapError(storageCfg, err)
	}
	store, err := newObjectStore(ctx, log, storageCfg)
	if err != nil {
		return nil, classifyStorageBootstrapError(storageCfg, err)
	}
	return store, nil
}

func classifyStorageBootstrapError(storageCfg gcp.ObjectStorageConfig, err error) error {
	if err == nil {
		return nil
	}
	out := &StorageBootstrapError{
		Code:         StorageBootstrapConnectFailed,
		Mode:         string(storageCfg.Mode),
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		out.Code = StorageBootstrapInvalidConfig
		out.Field = cfgErr.Field
	}
	return out
}
