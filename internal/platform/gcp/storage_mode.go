package gcp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/srleom/miniclue/internal/platform/envutil"
)

type ObjectStorageMode string

const (
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
	// ObjectStorageModeMemory keeps objects in process. Local runs only.
	ObjectStorageModeMemory ObjectStorageMode = "memory"
)

type ObjectStorageConfig struct {
	Mode         ObjectStorageMode
	Bucket       string
	EmulatorHost string
}

func (cfg ObjectStorageConfig) IsEmulatorMode() bool {
	return cfg.Mode == ObjectStorageModeGCSEmulator
}

type ObjectStorageConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ObjectStorageConfigError) Error() string {
	return fmt.Sprintf("invalid object storage config: %s=%q: %s", e.Field, e.Value, e.Reason)
}

// ResolveObjectStorageConfigFromEnv reads OBJECT_STORAGE_MODE, LECTURE_GCS_BUCKET
// and STORAGE_EMULATOR_HOST. An unset mode becomes gcs_emulator when an
// emulator host is present, gcs otherwise.
func ResolveObjectStorageConfigFromEnv() (ObjectStorageConfig, error) {
	cfg := ObjectStorageConfig{
		Mode:         ObjectStorageMode(strings.ToLower(envutil.String("OBJECT_STORAGE_MODE", ""))),
		Bucket:       envutil.String("LECTURE_GCS_BUCKET", ""),
		EmulatorHost: envutil.String("STORAGE_EMULATOR_HOST", ""),
	}
	if cfg.Mode == "" {
		cfg.Mode = ObjectStorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = ObjectStorageModeGCSEmulator
		}
	}
	return cfg, ValidateObjectStorageConfig(cfg)
}

func ValidateObjectStorageConfig(cfg ObjectStorageConfig) error {
	switch cfg.Mode {
	case ObjectStorageModeMemory:
		return nil
	case ObjectStorageModeGCS, ObjectStorageModeGCSEmulator:
	default:
		return &ObjectStorageConfigError{Field: "OBJECT_STORAGE_MODE", Value: string(cfg.Mode), Reason: "expected gcs, gcs_emulator or memory"}
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return &ObjectStorageConfigError{Field: "LECTURE_GCS_BUCKET", Reason: "required"}
	}
	if !cfg.IsEmulatorMode() {
		return nil
	}
	if cfg.EmulatorHost == "" {
		return &ObjectStorageConfigError{Field: "STORAGE_EMULATOR_HOST", Reason: "required in gcs_emulator mode"}
	}
	u, err := url.Parse(cfg.EmulatorHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ObjectStorageConfigError{Field: "STORAGE_EMULATOR_HOST", Value: cfg.EmulatorHost, Reason: "expected absolute URL like http://fake-gcs:4443"}
	}
	return nil
}
