package objectstore

import (
	"errors"
	"strings"

	"github.com/tideline-labs/tideline-go/internal/platform/env"
)

type Config struct {
	// Enabled turns state-data offloading on; without it the engine keeps
	// payloads inline in the database.
	Enabled         bool
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	UseSSL          bool
	BucketStateData string
}

func ConfigFromEnv() (Config, error) {
	enabled, err := env.Bool("TIDELINE_MINIO_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	useSSL, err := env.Bool("TIDELINE_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Enabled:         enabled,
		Endpoint:        env.String("TIDELINE_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:       env.String("TIDELINE_MINIO_ACCESS_KEY", "tideline"),
		SecretKey:       env.String("TIDELINE_MINIO_SECRET_KEY", "tidelineminio"),
		Region:          env.String("TIDELINE_MINIO_REGION", "us-east-1"),
		UseSSL:          useSSL,
		BucketStateData: env.String("TIDELINE_MINIO_BUCKET_STATE_DATA", "state-data"),
	}
	if !cfg.Enabled {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.BucketStateData) == "" {
		return errors.New("state data bucket is required")
	}
	return nil
}
