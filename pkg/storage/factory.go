package storage

import (
	"context"
	"fmt"

	"guardian/internal/config"
)

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg *config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocalStorage(cfg.Local.BasePath, cfg.Local.BaseURL)
	case "aws", "s3":
		if cfg.AWS.Bucket == "" {
			return nil, fmt.Errorf("AWS_S3_BUCKET is required for the aws storage provider")
		}
		return NewAWSS3Storage(ctx, cfg.AWS.Region, cfg.AWS.Bucket, cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, cfg.AWS.CDNDomain)
	case "gcp", "gcs":
		if cfg.GCP.Bucket == "" {
			return nil, fmt.Errorf("GCP_STORAGE_BUCKET is required for the gcp storage provider")
		}
		return NewGCPStorage(ctx, cfg.GCP.Bucket, cfg.GCP.CredentialsFile, cfg.GCP.CDNDomain)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}
