package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // "local", "gcs" or "s3".
	BucketName      string `yaml:"bucket_name"`      // Default bucket for operations.
	CredentialsFile string `yaml:"credentials_file"` // Service account key file for GCS.
	BaseDir         string `yaml:"base_dir"`         // Root directory for local storage.
	Endpoint        string `yaml:"endpoint"`         // S3-compatible endpoint (host:port).
	Region          string `yaml:"region"`           // S3 region.
	AccessKey       string `yaml:"access_key"`       // S3 access key.
	SecretKey       string `yaml:"secret_key"`       // S3 secret key.
	UseSSL          bool   `yaml:"use_ssl"`          // Use TLS for the S3 endpoint.
}

// StorageConfigs holds named storage configurations.
type StorageConfigs map[string]StorageConfig
