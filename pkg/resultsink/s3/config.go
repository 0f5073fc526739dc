// Package s3 publishes result archives to AWS S3 or an S3-compatible store.
package s3

// Config configures the S3 sink.
//
// Credentials follow the AWS SDK default chain unless AccessKeyID and
// SecretAccessKey are both set. For S3-compatible stores (MinIO, Wasabi)
// set Endpoint and usually ForcePathStyle.
type Config struct {
	// Bucket is required.
	Bucket string

	// Prefix is prepended to every key.
	Prefix string

	Region   string
	Endpoint string
	Profile  string

	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool
}

// DefaultAWSRegion applies when neither the config nor the SDK chain names
// a region and no custom endpoint is set.
const DefaultAWSRegion = "us-east-1"

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError is a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 sink config: " + e.Field + ": " + e.Message
}
