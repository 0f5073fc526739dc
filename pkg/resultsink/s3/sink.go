package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/spf13/afero"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/resultsink"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

// putObjectAPI is the subset of the S3 client used by the sink.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Sink uploads result archives with PutObject.
type Sink struct {
	client putObjectAPI
	bucket string
	prefix string
	fs     afero.Fs
}

var _ resultsink.Publisher = (*Sink)(nil)

// New builds a sink from cfg. Local archives are read through fs; nil
// means the OS filesystem.
func New(ctx context.Context, cfg Config, fs afero.Fs) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &resultsink.PublishError{Op: "New", Err: err}
	}

	var s3Opts []func(*s3.Options)
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}

	return newSink(s3.NewFromConfig(awsCfg, s3Opts...), cfg, fs), nil
}

func newSink(client putObjectAPI, cfg Config, fs afero.Fs) *Sink {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, fs: fs}
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}
	return awsCfg, nil
}

// Publish uploads the study's result archive and returns its s3:// URI.
func (sk *Sink) Publish(ctx context.Context, s study.Study) (string, error) {
	if !s.HasResult() {
		return "", &resultsink.PublishError{Op: "Publish", Study: s.Name, Err: resultsink.ErrNoResult}
	}
	key := resultsink.Key(sk.prefix, s)

	f, err := sk.fs.Open(s.ResultPath)
	if err != nil {
		return "", &resultsink.PublishError{Op: "Open", Study: s.Name, Key: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", &resultsink.PublishError{Op: "Stat", Study: s.Name, Key: key, Err: err}
	}

	_, err = sk.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(sk.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/zip"),
		Metadata: map[string]string{
			"study":  s.Name,
			"job-id": fmt.Sprintf("%d", s.JobID),
		},
	})
	if err != nil {
		return "", wrapError(s, key, err)
	}
	return "s3://" + sk.bucket + "/" + key, nil
}

func wrapError(s study.Study, key string, err error) error {
	wrapped := &resultsink.PublishError{Op: "PutObject", Study: s.Name, Key: key, Err: err}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		wrapped.Err = resultsink.ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			wrapped.Err = resultsink.ErrBucketNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = resultsink.ErrAccessDenied
		}
	}
	return wrapped
}
