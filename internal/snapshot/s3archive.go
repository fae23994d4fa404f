// Package snapshot implements the optional off-host archival tier for
// named session snapshots ("vibe save --remote"): tar+gzip a snapshot
// directory and upload it to S3-compatible object storage.
package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/vibefs/vibed/internal/logger"
)

var log = logger.With("snapshot")

// ArchiveConfig is decoded from Config.Snapshot.S3, a bag of settings kept
// as map[string]any in the daemon config and decoded per-backend with
// mapstructure rather than given its own top-level config struct field.
type ArchiveConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"` // for MinIO/Localstack/Cubbit DS3-compatible endpoints
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// DecodeArchiveConfig decodes the raw Config.Snapshot.S3 map. ok is false
// (with a nil error) when the map is empty, meaning remote archival is
// disabled entirely.
func DecodeArchiveConfig(raw map[string]any) (cfg ArchiveConfig, ok bool, err error) {
	if len(raw) == 0 {
		return ArchiveConfig{}, false, nil
	}
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return ArchiveConfig{}, false, fmt.Errorf("decode snapshot.s3 config: %w", err)
	}
	if cfg.Bucket == "" {
		return ArchiveConfig{}, false, fmt.Errorf("snapshot.s3.bucket is required when snapshot.s3 is set")
	}
	return cfg, true, nil
}

// Archiver uploads snapshot directories to S3 as gzip-compressed tarballs.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchiver loads AWS credentials/config (via the default provider chain
// unless static keys are supplied) and verifies the target bucket is
// reachable before returning.
func NewArchiver(ctx context.Context, cfg ArchiveConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("snapshot: bucket is required")
	}

	var opts []func(*awsConfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	opts = append(opts, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("access bucket %q: %w", cfg.Bucket, err)
	}

	return &Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Archive tars and gzips dir and uploads it to
// "<prefix><sessionID>/<snapshotName>.tar.gz", returning the object key.
func (a *Archiver) Archive(ctx context.Context, sessionID, snapshotName, dir string) (key string, err error) {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarGzDir(dir, pw))
	}()

	key = fmt.Sprintf("%s%s/%s.tar.gz", a.prefix, sessionID, snapshotName)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        pr,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot archive: %w", err)
	}
	log.Info("archived snapshot %s/%s to s3://%s/%s", sessionID, snapshotName, a.bucket, key)
	return key, nil
}

// tarGzDir streams dir's contents as a gzip-compressed tar archive into w.
func tarGzDir(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tw.Close()
		gz.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
