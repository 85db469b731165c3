// Package blob publishes extracted assets to object storage, falling back
// to the locally served asset directory.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/config"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// Store uploads an object and returns its public URL.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// S3Store uploads through the S3 transfer manager.
type S3Store struct {
	uploader *manager.Uploader
	bucket   string
	region   string
}

// NewS3Store builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg config.BlobConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, domain.ConfigError("S3 bucket name not set", nil)
	}
	if cfg.Region == "" {
		return nil, domain.ConfigError("AWS region not set", nil)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, domain.ConfigError("load aws config", err)
	}

	return &S3Store{
		uploader: manager.NewUploader(s3.NewFromConfig(awsCfg)),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
	}, nil
}

// Put uploads data under key and returns its virtual-hosted URL.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", domain.TransportError("s3 upload failed", err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}

// LocalStore writes objects under a directory served at a public path.
type LocalStore struct {
	dir        string
	publicPath string
}

// NewLocalStore creates a store rooted at dir whose objects are reachable at
// publicPath/<key>.
func NewLocalStore(dir, publicPath string) *LocalStore {
	return &LocalStore{dir: dir, publicPath: "/" + strings.Trim(publicPath, "/")}
}

// Put writes data to dir/key and returns the public path.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	clean := path.Clean("/" + key)
	dest := filepath.Join(s.dir, filepath.FromSlash(clean))

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", domain.IOError("create asset directory", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", domain.IOError("write asset", err)
	}
	return s.publicPath + clean, nil
}
