package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type ArchiveConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
	AccessKey string
	SecretKey string
}

// Archive copies finished recordings to an S3 bucket.
type Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchive returns nil when no bucket is configured.
func NewArchive(cfg ArchiveConfig) *Archive {
	if cfg.Bucket == "" {
		return nil
	}
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		creds := aws.Credentials{AccessKeyID: cfg.AccessKey, SecretAccessKey: cfg.SecretKey, Source: "adbcast"}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		}))
	}
	return &Archive{client: s3.New(opts), bucket: cfg.Bucket, prefix: cfg.Prefix}
}

// Key is the object key of a recording file of device.
func (a *Archive) Key(device, path string) string {
	return a.prefix + device + "/" + filepath.Base(path)
}

// Upload stores the file at path and returns its key.
func (a *Archive) Upload(ctx context.Context, device, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := a.Key(device, path)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		Metadata: map[string]string{
			"device": device,
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return key, nil
}
