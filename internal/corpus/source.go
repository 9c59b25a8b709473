package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrImageNotFound is returned when a manifest path does not resolve
var ErrImageNotFound = errors.New("corpus image not found")

// ImageSource resolves manifest paths to image bytes
type ImageSource interface {
	Open(ctx context.Context, name string) ([]byte, error)
}

// DirSource reads images below a root directory. Paths that escape the root
// are rejected.
type DirSource struct {
	Root     string
	MaxBytes int64
}

func NewDirSource(root string, maxBytes int64) *DirSource {
	return &DirSource{Root: root, MaxBytes: maxBytes}
}

func (s *DirSource) Open(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %q escapes image root", name)
	}

	f, err := os.Open(filepath.Join(s.Root, clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, name)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	return readLimited(f, s.MaxBytes)
}

// S3GetObjectAPI is the slice of the S3 client the image source needs
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads images from a bucket, keyed by prefix + manifest path
type S3Source struct {
	api      S3GetObjectAPI
	bucket   string
	prefix   string
	maxBytes int64
}

func NewS3Source(api S3GetObjectAPI, bucket, prefix string, maxBytes int64) *S3Source {
	return &S3Source{api: api, bucket: bucket, prefix: prefix, maxBytes: maxBytes}
}

// NewS3API creates an S3 client with the default credential chain. A non-empty
// endpoint selects path-style addressing for MinIO-compatible stores.
func NewS3API(ctx context.Context, region, endpoint string) (S3GetObjectAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if endpoint != "" {
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}), nil
	}
	return s3.NewFromConfig(cfg), nil
}

// Key returns the object key for a manifest path
func (s *S3Source) Key(name string) string {
	return path.Join(s.prefix, strings.TrimPrefix(path.Clean("/"+name), "/"))
}

func (s *S3Source) Open(ctx context.Context, name string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.Key(name), err)
	}
	defer out.Body.Close()

	return readLimited(out.Body, s.maxBytes)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}
	return data, nil
}
