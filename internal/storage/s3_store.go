package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config selects the bucket holding payloads.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // Optional, for S3-compatible services
}

// S3Store keeps payloads in an S3 bucket using the same <2>/<rest> key layout as
// FileSystemStore, under an optional prefix.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates a store backed by the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3StoreWithClient creates a store using an existing client.
func NewS3StoreWithClient(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) key(id ledger.ObjectID) string {
	p, rest := splitKey(id)
	return path.Join(s.prefix, p, rest)
}

// Put implements Store. Without overwrite the upload is conditional on the key being absent.
func (s *S3Store) Put(ctx context.Context, id ledger.ObjectID, r io.Reader, overwrite bool) (string, error) {
	body, cleanup, err := seekable(r)
	if err != nil {
		return "", err
	}
	defer cleanup()

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Body:   body,
	}
	if !overwrite {
		in.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return "", fmt.Errorf("%w: %s", ErrExists, id)
		}
		return "", fmt.Errorf("failed to upload %s: %w", id, err)
	}
	return "s3://" + s.bucket + "/" + s.key(id), nil
}

// seekable returns r as an io.ReadSeeker, spooling it to a temporary file when needed
// so the request can be signed.
func seekable(r io.Reader) (io.ReadSeeker, func(), error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}
	tmp, err := os.CreateTemp("", "tuno-s3-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return nil, nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, err
	}
	return tmp, cleanup, nil
}

// Open implements Store.
func (s *S3Store) Open(ctx context.Context, id ledger.ObjectID) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return out.Body, nil
}

// Has implements Store.
func (s *S3Store) Has(ctx context.Context, id ledger.ObjectID) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

// List implements Store.
func (s *S3Store) List(ctx context.Context) ([]ledger.ObjectID, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}

	var ids []ledger.ObjectID
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			parts := strings.Split(strings.TrimPrefix(aws.ToString(obj.Key), prefix), "/")
			if len(parts) != 2 {
				continue
			}
			if id, ok := parseKey(parts[0], parts[1]); ok {
				ids = append(ids, id)
			}
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Bare() < ids[j].Bare() })
	return ids, nil
}
