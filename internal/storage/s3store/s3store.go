// Package s3store keeps files as objects in an S3 compatible bucket (AWS S3,
// MinIO).
//
// Uploads are spooled to a local temporary file first and sent with a single
// PutObject once the whole stream arrived, so a broken upload never reaches
// the bucket. An object becomes visible only when its PUT completes and a
// GetObject streams one consistent version, which gives the atomic replace
// and snapshot reads the Backend contract asks for.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/dmitrijs2005/fileshare/internal/logging"
	"github.com/dmitrijs2005/fileshare/internal/storage"
)

// API is the part of *s3.Client the store uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type Options struct {
	Bucket string
	// Prefix is prepended to every object key, e.g. "shared/".
	Prefix   string
	Region   string
	Endpoint string
	// AccessKey and SecretKey are static credentials (MINIO_ROOT_USER /
	// MINIO_ROOT_PASSWORD for MinIO).
	AccessKey string
	SecretKey string
	// SpoolDir holds uploads until they are complete. Empty means
	// os.TempDir().
	SpoolDir   string
	MaxNameLen int
}

// NewClient builds an S3 client from static credentials and an optional
// custom endpoint. Path-style addressing is used with custom endpoints,
// which is what MinIO expects.
func NewClient(ctx context.Context, o Options) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			o.AccessKey,
			o.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3ClientFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	}), nil
}

var _ storage.Backend = (*Store)(nil)

type Store struct {
	api    API
	opts   Options
	locks  storage.KeyedMutex
	logger logging.Logger
}

func New(api API, o Options, l logging.Logger) *Store {
	return &Store{
		api:    api,
		opts:   o,
		logger: l.With("module", "s3store", "bucket", o.Bucket),
	}
}

func (s *Store) key(name string) string {
	return s.opts.Prefix + name
}

func (s *Store) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	if err := storage.ValidateName(name, s.opts.MaxNameLen); err != nil {
		return 0, err
	}
	unlock := s.locks.Lock(name)
	defer unlock()

	spool, err := os.CreateTemp(s.opts.SpoolDir, "fileshare-spool-*")
	if err != nil {
		return 0, fmt.Errorf("create spool file: %w: %w", common.ErrIOFailure, err)
	}
	defer func() {
		spool.Close()
		if err := os.Remove(spool.Name()); err != nil {
			s.logger.Warn(ctx, "spool file not removed", "file", spool.Name(), "error", err)
		}
	}()

	n, err := io.Copy(spool, storage.ContextReader(ctx, r))
	if err != nil {
		return 0, fmt.Errorf("spool %s: %w: %w", name, common.ErrIncompleteWrite, err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind spool: %w: %w", common.ErrIOFailure, err)
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(s.key(name)),
		Body:          spool,
		ContentLength: aws.Int64(n),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("put %s: %w: %w", name, common.ErrIncompleteWrite, err)
		}
		return 0, fmt.Errorf("put %s: %w: %w", name, common.ErrIOFailure, err)
	}
	s.logger.Debug(ctx, "object stored", "key", s.key(name), "size", n)
	return n, nil
}

func (s *Store) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if err := storage.ValidateName(name, s.opts.MaxNameLen); err != nil {
		return nil, 0, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, 0, s.mapErr("get", name, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

func (s *Store) List(ctx context.Context) ([]storage.FileInfo, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opts.Bucket),
		Prefix: aws.String(s.opts.Prefix),
	})

	var files []storage.FileInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w: %w", common.ErrIOFailure, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.opts.Prefix)
			// keys in "subdirectories" or otherwise unservable are skipped
			if storage.ValidateName(name, s.opts.MaxNameLen) != nil {
				continue
			}
			files = append(files, storage.FileInfo{Name: name, Size: aws.ToInt64(obj.Size)})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Delete checks existence first because DeleteObject succeeds for missing
// keys.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := storage.ValidateName(name, s.opts.MaxNameLen); err != nil {
		return err
	}
	unlock := s.locks.Lock(name)
	defer unlock()

	key := aws.String(s.key(name))
	if _, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.opts.Bucket), Key: key}); err != nil {
		return s.mapErr("head", name, err)
	}
	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.opts.Bucket), Key: key}); err != nil {
		return s.mapErr("delete", name, err)
	}
	s.logger.Debug(ctx, "object deleted", "key", aws.ToString(key))
	return nil
}

func (s *Store) mapErr(op, name string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, name, common.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w: %w", op, name, common.ErrIOFailure, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
