package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// minPartSize is the smallest part S3 accepts for every part but the last.
const minPartSize = 5 * 1024 * 1024

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type s3Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config holds connection settings for an S3 compatible bucket.
type S3Config struct {
	Bucket             string
	Region             string
	Endpoint           string
	AccessKey          string
	SecretKey          string
	MultipartThreshold int64
}

// S3Storage stores objects in a single S3 (or MinIO) bucket.
type S3Storage struct {
	client             s3API
	presigner          s3Presigner
	bucket             string
	multipartThreshold int64
	logger             *zap.Logger
}

// NewS3Client builds an SDK client from static credentials and an optional custom endpoint.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Storage wraps an SDK client.
func NewS3Storage(client *s3.Client, cfg S3Config, logger *zap.Logger) *S3Storage {
	return newS3Storage(client, s3.NewPresignClient(client), cfg, logger)
}

func newS3Storage(client s3API, presigner s3Presigner, cfg S3Config, logger *zap.Logger) *S3Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.MultipartThreshold
	if threshold <= 0 {
		threshold = minPartSize
	}
	return &S3Storage{
		client:             client,
		presigner:          presigner,
		bucket:             cfg.Bucket,
		multipartThreshold: threshold,
		logger:             logger,
	}
}

// Put uploads r. Unknown sizes are spooled to a temporary file first so the
// request carries a content length.
func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if key == "" {
		return ErrInvalidKey
	}
	var body io.Reader = r
	if size < 0 {
		spool, n, err := spoolToTemp(r)
		if err != nil {
			return unavailable("put", key, err)
		}
		defer func() {
			_ = spool.Close()
			_ = os.Remove(spool.Name())
		}()
		body, size = spool, n
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return unavailable("put", key, err)
	}
	return nil
}

// Get streams an object body.
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
		}
		return nil, unavailable("get", key, err)
	}
	return out.Body, nil
}

// Delete removes key; S3 treats deletes of missing keys as success.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return unavailable("delete", key, err)
	}
	return nil
}

// Exists issues a HEAD request for key.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Size(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return false, err
}

// Size returns the object content length.
func (s *S3Storage) Size(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("head %s: %w", key, ErrObjectNotFound)
		}
		return 0, unavailable("head", key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// List pages through every key under prefix.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	keys := make([]string, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, unavailable("list", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// RemoveStale deletes objects under prefix last modified before cutoff and
// returns their keys.
func (s *S3Storage) RemoveStale(ctx context.Context, prefix string, cutoff time.Time) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	deleted := make([]string, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, unavailable("list", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			key := aws.ToString(obj.Key)
			if err := s.Delete(ctx, key); err != nil {
				return deleted, err
			}
			deleted = append(deleted, key)
		}
	}
	if len(deleted) > 0 {
		s.logger.Debug("removed stale objects", zap.String("prefix", prefix), zap.Int("count", len(deleted)))
	}
	return deleted, nil
}

// Copy performs a server side copy.
func (s *S3Storage) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(s.bucket + "/" + srcKey),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("copy %s: %w", srcKey, ErrObjectNotFound)
		}
		return unavailable("copy", srcKey, err)
	}
	return nil
}

// Compose assembles srcKeys into dstKey. One source is a server side copy,
// large inputs use a multipart upload built from part copies, and everything
// else is streamed through a single PutObject.
func (s *S3Storage) Compose(ctx context.Context, dstKey string, srcKeys []string) (int64, error) {
	if len(srcKeys) == 0 {
		return 0, fmt.Errorf("compose %s: no sources", dstKey)
	}
	sizes := make([]int64, len(srcKeys))
	var total int64
	for i, key := range srcKeys {
		size, err := s.Size(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("compose source: %w", err)
		}
		sizes[i] = size
		total += size
	}

	s.logger.Debug("composing object",
		zap.String("key", dstKey),
		zap.Int("parts", len(srcKeys)),
		zap.Int64("total_size", total),
	)

	switch {
	case len(srcKeys) == 1:
		if err := s.Copy(ctx, srcKeys[0], dstKey); err != nil {
			return 0, err
		}
	case total >= s.multipartThreshold && partsCopyable(sizes):
		if err := s.multipartCopy(ctx, dstKey, srcKeys); err != nil {
			return 0, err
		}
	default:
		if err := s.streamMerge(ctx, dstKey, srcKeys, total); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (s *S3Storage) multipartCopy(ctx context.Context, dstKey string, srcKeys []string) (err error) {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dstKey),
	})
	if err != nil {
		return unavailable("create multipart", dstKey, err)
	}
	uploadID := aws.ToString(created.UploadId)

	defer func() {
		if err == nil {
			return
		}
		// abort with a fresh context so a cancelled request still cleans up
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, abortErr := s.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(dstKey),
			UploadId: aws.String(uploadID),
		}); abortErr != nil {
			s.logger.Error("abort multipart upload", zap.String("key", dstKey), zap.Error(abortErr))
		}
	}()

	parts := make([]types.CompletedPart, 0, len(srcKeys))
	for i, key := range srcKeys {
		if err = ctx.Err(); err != nil {
			return err
		}
		partNumber := int32(i + 1)
		out, copyErr := s.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(dstKey),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNumber),
			CopySource: aws.String(s.bucket + "/" + key),
		})
		if copyErr != nil {
			err = unavailable("upload part copy", key, copyErr)
			return err
		}
		var etag *string
		if out.CopyPartResult != nil {
			etag = out.CopyPartResult.ETag
		}
		parts = append(parts, types.CompletedPart{ETag: etag, PartNumber: aws.Int32(partNumber)})
	}

	if _, completeErr := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(dstKey),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}); completeErr != nil {
		err = unavailable("complete multipart", dstKey, completeErr)
		return err
	}
	return nil
}

func (s *S3Storage) streamMerge(ctx context.Context, dstKey string, srcKeys []string, total int64) error {
	pr, pw := io.Pipe()
	go func() {
		reader := newSequentialReader(ctx, s.Get, srcKeys)
		_, err := io.Copy(pw, reader)
		_ = reader.Close()
		pw.CloseWithError(err)
	}()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(dstKey),
		Body:          pr,
		ContentLength: aws.Int64(total),
	})
	// unblock the writer if PutObject returned early
	_ = pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return unavailable("put merged", dstKey, err)
	}
	return nil
}

// TemporaryURL returns a presigned GET URL.
func (s *S3Storage) TemporaryURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.presigner == nil {
		return "", ErrUnsupported
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", unavailable("presign", key, err)
	}
	return req.URL, nil
}

func partsCopyable(sizes []int64) bool {
	for _, size := range sizes[:len(sizes)-1] {
		if size < minPartSize {
			return false
		}
	}
	return true
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func spoolToTemp(r io.Reader) (*os.File, int64, error) {
	tmp, err := os.CreateTemp("", "docvault-spool-*")
	if err != nil {
		return nil, 0, err
	}
	n, err := io.Copy(tmp, r)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, 0, err
	}
	return tmp, n, nil
}
