package storage

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/vgraph/vgraph/pkg/verrors"
)

// S3Config configures the S3-compatible adapter. One HTTP path covers
// native S3, Cloudflare R2, and GCS's S3-compatible endpoint (spec §4.1:
// "an S3-compatible family (native S3, R2, GCS) sharing one HTTP path"):
// the caller supplies an alternate Endpoint and PathStyle for R2/GCS,
// and leaves them zero for native S3.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for R2/GCS/MinIO-style endpoints
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	ReadOnly        bool
}

// S3 is an Adapter backed by an S3-compatible bucket.
type S3 struct {
	client   *s3.Client
	bucket   string
	readOnly bool
}

// NewS3 constructs an S3 adapter from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, verrors.New("s3.new", verrors.Fatal, cfg.Bucket, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3{client: client, bucket: cfg.Bucket, readOnly: cfg.ReadOnly}, nil
}

func (a *S3) WriteObject(ctx context.Context, path string, data []byte) error {
	if a.readOnly {
		return verrors.New("s3.write", verrors.PermissionDenied, path, errReadOnly)
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	return classifyS3Error("s3.write", path, err)
}

func (a *S3) ReadObject(ctx context.Context, path string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, classifyS3Error("s3.read", path, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, verrors.New("s3.read", verrors.TransientIO, path, err)
	}
	return data, nil
}

func (a *S3) DeleteObject(ctx context.Context, path string) error {
	if a.readOnly {
		return verrors.New("s3.delete", verrors.PermissionDenied, path, errReadOnly)
	}
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(path),
	})
	return classifyS3Error("s3.delete", path, err)
}

func (a *S3) List(ctx context.Context, prefix string, limit int, cursor string) ([]string, bool, string, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}
	if limit > 0 {
		in.MaxKeys = aws.Int32(int32(limit))
	}
	if cursor != "" {
		in.ContinuationToken = aws.String(cursor)
	}
	out, err := a.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, false, "", classifyS3Error("s3.list", prefix, err)
	}
	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	next := ""
	hasMore := aws.ToBool(out.IsTruncated)
	if hasMore {
		next = aws.ToString(out.NextContinuationToken)
	}
	if len(keys) == 0 {
		// Safety rule (spec §4.2): never report more on an empty page.
		hasMore = false
	}
	return keys, hasMore, next, nil
}

func (a *S3) ReadOnly() bool { return a.readOnly }
func (a *S3) Class() Class   { return ClassCloud }

// classifyS3Error maps an AWS SDK error into vgraph's closed error
// taxonomy (spec §4.1, §7), using smithy-go's structured API error type
// the same way the rest of the pack's S3-backed repos do.
func classifyS3Error(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return verrors.New(op, verrors.NotFound, key, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return verrors.New(op, verrors.NotFound, key, err)
		case "AccessDenied", "Forbidden":
			return verrors.New(op, verrors.PermissionDenied, key, err)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "InternalError":
			return verrors.New(op, verrors.TransientIO, key, err)
		case "QuotaExceededException", "TooManyRequestsException":
			return verrors.New(op, verrors.QuotaExceeded, key, err)
		default:
			return verrors.New(op, verrors.TransientIO, key, err)
		}
	}
	return verrors.New(op, verrors.TransientIO, key, err)
}
