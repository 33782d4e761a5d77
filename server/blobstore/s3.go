package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// DefaultS3MaxBytes is the single-PUT S3 object ceiling.
const DefaultS3MaxBytes = 5 << 30

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store is the higher-ceiling carrier variant. Keys are generated, never
// derived from upload names; the key is the carrier id.
type S3Store struct {
	Client    S3Client
	Region    string
	Bucket    string
	KeyPrefix string
	MaxBytes  int64
}

func NewS3Store(
	region string,
	bucket string,
	keyPrefix string,
	maxBytes int64,
	clientFactory func(aws.Config, func(*s3.Options)) S3Client,
) (*S3Store, error) {
	awsCfg, err := awsConfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := clientFactory(awsCfg, func(o *s3.Options) {
		o.Region = region
	})
	if maxBytes <= 0 {
		maxBytes = DefaultS3MaxBytes
	}
	return &S3Store{
		Client:    client,
		Region:    region,
		Bucket:    bucket,
		KeyPrefix: keyPrefix,
		MaxBytes:  maxBytes,
	}, nil
}

func (s *S3Store) Name() string {
	return "s3"
}

func (s *S3Store) MaxObjectBytes() int64 {
	return s.MaxBytes
}

func (s *S3Store) Put(ctx context.Context, r io.Reader, sizeHint int64, name string) (Ref, error) {
	if sizeHint > s.MaxBytes {
		return Ref{}, fmt.Errorf("size hint %d over ceiling %d: %w", sizeHint, s.MaxBytes, ErrCarrierRejected)
	}
	if sizeHint < 0 {
		// A single PUT of a non-seekable stream needs a declared length.
		return Ref{}, fmt.Errorf("unknown size for non-seekable stream: %w", ErrCarrierRejected)
	}
	key := s.KeyPrefix + uuid.NewString()
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.Bucket,
		Key:           &key,
		Body:          r,
		ContentLength: aws.Int64(sizeHint),
		Metadata: map[string]string{
			"ferry-upload-name": name,
		},
	})
	if err != nil {
		return Ref{}, fmt.Errorf("putting object: %w", classifyS3Error(err))
	}
	return Ref{CarrierID: key, Size: sizeHint}, nil
}

func (s *S3Store) Stat(ctx context.Context, ref Ref) (Meta, error) {
	out, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.Bucket,
		Key:    &ref.CarrierID,
	})
	if err != nil {
		return Meta{}, fmt.Errorf("heading object: %w", classifyS3Error(err))
	}
	return Meta{Size: aws.ToInt64(out.ContentLength)}, nil
}

func (s *S3Store) Open(ctx context.Context, ref Ref, rng *ByteRange) (*Object, error) {
	input := &s3.GetObjectInput{
		Bucket: &s.Bucket,
		Key:    &ref.CarrierID,
	}
	if rng != nil {
		input.Range = aws.String(rng.String())
	}
	out, err := s.Client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("getting object: %w", classifyS3Error(err))
	}
	obj := &Object{
		Body:      out.Body,
		TotalSize: aws.ToInt64(out.ContentLength),
	}
	if cr := aws.ToString(out.ContentRange); cr != "" {
		eff, total, err := parseContentRange(cr)
		if err != nil {
			out.Body.Close()
			return nil, fmt.Errorf("parsing Content-Range: %w", err)
		}
		obj.EffectiveRange = &eff
		obj.TotalSize = total
	}
	return obj, nil
}

func (s *S3Store) Validate() []string {
	var errs []string
	if s.Client == nil {
		errs = append(errs, "Client must not be nil")
	}
	if s.Region == "" {
		errs = append(errs, "Region must not be empty")
	}
	if s.Bucket == "" {
		errs = append(errs, "Bucket must not be empty")
	}
	if s.MaxBytes <= 0 {
		errs = append(errs, "MaxBytes must be greater than 0")
	}
	return errs
}

// Error codes S3 hands back for conditions that usually clear on their own.
var s3TransientCodes = map[string]struct{}{
	"InternalError":     {},
	"RequestTimeout":    {},
	"ServiceUnavailable": {},
	"SlowDown":          {},
	"Throttling":        {},
	"ThrottlingException": {},
}

func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return ErrObjectNotFound
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return ErrObjectNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := s3TransientCodes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%s: %w", apiErr.ErrorCode(), ErrCarrierTransient)
		}
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), ErrCarrierRejected)
	}
	return fmt.Errorf("%v: %w", err, ErrCarrierTransient)
}
