package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/airtap/airtap/internal/config"
	"github.com/airtap/airtap/internal/stream"
)

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, data []byte) error
}

type s3Uploader struct {
	client *s3.Client
}

func (u *s3Uploader) Upload(ctx context.Context, bucket, key string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	return err
}

// S3 writes each stream as JSON lines objects under
// prefix/stream/runID-part.jsonl, plus the stream schema as
// prefix/stream/schema.json.
type S3 struct {
	uploader  Uploader
	bucket    string
	prefix    string
	runID     string
	batchSize int

	pending map[string]*s3Part
	parts   map[string]int
	logger  *slog.Logger
}

type s3Part struct {
	buf   bytes.Buffer
	count int
}

// OpenS3 loads AWS credentials the same way the CLI does.
func OpenS3(ctx context.Context, cfg config.SinkConfig, runID string, logger *slog.Logger) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	up := &s3Uploader{client: s3.NewFromConfig(awsCfg)}
	return NewS3(up, cfg.Bucket, cfg.Prefix, runID, cfg.BatchSize, logger), nil
}

// NewS3 creates an S3 sink on top of an uploader.
func NewS3(up Uploader, bucket, prefix, runID string, batchSize int, logger *slog.Logger) *S3 {
	if batchSize <= 0 {
		batchSize = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{
		uploader:  up,
		bucket:    bucket,
		prefix:    prefix,
		runID:     runID,
		batchSize: batchSize,
		pending:   make(map[string]*s3Part),
		parts:     make(map[string]int),
		logger:    logger,
	}
}

func (s *S3) WriteSchema(ctx context.Context, info StreamInfo) error {
	data, err := json.MarshalIndent(info.Schema, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding schema of %s: %w", info.Name, err)
	}
	key := path.Join(s.prefix, info.Name, "schema.json")
	if err := s.uploader.Upload(ctx, s.bucket, key, data); err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3) WriteRecord(ctx context.Context, streamName string, rec stream.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	p := s.pending[streamName]
	if p == nil {
		p = &s3Part{}
		s.pending[streamName] = p
	}
	p.buf.Write(line)
	p.buf.WriteByte('\n')
	p.count++
	if p.count >= s.batchSize {
		return s.flush(ctx, streamName)
	}
	return nil
}

func (s *S3) Close(ctx context.Context) error {
	for name := range s.pending {
		if err := s.flush(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3) flush(ctx context.Context, streamName string) error {
	p := s.pending[streamName]
	delete(s.pending, streamName)
	if p == nil || p.count == 0 {
		return nil
	}
	s.parts[streamName]++
	key := path.Join(s.prefix, streamName, fmt.Sprintf("%s-%05d.jsonl", s.runID, s.parts[streamName]))
	if err := s.uploader.Upload(ctx, s.bucket, key, p.buf.Bytes()); err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", s.bucket, key, err)
	}
	s.logger.Debug("uploaded part", "bucket", s.bucket, "key", key, "records", p.count)
	return nil
}
