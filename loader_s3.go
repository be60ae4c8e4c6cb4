package enviz

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3SourceConfig configures the S3 ensemble source.
type S3SourceConfig struct {
	Bucket   string
	Region   string
	Endpoint string // for S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer IAM roles, instance profiles
	// or environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
	// over setting these directly.
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // key prefix for all objects
	UsePathStyle    bool   // use path-style addressing
}

// S3Source reads an ensemble laid out in an S3 bucket with the same key
// structure CSVSource uses on disk:
//
//	<prefix>/welltype.csv
//	<prefix>/<property>/<realization>.csv
//	<prefix>/observed/<group>/<property>.csv
type S3Source struct {
	client *s3.Client
	cfg    S3SourceConfig
}

// NewS3Source creates a source for the given bucket.
func NewS3Source(ctx context.Context, cfg S3SourceConfig) (*S3Source, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Source{client: client, cfg: cfg}, nil
}

// Read implements Source.
func (s *S3Source) Read(ctx context.Context) ([]RawSeries, []RawObserved, error) {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return nil, nil, err
	}

	var typesKey string
	var dataKeys, observedKeys []string
	for _, key := range keys {
		rel := s.relativeKey(key)
		switch {
		case rel == "welltype.csv":
			typesKey = key
		case strings.HasPrefix(rel, "observed/") && strings.HasSuffix(rel, ".csv"):
			observedKeys = append(observedKeys, key)
		case strings.HasSuffix(rel, ".csv"):
			dataKeys = append(dataKeys, key)
		}
	}
	if typesKey == "" {
		return nil, nil, fmt.Errorf("bucket %s: no welltype.csv under prefix %q", s.cfg.Bucket, s.cfg.Prefix)
	}

	body, err := s.fetch(ctx, typesKey)
	if err != nil {
		return nil, nil, err
	}
	types, err := parseWellTypes(strings.NewReader(body))
	if err != nil {
		return nil, nil, err
	}

	var series []RawSeries
	for _, key := range dataKeys {
		rel := s.relativeKey(key)
		parts := strings.Split(rel, "/")
		if len(parts) != 2 {
			continue // not a <property>/<realization>.csv object
		}
		property := parts[0]
		realization := strings.TrimSuffix(parts[1], ".csv")

		body, err := s.fetch(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		rs, err := parseRealizationCSV(strings.NewReader(body), key, realization, property, types)
		if err != nil {
			return nil, nil, err
		}
		series = append(series, rs...)
	}

	var observed []RawObserved
	for _, key := range observedKeys {
		rel := strings.TrimPrefix(s.relativeKey(key), "observed/")
		parts := strings.Split(rel, "/")
		if len(parts) != 2 {
			continue
		}
		group := parts[0]
		property := strings.TrimSuffix(parts[1], ".csv")

		body, err := s.fetch(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		samples, err := parseObservedCSV(strings.NewReader(body), key)
		if err != nil {
			return nil, nil, err
		}
		observed = append(observed, RawObserved{Group: group, Property: property, Samples: samples})
	}
	return series, observed, nil
}

func (s *S3Source) listKeys(ctx context.Context) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
	}
	if s.cfg.Prefix != "" {
		input.Prefix = aws.String(s.cfg.Prefix)
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing bucket %s: %w", s.cfg.Bucket, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3Source) relativeKey(key string) string {
	rel := strings.TrimPrefix(key, s.cfg.Prefix)
	return strings.TrimPrefix(rel, "/")
}

func (s *S3Source) fetch(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("fetching s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("reading s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	return string(data), nil
}
