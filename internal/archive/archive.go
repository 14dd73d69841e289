// Package archive stores audit, scan and trend reports as JSON objects in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
)

// Report kinds.
const (
	KindDNSAudit  = "dns-audit"
	KindBlacklist = "blacklist"
	KindTrend     = "trend"
	KindSnapshot  = "snapshot"
)

// Archiver persists a report and returns the key it was written under.
type Archiver interface {
	Put(ctx context.Context, kind, name string, report any) (string, error)
}

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 writes reports to one bucket under a prefix.
type S3 struct {
	client ObjectAPI
	bucket string
	prefix string
	clock  clock.Clock
}

// NewS3 loads AWS configuration for region and returns an S3 archiver.
func NewS3(ctx context.Context, bucket, prefix, region string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewS3WithClient(s3.NewFromConfig(cfg), bucket, prefix, nil), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client ObjectAPI, bucket, prefix string, c clock.Clock) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, clock: clock.OrReal(c)}
}

// Key returns "<prefix><kind>/YYYY/MM/DD/<name>-HHMMSS.json".
func (s *S3) Key(kind, name string, at time.Time) string {
	at = at.UTC()
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	return s.prefix + path.Join(kind, at.Format("2006/01/02"), name+"-"+at.Format("150405")+".json")
}

func (s *S3) Put(ctx context.Context, kind, name string, report any) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}
	key := s.Key(kind, name, s.clock.Now())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3: %w", err)
	}
	return key, nil
}

// Get reads a report back into target.
func (s *S3) Get(ctx context.Context, key string, target any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("getting object from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("reading S3 object body: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshaling report: %w", err)
	}
	return nil
}

// Discard is used when no bucket is configured.
type Discard struct{}

func (Discard) Put(context.Context, string, string, any) (string, error) { return "", nil }
