// Package archive copies finished scan records to S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/models"
)

const uploadTimeout = 30 * time.Second

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads one JSON object per finished scan.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// New returns an archiver for cfg, or nil when no bucket is configured.
func New(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, nil
	}
	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newArchiver(client, cfg), nil
}

func newArchiver(client objectPutter, cfg config.ArchiveConfig) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

func buildAWSConfig(ctx context.Context, cfg config.ArchiveConfig) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	// Static keys win; otherwise the default AWS credential chain applies.
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	optFns = append(optFns,
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithHTTPClient(&http.Client{Timeout: uploadTimeout}),
	)
	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

// Key is the object key used for scan id.
func (a *S3Archiver) Key(scanID string) string {
	if a.prefix == "" {
		return scanID + ".json"
	}
	return path.Join(a.prefix, scanID+".json")
}

// Archive uploads rec as indented JSON.
func (a *S3Archiver) Archive(ctx context.Context, rec models.ScanRecord) error {
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding scan %s: %w", rec.ID, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(rec.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"scan-status": string(rec.Status),
			"repository":  rec.RepositoryURL,
		},
	})
	if err != nil {
		return fmt.Errorf("uploading scan %s to s3://%s/%s: %w", rec.ID, a.bucket, a.Key(rec.ID), err)
	}
	return nil
}

// ScanFinished archives rec, logging instead of returning failures.
func (a *S3Archiver) ScanFinished(ctx context.Context, rec models.ScanRecord) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	if err := a.Archive(ctx, rec); err != nil {
		slog.Warn("archive: upload failed", "scan_id", rec.ID, "error", err)
		return
	}
	slog.Debug("archive: scan uploaded", "scan_id", rec.ID, "bucket", a.bucket, "key", a.Key(rec.ID))
}
