package report

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher copies rendered reports to an S3 bucket.
type S3Publisher struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Publisher uses the default AWS credential chain.
func NewS3Publisher(ctx context.Context, bucket, prefix string) (*S3Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Publisher{client: s3.NewFromConfig(awsCfg), bucket: bucket, prefix: prefix}, nil
}

// Publish uploads the file at localPath and returns its s3:// URI.
func (p *S3Publisher) Publish(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	key := path.Join(strings.Trim(p.prefix, "/"), filepath.Base(localPath))
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report to s3://%s/%s: %w", p.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", p.bucket, key), nil
}
