package listing

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oriys/plebiscito/internal/config"
	"github.com/oriys/plebiscito/internal/domain"
)

const s3PageSize = 1000

// S3Lister lists the objects under Prefix in Bucket. Paths are reported
// relative to Prefix.
type S3Lister struct {
	Client s3.ListObjectsV2APIClient
	Bucket string
	Prefix string
}

func (l *S3Lister) List(ctx context.Context) ([]domain.FileEntry, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(l.Bucket),
		MaxKeys: aws.Int32(s3PageSize),
	}
	if l.Prefix != "" {
		input.Prefix = aws.String(l.Prefix)
	}

	entries := make([]domain.FileEntry, 0)
	pages := s3.NewListObjectsV2Paginator(l.Client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", l.Bucket, l.Prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(strings.TrimPrefix(key, l.Prefix), "/")
			// Zero-byte "directory" markers.
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			e := domain.FileEntry{
				Name: path.Base(rel),
				Path: rel,
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				e.ModTime = obj.LastModified.UTC()
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ParseS3URL splits s3://bucket/prefix. The prefix is returned with a
// trailing slash unless empty.
func ParseS3URL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing listing root: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 listing root %q", raw)
	}
	prefix = strings.Trim(u.Path, "/")
	if prefix != "" {
		prefix += "/"
	}
	return u.Host, prefix, nil
}

// NewS3Client builds an S3 client from the default AWS chain, overridden by
// any static keys, region or endpoint set in cfg.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewLister selects a lister for root: nil for an empty root, an S3Lister
// for s3:// URLs and a LocalLister otherwise.
func NewLister(ctx context.Context, root string, s3cfg config.S3Config) (Lister, error) {
	switch {
	case root == "":
		return nil, nil
	case strings.HasPrefix(root, "s3://"):
		bucket, prefix, err := ParseS3URL(root)
		if err != nil {
			return nil, err
		}
		client, err := NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return &S3Lister{Client: client, Bucket: bucket, Prefix: prefix}, nil
	default:
		return &LocalLister{Root: root}, nil
	}
}
