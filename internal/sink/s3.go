package sink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configure the S3 client. Empty fields fall back to the default
// AWS credential and region chain.
type S3Options struct {
	Region          string
	Endpoint        string // for S3-compatible services
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ContentType     string
	// SpoolDir holds the local copy until Commit uploads it.
	SpoolDir string
}

// putter is the slice of *s3.Client the sink uses.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 spools the document to a local file and uploads it on Commit with one
// PutObject. Abort keeps the spool file and marks it incomplete; nothing is
// uploaded.
type S3 struct {
	bucket string
	key    string
	opts   S3Options
	client putter
	spool  *File
}

// ParseS3URL splits "s3://bucket/key".
func ParseS3URL(target string) (bucket, key string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("sink: parse %q: %w", target, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("sink: %q is not an s3://bucket/key url", target)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("sink: %q has no object key", target)
	}
	return u.Host, key, nil
}

func OpenS3(ctx context.Context, target string, opts S3Options) (*S3, error) {
	bucket, key, err := ParseS3URL(target)
	if err != nil {
		return nil, err
	}
	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}
	return openS3(bucket, key, opts, client)
}

func openS3(bucket, key string, opts S3Options, client putter) (*S3, error) {
	dir := opts.SpoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create spool dir %s: %w", dir, err)
	}
	// Spool names are unique per sink; keys may share a basename.
	f, err := os.CreateTemp(dir, "itemexport-"+bucket+"-*-"+path.Base(key))
	if err != nil {
		return nil, fmt.Errorf("sink: create spool: %w", err)
	}
	spool := &File{path: f.Name(), f: f}
	return &S3{bucket: bucket, key: key, opts: opts, client: client, spool: spool}, nil
}

func newS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("sink: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

func (s *S3) Location() string { return "s3://" + s.bucket + "/" + s.key }

func (s *S3) Write(p []byte) (int, error) { return s.spool.Write(p) }

// Commit uploads the spooled document and removes the spool file.
func (s *S3) Commit(ctx context.Context) error {
	if err := s.spool.Commit(ctx); err != nil {
		return err
	}
	f, err := os.Open(s.spool.path)
	if err != nil {
		return fmt.Errorf("sink: reopen spool: %w", err)
	}
	defer f.Close()

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   f,
	}
	if s.opts.ContentType != "" {
		in.ContentType = aws.String(s.opts.ContentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return errors.Join(
			fmt.Errorf("sink: upload %s: %w", s.Location(), err),
			writeMarker(s.spool.path, err),
		)
	}
	_ = f.Close()
	if err := os.Remove(s.spool.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("sink: remove spool: %w", err)
	}
	return nil
}

func (s *S3) Abort(cause error) error { return s.spool.Abort(cause) }
