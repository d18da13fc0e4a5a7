package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// Environment variables configuring the object-store backend.
const (
	envAccessKey    = "AWS_ACCESS_KEY_ID"
	envSecretKey    = "AWS_SECRET_ACCESS_KEY"
	envEndpointURL  = "AWS_ENDPOINT_URL"
	envSecureScheme = "AWS_SECURE_SCHEME"
)

type s3FS struct {
	client *s3.Client
}

func newS3FS() (FS, error) {
	access := os.Getenv(envAccessKey)
	secret := os.Getenv(envSecretKey)
	if access == "" || secret == "" {
		return nil, llmerrors.NewConfigError(
			envAccessKey, "object-store credentials in the environment", "unset")
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(access, secret, "")),
		awsconfig.WithRegion("us-east-1"),
	)
	if err != nil {
		return nil, llmerrors.NewPermanentError("configure", "s3", err)
	}

	endpoint := endpointFromEnv()
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3FS{client: client}, nil
}

func endpointFromEnv() string {
	endpoint := os.Getenv(envEndpointURL)
	if endpoint == "" {
		return ""
	}
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	scheme := os.Getenv(envSecureScheme)
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}

func splitBucketKey(path string) (string, string, error) {
	u, err := url.Parse(path)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", llmerrors.NewConfigError(path, "s3://bucket/key", path)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func (fs *s3FS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, key, err := splitBucketKey(path)
	if err != nil {
		return nil, err
	}
	out, err := fs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, llmerrors.NewTransientError("get", path, err)
	}
	return out.Body, nil
}

func (fs *s3FS) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	bucket, key, err := splitBucketKey(path)
	if err != nil {
		return nil, err
	}
	return &s3Writer{ctx: ctx, fs: fs, bucket: bucket, key: key, path: path}, nil
}

// s3Writer buffers the object in memory and uploads it on Close, matching
// the writer contract that a failed flush is terminal.
type s3Writer struct {
	ctx    context.Context
	fs     *s3FS
	bucket string
	key    string
	path   string
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write after close on %s", w.path)
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.fs.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return llmerrors.NewPermanentError("put", w.path, err)
	}
	return nil
}
