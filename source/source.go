// Package source loads documents from local files, file:// URIs, s3://
// objects and uploaded bytes, and declares their format.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"github.com/hazyhaar/docfeed/docpipe"
)

// ErrUnsupportedScheme is returned for URIs other than paths, file:// and s3://.
var ErrUnsupportedScheme = errors.New("source: unsupported URI scheme")

// ErrTooLarge is returned when a document exceeds Config.MaxSize.
var ErrTooLarge = errors.New("source: document too large")

// DefaultMaxSize matches the extraction limit.
const DefaultMaxSize = 100 << 20

// S3API is the subset of the S3 client used here.
type S3API interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config configures a Loader. S3 settings are only needed for s3:// URIs.
type Config struct {
	S3Region    string `yaml:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	// S3Endpoint overrides the endpoint for S3-compatible stores.
	S3Endpoint string `yaml:"s3_endpoint"`

	MaxSize int64         `yaml:"max_size"`
	Timeout time.Duration `yaml:"timeout"`

	// S3 replaces the client built from the settings above.
	S3     S3API        `yaml:"-"`
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Loader opens documents by URI.
type Loader struct {
	cfg Config

	once  sync.Once
	s3    S3API
	s3Err error
}

// New creates a Loader. The S3 client is built on first use.
func New(cfg Config) *Loader {
	cfg.defaults()
	return &Loader{cfg: cfg, s3: cfg.S3}
}

// Open reads the document at uri: a plain path, a file:// URI or an
// s3://bucket/key URI.
func (l *Loader) Open(ctx context.Context, uri string) (docpipe.Document, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return l.openFile(uri)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return l.openFile(u.Path)
	case "s3":
		return l.openS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return docpipe.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

func (l *Loader) openFile(p string) (docpipe.Document, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return docpipe.Document{}, fmt.Errorf("source: %w", err)
	}
	if fi.IsDir() {
		return docpipe.Document{}, fmt.Errorf("source: %s is a directory", p)
	}
	if fi.Size() > l.cfg.MaxSize {
		return docpipe.Document{}, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, p, fi.Size(), l.cfg.MaxSize)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return docpipe.Document{}, fmt.Errorf("source: %w", err)
	}
	return FromBytes(filepath.Base(p), "", data), nil
}

func (l *Loader) openS3(ctx context.Context, bucket, key string) (docpipe.Document, error) {
	if bucket == "" || key == "" {
		return docpipe.Document{}, fmt.Errorf("source: s3 URI needs bucket and key")
	}
	client, err := l.s3Client(ctx)
	if err != nil {
		return docpipe.Document{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return docpipe.Document{}, fmt.Errorf("source: s3 head %s/%s: %w", bucket, key, err)
	}
	size := aws.ToInt64(head.ContentLength)
	if size > l.cfg.MaxSize {
		return docpipe.Document{}, fmt.Errorf("%w: s3://%s/%s is %d bytes (max %d)", ErrTooLarge, bucket, key, size, l.cfg.MaxSize)
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, size))
	dl := manager.NewDownloader(client)
	n, err := dl.Download(ctx, buf, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return docpipe.Document{}, fmt.Errorf("source: s3 download %s/%s: %w", bucket, key, err)
	}
	l.cfg.Logger.Info("source: s3 object loaded", "bucket", bucket, "key", key, "bytes", n)

	return FromBytes(path.Base(key), aws.ToString(head.ContentType), buf.Bytes()[:n]), nil
}

func (l *Loader) s3Client(ctx context.Context) (S3API, error) {
	l.once.Do(func() {
		if l.s3 != nil {
			return
		}
		var opts []func(*awsconfig.LoadOptions) error
		if l.cfg.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(l.cfg.S3Region))
		}
		if l.cfg.S3AccessKey != "" && l.cfg.S3SecretKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(l.cfg.S3AccessKey, l.cfg.S3SecretKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			l.s3Err = fmt.Errorf("source: load aws config: %w", err)
			return
		}
		endpoint := l.cfg.S3Endpoint
		l.s3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
	})
	return l.s3, l.s3Err
}

// FromBytes builds a document from uploaded bytes. The declared mime
// decides the format when it is known; otherwise the name, then the
// content. An empty mime is filled in by sniffing.
func FromBytes(name, mime string, data []byte) docpipe.Document {
	head := data[:min(len(data), 3072)]
	doc := docpipe.Document{
		Name:   name,
		Data:   data,
		Format: docpipe.Detect(name, mime, head),
		MIME:   mime,
	}
	if doc.MIME == "" {
		doc.MIME = mimetype.Detect(head).String()
	}
	return doc
}

// Read builds a document from r, reading at most maxSize bytes.
func Read(r io.Reader, name, mime string, maxSize int64) (docpipe.Document, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return docpipe.Document{}, fmt.Errorf("source: read %s: %w", name, err)
	}
	if int64(len(data)) > maxSize {
		return docpipe.Document{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, name, maxSize)
	}
	return FromBytes(name, mime, data), nil
}
