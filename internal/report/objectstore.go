package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vk/mcubench/internal/ctxlog"
)

// ObjectStoreConfig addresses an S3-compatible bucket.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Validate checks the required fields.
func (c ObjectStoreConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// ObjectStoreExporter uploads the report CSV and every run artifact.
type ObjectStoreExporter struct {
	cfg    ObjectStoreConfig
	client *minio.Client
}

// NewObjectStoreExporter creates the client. No request is made until Export.
func NewObjectStoreExporter(cfg ObjectStoreConfig) (*ObjectStoreExporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, err
	}
	return &ObjectStoreExporter{cfg: cfg, client: client}, nil
}

// Name implements Exporter.
func (e *ObjectStoreExporter) Name() string { return "objectstore" }

// Export implements Exporter.
func (e *ObjectStoreExporter) Export(ctx context.Context, rep *Report) error {
	logger := ctxlog.FromContext(ctx).With("bucket", e.cfg.Bucket)
	if err := ensureBucket(ctx, e.client, e.cfg.Bucket, e.cfg.Region); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	objects, err := layout(e.cfg.Prefix, rep)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := e.put(ctx, obj.Key, obj.Data); err != nil {
			return err
		}
	}
	logger.Debug("Uploaded session results.", "session", rep.SessionID, "objects", len(objects))
	return nil
}

// object is one upload of an export.
type object struct {
	Key  string
	Data []byte
}

// layout lists the uploads of rep: the report CSV first, then the artifacts
// of every run as `<prefix>/<session>/<run>/<stage>/<bucket>/<name>`.
func layout(prefix string, rep *Report) ([]object, error) {
	var buf bytes.Buffer
	if err := rep.WriteCSV(&buf, true); err != nil {
		return nil, err
	}
	objects := []object{{Key: objectKey(prefix, rep.SessionID, "report.csv"), Data: buf.Bytes()}}

	for _, row := range rep.Rows {
		names := make([]string, 0, len(row.Artifacts))
		for name := range row.Artifacts {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			objects = append(objects, object{
				Key:  objectKey(prefix, rep.SessionID, path.Join(strconv.Itoa(row.Index), name)),
				Data: row.Artifacts[name].Content,
			})
		}
	}
	return objects, nil
}

func (e *ObjectStoreExporter) put(ctx context.Context, key string, data []byte) error {
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := e.client.PutObject(ctx, e.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// objectKey builds `<prefix>/<session>/<name>` without a leading slash.
func objectKey(prefix, session, name string) string {
	return path.Join(prefix, session, name)
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
