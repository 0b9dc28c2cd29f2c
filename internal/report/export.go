package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/environment"
)

// Exporter ships a finished report somewhere.
type Exporter interface {
	Name() string
	Export(ctx context.Context, rep *Report) error
}

// NewExporters builds the exporters configured in the environment.
func NewExporters(exports []environment.Export) ([]Exporter, error) {
	var out []Exporter
	for _, e := range exports {
		switch e.Kind {
		case "objectstore":
			exp, err := NewObjectStoreExporter(ObjectStoreConfig{
				Endpoint:  e.Endpoint,
				Bucket:    e.Bucket,
				Prefix:    e.Prefix,
				Region:    e.Region,
				AccessKey: e.AccessKey,
				SecretKey: e.SecretKey,
				UseSSL:    e.UseSSL,
			})
			if err != nil {
				return nil, fmt.Errorf("objectstore exporter: %w", err)
			}
			out = append(out, exp)
		case "postgres":
			exp, err := NewPostgresExporter(PostgresConfig{URL: e.URL, Table: e.Table, PingTimeout: 2 * time.Second})
			if err != nil {
				return nil, fmt.Errorf("postgres exporter: %w", err)
			}
			out = append(out, exp)
		default:
			return nil, fmt.Errorf("unknown export kind %q", e.Kind)
		}
	}
	return out, nil
}

// ExportAll runs every exporter and joins their errors.
func ExportAll(ctx context.Context, rep *Report, exporters []Exporter) error {
	logger := ctxlog.FromContext(ctx)
	var errs []error
	for _, exp := range exporters {
		if err := exp.Export(ctx, rep); err != nil {
			logger.Error("Export failed.", "exporter", exp.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", exp.Name(), err))
			continue
		}
		logger.Info("📦 Report exported.", "exporter", exp.Name(), "session", rep.SessionID)
	}
	return errors.Join(errs...)
}
