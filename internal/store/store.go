// Package store persists document results and the review audit log.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/MeKo-Tech/trustroute/internal/document"
)

// ErrNotFound is returned for unknown jobs and regions.
var ErrNotFound = errors.New("not found")

// UpdateFunc mutates a region in place and returns the audit entry that
// records the change. Returning an error aborts the update.
type UpdateFunc func(job *document.Result, region *document.Region) (document.AuditLogEntry, error)

// Store is the persistence boundary. Implementations hand out copies, so
// callers may modify returned values freely.
type Store interface {
	SaveResult(ctx context.Context, res *document.Result) error
	GetResult(ctx context.Context, jobID string) (*document.Result, error)
	// ListResults returns every job ordered by creation time.
	ListResults(ctx context.Context) ([]*document.Result, error)
	// UpdateRegion applies fn to the region and persists the region and the
	// returned audit entry together.
	UpdateRegion(ctx context.Context, regionID string, fn UpdateFunc) (document.AuditLogEntry, error)
	// AuditLog lists entries in append order. An empty jobID lists all jobs.
	AuditLog(ctx context.Context, jobID string) ([]document.AuditLogEntry, error)
	Close() error
}

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Config selects the storage backend.
type Config struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	Dir    string `mapstructure:"dir" yaml:"dir" json:"dir"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

// New opens the configured backend.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Driver) {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverFile:
		return NewFile(cfg.Dir, logger)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateID rejects ids that cannot be used as file names.
func ValidateID(id string) error {
	if !validID.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

func findRegion(res *document.Result, regionID string) *document.Region {
	for _, f := range res.Fields {
		if f.ID == regionID {
			return f
		}
	}
	return nil
}
