package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/MeKo-Tech/trustroute/internal/document"
)

const (
	resultFile = "result.json"
	auditFile  = "audit.jsonl"
)

// File stores each job under <dir>/<job_id>/ as result.json plus an
// append-only audit.jsonl with one entry per line.
type File struct {
	dir       string
	mu        sync.RWMutex
	regionJob map[string]string
	logger    *slog.Logger
}

// NewFile opens (and creates) a file store rooted at dir and indexes the
// regions of existing jobs.
func NewFile(dir string, logger *slog.Logger) (*File, error) {
	if dir == "" {
		return nil, errors.New("storage dir cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	f := &File{dir: dir, regionJob: make(map[string]string), logger: logger}

	results, err := f.readAll()
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		for _, region := range r.Fields {
			f.regionJob[region.ID] = r.JobID
		}
	}
	logger.Debug("file store opened", "dir", dir, "jobs", len(results), "regions", len(f.regionJob))
	return f, nil
}

func (f *File) jobDir(jobID string) string { return filepath.Join(f.dir, jobID) }

func (f *File) SaveResult(_ context.Context, res *document.Result) error {
	if res == nil {
		return errors.New("nil result")
	}
	if err := ValidateID(res.JobID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range res.Fields {
		if owner, ok := f.regionJob[r.ID]; ok && owner != res.JobID {
			return fmt.Errorf("region %s already belongs to job %s", r.ID, owner)
		}
	}
	if err := os.MkdirAll(f.jobDir(res.JobID), 0o750); err != nil {
		return fmt.Errorf("failed to create job dir: %w", err)
	}
	tmp, err := f.writeTemp(res)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(f.jobDir(res.JobID), resultFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace result: %w", err)
	}

	for id, owner := range f.regionJob {
		if owner == res.JobID {
			delete(f.regionJob, id)
		}
	}
	for _, r := range res.Fields {
		f.regionJob[r.ID] = res.JobID
	}
	return nil
}

func (f *File) GetResult(_ context.Context, jobID string) (*document.Result, error) {
	if err := ValidateID(jobID); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.read(jobID)
}

func (f *File) ListResults(_ context.Context) ([]*document.Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.readAll()
}

func (f *File) UpdateRegion(_ context.Context, regionID string, fn UpdateFunc) (document.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	jobID, ok := f.regionJob[regionID]
	if !ok {
		return document.AuditLogEntry{}, fmt.Errorf("region %s: %w", regionID, ErrNotFound)
	}
	job, err := f.read(jobID)
	if err != nil {
		return document.AuditLogEntry{}, err
	}
	region := findRegion(job, regionID)
	if region == nil {
		return document.AuditLogEntry{}, fmt.Errorf("region %s: %w", regionID, ErrNotFound)
	}

	entry, err := fn(job, region)
	if err != nil {
		return document.AuditLogEntry{}, err
	}

	// Stage the result first so a failed audit append leaves both untouched.
	tmp, err := f.writeTemp(job)
	if err != nil {
		return document.AuditLogEntry{}, err
	}
	if err := f.appendAudit(jobID, entry); err != nil {
		_ = os.Remove(tmp)
		return document.AuditLogEntry{}, err
	}
	if err := os.Rename(tmp, filepath.Join(f.jobDir(jobID), resultFile)); err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to replace result: %w", err)
	}
	return entry, nil
}

func (f *File) AuditLog(_ context.Context, jobID string) ([]document.AuditLogEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if jobID != "" {
		if err := ValidateID(jobID); err != nil {
			return []document.AuditLogEntry{}, nil
		}
		return f.readAudit(jobID)
	}

	results, err := f.readAll()
	if err != nil {
		return nil, err
	}
	out := []document.AuditLogEntry{}
	for _, r := range results {
		entries, err := f.readAudit(r.JobID)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *File) Close() error { return nil }

func (f *File) read(jobID string) (*document.Result, error) {
	data, err := os.ReadFile(filepath.Join(f.jobDir(jobID), resultFile)) //nolint:gosec // G304: path built from validated job id
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	var res document.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode result of job %s: %w", jobID, err)
	}
	return &res, nil
}

func (f *File) readAll() ([]*document.Result, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage dir: %w", err)
	}
	var out []*document.Result
	for _, e := range entries {
		if !e.IsDir() || ValidateID(e.Name()) != nil {
			continue
		}
		res, err := f.read(e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			f.logger.Warn("skipping unreadable job", "job_id", e.Name(), "error", err)
			continue
		}
		out = append(out, res)
	}
	sortResults(out)
	return out, nil
}

func (f *File) writeTemp(res *document.Result) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	tmp, err := os.CreateTemp(f.jobDir(res.JobID), resultFile+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to stage result: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to stage result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to stage result: %w", err)
	}
	return tmp.Name(), nil
}

func (f *File) appendAudit(jobID string, entry document.AuditLogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	path := filepath.Join(f.jobDir(jobID), auditFile)
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path built from validated job id
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	if _, err := fh.Write(append(line, '\n')); err != nil {
		_ = fh.Close()
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return fh.Close()
}

func (f *File) readAudit(jobID string) ([]document.AuditLogEntry, error) {
	fh, err := os.Open(filepath.Join(f.jobDir(jobID), auditFile)) //nolint:gosec // G304: path built from validated job id
	if errors.Is(err, fs.ErrNotExist) {
		return []document.AuditLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = fh.Close() }()

	out := []document.AuditLogEntry{}
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e document.AuditLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt audit log for job %s: %w", jobID, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading audit log: %w", err)
	}
	return out, nil
}
