package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/MeKo-Tech/trustroute/internal/document"
)

//go:embed schema.sql
var schema string

// Postgres stores jobs, regions and the audit log in PostgreSQL. Region
// updates lock the row with SELECT ... FOR UPDATE inside a transaction.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres connects, pings and applies the schema.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("database DSN is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("postgres store ready")
	return &Postgres{db: db, logger: logger}, nil
}

func (p *Postgres) SaveResult(ctx context.Context, res *document.Result) error {
	if res == nil || res.JobID == "" {
		return errors.New("result without job id")
	}
	meta, err := json.Marshal(res.ProcessingMeta)
	if err != nil {
		return fmt.Errorf("failed to encode processing meta: %w", err)
	}
	var metrics []byte
	if res.ConfidenceMetrics != nil {
		if metrics, err = json.Marshal(res.ConfidenceMetrics); err != nil {
			return fmt.Errorf("failed to encode confidence metrics: %w", err)
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (job_id, status, filename, pages, created_at, processing_meta, confidence_metrics, error)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			filename = EXCLUDED.filename,
			pages = EXCLUDED.pages,
			processing_meta = EXCLUDED.processing_meta,
			confidence_metrics = EXCLUDED.confidence_metrics,
			error = EXCLUDED.error`,
		res.JobID, string(res.Status), res.Filename, res.Pages, res.CreatedAt,
		string(meta), nullableJSON(metrics), res.Error)
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM regions WHERE job_id = $1`, res.JobID); err != nil {
		return fmt.Errorf("failed to clear regions: %w", err)
	}
	for i, r := range res.Fields {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode region %s: %w", r.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO regions (region_id, job_id, position, trust_score, human_verified, data)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
			r.ID, res.JobID, i, r.TrustScore, r.HumanVerified, string(data))
		if err != nil {
			return fmt.Errorf("failed to insert region %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (p *Postgres) GetResult(ctx context.Context, jobID string) (*document.Result, error) {
	return p.getResult(ctx, p.db, jobID)
}

func (p *Postgres) getResult(ctx context.Context, q queryer, jobID string) (*document.Result, error) {
	var (
		res     document.Result
		status  string
		meta    []byte
		metrics []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT job_id, status, filename, pages, created_at, processing_meta, confidence_metrics, error
		FROM jobs WHERE job_id = $1`, jobID).
		Scan(&res.JobID, &status, &res.Filename, &res.Pages, &res.CreatedAt, &meta, &metrics, &res.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	res.Status = document.JobStatus(status)
	if err := json.Unmarshal(meta, &res.ProcessingMeta); err != nil {
		return nil, fmt.Errorf("failed to decode processing meta: %w", err)
	}
	if len(metrics) > 0 {
		var m any
		if err := json.Unmarshal(metrics, &m); err != nil {
			return nil, fmt.Errorf("failed to decode confidence metrics: %w", err)
		}
		res.ConfidenceMetrics = m
	}

	rows, err := q.QueryContext(ctx, `SELECT data FROM regions WHERE job_id = $1 ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load regions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		var r document.Region
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to decode region: %w", err)
		}
		res.Fields = append(res.Fields, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load regions: %w", err)
	}
	return &res, nil
}

func (p *Postgres) ListResults(ctx context.Context) ([]*document.Result, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT job_id FROM jobs ORDER BY created_at, job_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := make([]*document.Result, 0, len(ids))
	for _, id := range ids {
		res, err := p.GetResult(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (p *Postgres) UpdateRegion(ctx context.Context, regionID string, fn UpdateFunc) (document.AuditLogEntry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var jobID string
	err = tx.QueryRowContext(ctx, `SELECT job_id FROM regions WHERE region_id = $1 FOR UPDATE`, regionID).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return document.AuditLogEntry{}, fmt.Errorf("region %s: %w", regionID, ErrNotFound)
	}
	if err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to lock region: %w", err)
	}

	job, err := p.getResult(ctx, tx, jobID)
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

	data, err := json.Marshal(region)
	if err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to encode region: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE regions SET trust_score = $2, human_verified = $3, data = $4::jsonb
		WHERE region_id = $1`,
		regionID, region.TrustScore, region.HumanVerified, string(data))
	if err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to update region: %w", err)
	}

	before, err := json.Marshal(entry.Before)
	if err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to encode before state: %w", err)
	}
	after, err := json.Marshal(entry.After)
	if err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to encode after state: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, job_id, region_id, user_id, action, before_state, after_state, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9)`,
		entry.ID, entry.JobID, entry.RegionID, entry.UserID, string(entry.Action),
		string(before), string(after), entry.Note, entry.CreatedAt)
	if err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to commit review: %w", err)
	}
	return entry, nil
}

func (p *Postgres) AuditLog(ctx context.Context, jobID string) ([]document.AuditLogEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, job_id, region_id, user_id, action, before_state, after_state, note, created_at
		FROM audit_log WHERE $1::text = '' OR job_id = $1 ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []document.AuditLogEntry{}
	for rows.Next() {
		var (
			e             document.AuditLogEntry
			action        string
			before, after []byte
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.RegionID, &e.UserID, &action, &before, &after, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = document.ReviewAction(action)
		if err := json.Unmarshal(before, &e.Before); err != nil {
			return nil, fmt.Errorf("failed to decode before state: %w", err)
		}
		if err := json.Unmarshal(after, &e.After); err != nil {
			return nil, fmt.Errorf("failed to decode after state: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
