// Package queue moves document jobs through Redis with asynq: the API and
// CLI enqueue, the worker command consumes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/MeKo-Tech/trustroute/internal/pipeline"
)

// TypeProcessDocument is the asynq task type of a document job.
const TypeProcessDocument = "trustroute:process-document"

// Config holds the Redis connection and consumer settings.
type Config struct {
	RedisURL    string        `mapstructure:"redis_url" yaml:"redis_url" json:"redis_url"`
	Name        string        `mapstructure:"name" yaml:"name" json:"name"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	MaxRetry    int           `mapstructure:"max_retry" yaml:"max_retry" json:"max_retry"`
	Retention   time.Duration `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// DefaultConfig returns a local Redis on the default port.
func DefaultConfig() Config {
	return Config{
		RedisURL:    "redis://localhost:6379/0",
		Name:        "documents",
		Concurrency: 2,
		MaxRetry:    3,
		Retention:   24 * time.Hour,
	}
}

// Payload describes a document job. The image is read from ImagePath by
// the worker, so producers and workers must share the file system.
type Payload struct {
	JobID     string                `json:"job_id"`
	Filename  string                `json:"filename"`
	ImagePath string                `json:"image_path"`
	Domain    string                `json:"domain,omitempty"`
	Regions   []pipeline.RegionSpec `json:"regions,omitempty"`
}

// Validate checks the fields a worker needs.
func (p Payload) Validate() error {
	if p.JobID == "" {
		return errors.New("job_id is required")
	}
	if p.ImagePath == "" {
		return errors.New("image_path is required")
	}
	return nil
}

// NewTask encodes p as a document task.
func NewTask(p Payload) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return asynq.NewTask(TypeProcessDocument, data), nil
}

// ParsePayload decodes and validates a task payload.
func ParsePayload(t *asynq.Task) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Client enqueues document jobs.
type Client struct {
	client *asynq.Client
	cfg    Config
	// jobTimeout bounds each task on the worker side as well.
	jobTimeout time.Duration
}

// NewClient parses cfg.RedisURL and connects.
func NewClient(cfg Config, jobTimeout time.Duration) (*Client, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &Client{client: asynq.NewClient(opt), cfg: cfg, jobTimeout: jobTimeout}, nil
}

// Enqueue submits a job. The job id doubles as the task id, so a job can
// only be queued once.
func (c *Client) Enqueue(ctx context.Context, p Payload) (*asynq.TaskInfo, error) {
	task, err := NewTask(p)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(c.cfg.Name),
		asynq.TaskID(p.JobID),
		asynq.MaxRetry(c.cfg.MaxRetry),
	}
	if c.jobTimeout > 0 {
		// leave the pipeline time to record the failure itself
		opts = append(opts, asynq.Timeout(c.jobTimeout+30*time.Second))
	}
	if c.cfg.Retention > 0 {
		opts = append(opts, asynq.Retention(c.cfg.Retention))
	}
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", p.JobID, err)
	}
	return info, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error { return c.client.Close() }
