package queue

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/testutil"
)

type fakeProcessor struct {
	got pipeline.Document
	err error
}

func (f *fakeProcessor) ProcessDocument(_ context.Context, doc pipeline.Document, _ pipeline.ProgressCallback) (*document.Result, error) {
	f.got = doc
	if f.err != nil {
		return &document.Result{JobID: doc.JobID, Status: document.StatusFailed}, f.err
	}
	return &document.Result{JobID: doc.JobID, Status: document.StatusCompleted}, nil
}

func pageLoader(path string) (image.Image, error) {
	if path == "missing.png" {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return testutil.CreateTestImage(200, 100, testutil.White), nil
}

func TestNewTask(t *testing.T) {
	_, err := NewTask(Payload{ImagePath: "a.png"})
	assert.Error(t, err)
	_, err = NewTask(Payload{JobID: "j"})
	assert.Error(t, err)

	task, err := NewTask(Payload{
		JobID:     "job-1",
		Filename:  "scan.png",
		ImagePath: "/data/uploads/job-1.png",
		Domain:    "medical",
		Regions:   []pipeline.RegionSpec{{ID: "r1", BBox: document.BBox{Width: 10, Height: 10}, FieldType: "date"}},
	})
	require.NoError(t, err)
	assert.Equal(t, TypeProcessDocument, task.Type())

	p, err := ParsePayload(task)
	require.NoError(t, err)
	assert.Equal(t, "medical", p.Domain)
	require.Len(t, p.Regions, 1)
	assert.Equal(t, "date", p.Regions[0].FieldType)
}

func TestHandler_ProcessTask(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewHandler(proc, pageLoader, nil)

	task, err := NewTask(Payload{
		JobID:     "job-2",
		Filename:  "scan.png",
		ImagePath: "page.png",
		Domain:    "logistics",
		Regions: []pipeline.RegionSpec{
			{ID: "a", BBox: document.BBox{X: 0, Y: 0, Width: 50, Height: 20}},
			{ID: "b", BBox: document.BBox{X: 60, Y: 0, Width: 50, Height: 20}},
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.ProcessTask(context.Background(), task))
	assert.Equal(t, "job-2", proc.got.JobID)
	assert.Equal(t, "logistics", proc.got.Domain)
	require.Len(t, proc.got.Regions, 2)
	assert.Equal(t, "b", proc.got.Regions[1].ID)
	assert.Equal(t, 50, proc.got.Regions[1].Image.Bounds().Dx())
}

func TestHandler_SkipRetry(t *testing.T) {
	h := NewHandler(&fakeProcessor{}, pageLoader, nil)

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeProcessDocument, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewTask(Payload{JobID: "job-3", ImagePath: "missing.png"})
	require.NoError(t, err)
	assert.ErrorIs(t, h.ProcessTask(context.Background(), task), asynq.SkipRetry)

	timedOut := NewHandler(&fakeProcessor{err: fmt.Errorf("job timed out: %w", context.DeadlineExceeded)}, pageLoader, nil)
	task, err = NewTask(Payload{JobID: "job-4", ImagePath: "page.png"})
	require.NoError(t, err)
	err = timedOut.ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	taken := NewHandler(&fakeProcessor{err: fmt.Errorf("%w: job-5 is completed", pipeline.ErrJobExists)}, pageLoader, nil)
	task, err = NewTask(Payload{JobID: "job-5", ImagePath: "page.png"})
	require.NoError(t, err)
	err = taken.ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, pipeline.ErrJobExists)
}

func TestHandler_RetryableError(t *testing.T) {
	boom := errors.New("store unavailable")
	h := NewHandler(&fakeProcessor{err: boom}, pageLoader, nil)

	task, err := NewTask(Payload{JobID: "job-5", ImagePath: "page.png"})
	require.NoError(t, err)
	err = h.ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(Config{RedisURL: "http://localhost"}, 0)
	assert.Error(t, err)

	_, err = NewWorker(Config{RedisURL: "::"}, NewHandler(&fakeProcessor{}, nil, nil), nil)
	assert.Error(t, err)
}
