package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/ocr"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/postprocess"
	"github.com/MeKo-Tech/trustroute/internal/queue"
	"github.com/MeKo-Tech/trustroute/internal/review"
	"github.com/MeKo-Tech/trustroute/internal/scoring"
	"github.com/MeKo-Tech/trustroute/internal/store"
	"github.com/MeKo-Tech/trustroute/internal/testutil"
)

// fixedEngine answers every region with the same text.
func fixedEngine(text string, conf float64) ocr.Engine {
	return ocr.EngineFunc(func(context.Context, image.Image, ocr.ModelType) ocr.Output {
		return ocr.OK(text, conf, nil)
	})
}

// fakeJobs records queued payloads.
type fakeJobs struct {
	mu       sync.Mutex
	payloads []queue.Payload
	err      error
}

func (f *fakeJobs) Enqueue(_ context.Context, p queue.Payload) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, p)
	return &asynq.TaskInfo{ID: p.JobID, Queue: "default"}, nil
}

type testEnv struct {
	server    *Server
	store     *store.Memory
	decisions *decision.Engine
	handler   http.Handler
}

// newTestEnv builds a server backed by real engines, a memory store and an
// OCR engine that always reads "INVOICE  TOTAL" at 0.95.
func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	decisions, err := decision.New(decision.DefaultProfile(), nil)
	require.NoError(t, err)

	mem := store.NewMemory()
	dict := postprocess.Dictionary{"invoice": {}, "total": {}}
	p, err := pipeline.New(pipeline.Deps{
		OCR:       ocr.NewMultiTrack(fixedEngine("INVOICE  TOTAL", 0.95), nil, ocr.DefaultConfig(), nil),
		Post:      postprocess.NewWithDictionary(postprocess.DefaultConfig(), dict, nil),
		Scorer:    scoring.New(scoring.DefaultConfig()),
		Decisions: decisions,
		Store:     mem,
	}, pipeline.DefaultConfig(), nil)
	require.NoError(t, err)

	s, err := NewServer(cfg, Deps{
		Decisions: decisions,
		Pipeline:  p,
		Review:    review.New(mem, review.DefaultConfig(), nil),
		Store:     mem,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &testEnv{server: s, store: mem, decisions: decisions, handler: s.Handler()}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// createMultipartFormRequest creates a multipart form request with an image.
// A nil imageData omits the file part.
func createMultipartFormRequest(t *testing.T, target string, imageData []byte, filename string, extraFields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if imageData != nil {
		part, err := writer.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = part.Write(imageData)
		require.NoError(t, err)
	}
	for key, value := range extraFields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.CreateTestImageWithText("INVOICE TOTAL", width, height))
}
