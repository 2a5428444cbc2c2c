package support

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/ocr"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/postprocess"
	"github.com/MeKo-Tech/trustroute/internal/review"
	"github.com/MeKo-Tech/trustroute/internal/scoring"
	"github.com/MeKo-Tech/trustroute/internal/server"
	"github.com/MeKo-Tech/trustroute/internal/store"
)

// HTTPTestServerWrapper wraps httptest.Server for integration tests.
type HTTPTestServerWrapper struct {
	Server     *httptest.Server
	TestServer *server.Server
	Store      *store.Memory
}

// RegisterServerSteps registers steps that drive the HTTP API in-process.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the trustroute server is running with OCR reading "([^"]*)" at ([0-9.]+)$`, testCtx.theServerIsRunning)
	sc.Step(`^the trustroute server is running with rate limit ([0-9.]+) and burst (\d+)$`, testCtx.theServerIsRunningWithRateLimit)
	sc.Step(`^I send a (GET|POST|OPTIONS) request to "([^"]*)"$`, testCtx.iSendARequestTo)
	sc.Step(`^I POST JSON to "([^"]*)":$`, testCtx.iPOSTJSONTo)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)" with job id "([^"]*)"$`, testCtx.iUploadWithJobID)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^I remember the response JSON field "([^"]*)" as "([^"]*)"$`, testCtx.iRememberTheResponseJSONField)
}

func (testCtx *TestContext) theServerIsRunning(text string, conf float64) error {
	return testCtx.startTestHTTPServer(text, conf, server.Config{CORSOrigin: "*", MaxUploadMB: 5, TimeoutSec: 10})
}

func (testCtx *TestContext) theServerIsRunningWithRateLimit(rps float64, burst int) error {
	return testCtx.startTestHTTPServer("TOTAL", 0.95, server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		TimeoutSec:  10,
		RateLimit:   rps,
		RateBurst:   burst,
	})
}

// startTestHTTPServer serves the real handlers over a memory store and an
// OCR engine that always returns text at conf.
func (testCtx *TestContext) startTestHTTPServer(text string, conf float64, cfg server.Config) error {
	if testCtx.HTTPTestServer != nil {
		testCtx.stopTestHTTPServer()
	}

	decisions, err := decision.New(decision.DefaultProfile(), nil)
	if err != nil {
		return fmt.Errorf("failed to create decision engine: %w", err)
	}

	engine := ocr.EngineFunc(func(context.Context, image.Image, ocr.ModelType) ocr.Output {
		return ocr.OK(text, conf, nil)
	})
	mem := store.NewMemory()
	p, err := pipeline.New(pipeline.Deps{
		OCR:       ocr.NewMultiTrack(engine, nil, ocr.DefaultConfig(), nil),
		Post:      postprocess.New(postprocess.DefaultConfig(), nil),
		Scorer:    scoring.New(scoring.DefaultConfig()),
		Decisions: decisions,
		Store:     mem,
	}, pipeline.DefaultConfig(), nil)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	cfg.UploadDir = filepath.Join(testCtx.TempDir, "uploads")
	s, err := server.NewServer(cfg, server.Deps{
		Decisions: decisions,
		Pipeline:  p,
		Review:    review.New(mem, review.DefaultConfig(), nil),
		Store:     mem,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	testCtx.HTTPTestServer = &HTTPTestServerWrapper{
		Server:     httptest.NewServer(s.Handler()),
		TestServer: s,
		Store:      mem,
	}
	return nil
}

func (testCtx *TestContext) stopTestHTTPServer() {
	if testCtx.HTTPTestServer == nil {
		return
	}
	testCtx.HTTPTestServer.Server.Close()
	_ = testCtx.HTTPTestServer.TestServer.Close()
	testCtx.HTTPTestServer = nil
}

func (testCtx *TestContext) serverURL(path string) (string, error) {
	if testCtx.HTTPTestServer == nil {
		return "", errors.New("no test server running")
	}
	return testCtx.HTTPTestServer.Server.URL + testCtx.substitute(path), nil
}

func (testCtx *TestContext) iSendARequestTo(method, path string) error {
	url, err := testCtx.serverURL(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, nil)
	if err != nil {
		return err
	}
	return testCtx.doRequest(req)
}

func (testCtx *TestContext) iPOSTJSONTo(path string, body *godog.DocString) error {
	url, err := testCtx.serverURL(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url,
		strings.NewReader(testCtx.substitute(body.Content)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return testCtx.doRequest(req)
}

// iUploadWithJobID posts a multipart document job.
func (testCtx *TestContext) iUploadWithJobID(filename, path, jobID string) error {
	url, err := testCtx.serverURL(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.path(filename))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := writer.WriteField("job_id", jobID); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return testCtx.doRequest(req)
}

func (testCtx *TestContext) doRequest(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = resp.Header
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	text = testCtx.substitute(text)
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders.Get(name); got != value {
		return fmt.Errorf("header %s is %q, expected %q", name, got, value)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, expected string) error {
	val, err := testCtx.jsonField(testCtx.LastHTTPResponse, field)
	if err != nil {
		return err
	}
	got := fmt.Sprint(val)
	if f, ok := val.(float64); ok {
		got = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if got != testCtx.substitute(expected) {
		return fmt.Errorf("field '%s' is %q, expected %q", field, got, expected)
	}
	return nil
}

func (testCtx *TestContext) iRememberTheResponseJSONField(field, name string) error {
	val, err := testCtx.jsonField(testCtx.LastHTTPResponse, field)
	if err != nil {
		return err
	}
	testCtx.Vars[name] = fmt.Sprint(val)
	return nil
}
