package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/trustroute/internal/config"
	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/lingua"
	"github.com/MeKo-Tech/trustroute/internal/ocr"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/postprocess"
	"github.com/MeKo-Tech/trustroute/internal/scoring"
	"github.com/MeKo-Tech/trustroute/internal/store"
	"github.com/MeKo-Tech/trustroute/internal/texttype"
)

// buildDecisionEngine creates the document-level router from the loaded profile.
func buildDecisionEngine(cfg *config.Config) (*decision.Engine, error) {
	engine, err := decision.New(cfg.ToProfile(), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create decision engine: %w", err)
	}
	return engine, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	s, err := store.New(ctx, cfg.Storage, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	return s, nil
}

// buildPipeline wires OCR, post-processing and scoring around the given
// engine and store. s may be nil.
func buildPipeline(cfg *config.Config, decisions *decision.Engine, s store.Store) (*pipeline.Pipeline, error) {
	logger := slog.Default()

	engine, err := ocr.NewEngine(cfg.ToEngineConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR engine: %w", err)
	}
	multi := ocr.NewMultiTrack(engine, texttype.New(cfg.OCR.TextType, logger), cfg.ToMultiTrackConfig(), logger)

	p, err := pipeline.New(pipeline.Deps{
		OCR:       multi,
		Post:      postprocess.New(cfg.PostProcess, logger),
		Lingua:    lingua.New(cfg.Lingua),
		Scorer:    scoring.New(cfg.Scorer),
		Decisions: decisions,
		Store:     s,
	}, cfg.Worker, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, nil
}

// readJSONInput decodes v from path, or from r when path is "" or "-".
func readJSONInput(path string, r io.Reader, v any) error {
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to parse JSON input: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputWriter returns the --output file or stdout. The close func is never nil.
func outputWriter(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
