package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type regionJob struct {
	index int
	input RegionInput
}

type regionOutcome struct {
	index  int
	result RegionResult
	err    error
}

// ProcessRegions runs ProcessRegion over a bounded pool of
// Config.Concurrency workers and returns the results in input order. The
// first failing region (by index) determines the returned error.
func (p *Pipeline) ProcessRegions(ctx context.Context, inputs []RegionInput, progress ProgressCallback) ([]RegionResult, error) {
	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	progress.OnStart(len(inputs))
	defer progress.OnComplete()

	if len(inputs) == 0 {
		return []RegionResult{}, nil
	}

	workers := min(p.cfg.Concurrency, len(inputs))
	jobs := make(chan regionJob, len(inputs))
	outcomes := make(chan regionOutcome, len(inputs))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go p.worker(ctx, jobs, outcomes, &wg)
	}

	go func() {
		defer close(jobs)
		for i, in := range inputs {
			select {
			case jobs <- regionJob{index: i, input: in}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make([]RegionResult, len(inputs))
	errs := make([]error, len(inputs))
	done := 0
	for o := range outcomes {
		results[o.index] = o.result
		errs[o.index] = o.err
		done++
		if o.err != nil {
			progress.OnError(o.index, o.err)
		}
		progress.OnProgress(done, len(inputs))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
	}
	return results, nil
}

func (p *Pipeline) worker(ctx context.Context, jobs <-chan regionJob, outcomes chan<- regionOutcome, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			res, err := p.ProcessRegion(ctx, job.input)
			select {
			case outcomes <- regionOutcome{index: job.index, result: res, err: err}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stats summarizes a ProcessRegions run.
type Stats struct {
	Regions          int           `json:"regions"`
	Workers          int           `json:"workers"`
	ModelSwitches    int           `json:"model_switches"`
	DegradedRegions  int           `json:"degraded_regions"`
	NeedsReview      int           `json:"needs_review"`
	TotalDuration    time.Duration `json:"total_duration_ns"`
	ThroughputPerSec float64       `json:"throughput_per_sec"`
}

// CalculateStats summarizes results processed in duration.
func CalculateStats(results []RegionResult, duration time.Duration, workers int) Stats {
	s := Stats{Regions: len(results), Workers: workers, TotalDuration: duration}
	for _, r := range results {
		if r.Switched {
			s.ModelSwitches++
		}
		if len(r.Metadata.Degraded) > 0 {
			s.DegradedRegions++
		}
		if r.NeedsReview {
			s.NeedsReview++
		}
	}
	if duration > 0 && len(results) > 0 {
		s.ThroughputPerSec = float64(len(results)) / duration.Seconds()
	}
	return s
}
