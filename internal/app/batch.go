package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds how many jobs [App.ProcessBatch] runs at once.
const DefaultBatchConcurrency = 2

// ProcessBatch runs [App.Process] for every job, at most concurrency at a
// time (DefaultBatchConcurrency when concurrency < 1). Results are
// index-aligned with jobs.
//
// Jobs are independent episodes, so they run in parallel; the takeaways of
// one job are still aligned strictly in order. The first failing job cancels
// the others and its error is returned.
func (a *App) ProcessBatch(ctx context.Context, jobs []Job, concurrency int) ([]*Result, error) {
	if concurrency < 1 {
		concurrency = DefaultBatchConcurrency
	}
	results := make([]*Result, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := a.Process(ctx, job)
			if err != nil {
				name := job.ID
				if name == "" {
					name = fmt.Sprintf("#%d", i)
				}
				return fmt.Errorf("job %s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slog.Info("batch complete", "jobs", len(jobs), "concurrency", concurrency)
	return results, nil
}
