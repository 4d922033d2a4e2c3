package pipeline

import (
	"context"
	"fmt"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/scenario"
	"golang.org/x/sync/errgroup"
)

// RunAll runs every scenario of set concurrently on at most WorkerCount workers.
// Reports come back in set order. A failing scenario never cancels its siblings; only
// cancellation of ctx stops the batch early, in which case the unstarted scenarios are
// reported as failed with the context error.
func (o *Orchestrator) RunAll(ctx context.Context, base *domain.Dataset, set *scenario.Set) ([]RunReport, error) {
	workers := o.cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}

	reports := make([]RunReport, len(set.Scenarios))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, p := range set.Scenarios {
		if err := gctx.Err(); err != nil {
			o.markCancelled(reports[i:], set.Scenarios[i:], err)
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				o.markCancelled(reports[i:i+1], set.Scenarios[i:i+1], err)
				return err
			}
			reports[i] = o.RunScenario(gctx, base, p)
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return reports, fmt.Errorf("scenario batch interrupted: %w", err)
	}
	return reports, nil
}

func (o *Orchestrator) markCancelled(reports []RunReport, params []scenario.Params, err error) {
	for i := range reports {
		reports[i] = RunReport{
			RunID:    o.newID(),
			Scenario: params[i].Name,
			Params:   params[i],
			Status:   StatusPending,
		}
		o.fail(&reports[i], err)
	}
}
