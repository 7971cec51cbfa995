package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

// Analyzer is the part of *aggregate.Engine the analytics job drives.
type Analyzer interface {
	RunClassificationPass(ctx context.Context, bankID string, opts aggregate.PassOptions) (aggregate.PassReport, error)
	DeriveActionItems(ctx context.Context, bankID string) (aggregate.DeriveReport, error)
}

// AnalyzeJob classifies pending posts of each bank and then derives action
// items for it. A bank whose pass is already running is skipped. Errors of
// one bank do not stop the others.
func AnalyzeJob(a Analyzer, banks []string, opts aggregate.PassOptions, log *slog.Logger) Job {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context) error {
		var errs []error
		for _, bank := range banks {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}
			rep, err := a.RunClassificationPass(ctx, bank, opts)
			if errors.Is(err, domain.ErrPassInProgress) {
				log.Info("schedule: pass already running", "bank", bank)
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", bank, err))
				continue
			}
			log.Info("schedule: pass finished", "bank", bank,
				"classified", rep.Classified, "failed", rep.Failed, "partial", rep.Partial)

			drep, err := a.DeriveActionItems(ctx, bank)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: derive action items: %w", bank, err))
				continue
			}
			if drep.Created > 0 {
				log.Info("schedule: action items created", "bank", bank, "created", drep.Created)
			}
		}
		return errors.Join(errs...)
	}
}
