package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/classify"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/view"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/resilience"
)

// PassOptions bounds one classification pass. Zero fields take Config.Pass.
type PassOptions struct {
	BatchSize   int  `json:"batch_size"`
	Workers     int  `json:"workers"`
	RetryFailed bool `json:"retry_failed"`
}

// PassReport summarizes a classification pass.
type PassReport struct {
	BankID      string                          `json:"bank_id"`
	Attempted   int                             `json:"attempted"`
	Classified  int                             `json:"classified"`
	Failed      int                             `json:"failed"`
	Reset       int                             `json:"reset,omitempty"`
	// Deferred posts never reached the classifier and stay unclassified.
	Deferred    int                             `json:"deferred,omitempty"`
	BreakerOpen bool                            `json:"breaker_open,omitempty"`
	Failures    []*domain.ClassificationFailure `json:"failures,omitempty"`
	Partial     bool                            `json:"partial"`
	Cancelled   bool                            `json:"cancelled"`
	StartedAt   time.Time                       `json:"started_at"`
	Duration    time.Duration                   `json:"-"`
	Seconds     float64                         `json:"duration_seconds"`
}

// passState collects worker results.
type passState struct {
	mu       sync.Mutex
	report   *PassReport
	from, to time.Time
	done     []domain.ClassifiedPost
	// halted stops dispatch once the classifier's breaker opens.
	halted atomic.Bool
}

func (s *passState) touch(p domain.Post) {
	if s.from.IsZero() || p.CreatedAt.Before(s.from) {
		s.from = p.CreatedAt
	}
	if p.CreatedAt.After(s.to) {
		s.to = p.CreatedAt
	}
}

func (s *passState) classified(p domain.Post, c domain.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Classified++
	s.touch(p)
	p.State = domain.StateClassified
	s.done = append(s.done, domain.ClassifiedPost{Post: p, Classification: &c})
}

func (s *passState) deferred() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Deferred++
}

func (s *passState) failed(p domain.Post, f *domain.ClassificationFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Failed++
	s.report.Failures = append(s.report.Failures, f)
	s.touch(p)
}

// RunClassificationPass classifies the bank's unclassified posts with a
// bounded worker pool. Per-post adapter failures are recorded and marked
// classification_failed; a store failure ends the pass with an error. Only one
// pass per bank runs at a time.
func (e *Engine) RunClassificationPass(ctx context.Context, bankID string, opts PassOptions) (PassReport, error) {
	if err := e.checkBank(bankID); err != nil {
		return PassReport{}, err
	}
	release, err := e.acquire(bankID)
	if err != nil {
		return PassReport{}, err
	}
	defer release()

	if opts.BatchSize <= 0 {
		opts.BatchSize = e.cfg.Pass.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = max(e.cfg.Pass.Workers, 1)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "aggregate.pass")
	span.SetAttributes(
		attribute.String("bank", bankID),
		attribute.Int("batch_size", opts.BatchSize),
		attribute.Int("workers", opts.Workers),
	)
	defer span.End()

	report := PassReport{BankID: bankID, StartedAt: e.now()}
	start := time.Now()
	st := &passState{report: &report}

	if opts.RetryFailed {
		n, err := e.store.ResetFailed(ctx, bankID)
		if err != nil {
			return report, fmt.Errorf("reset failed posts: %w", err)
		}
		report.Reset = n
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	var fetchErr error
	for p, err := range e.store.FetchUnclassified(gctx, bankID, opts.BatchSize) {
		if err != nil {
			fetchErr = err
			break
		}
		if gctx.Err() != nil || st.halted.Load() {
			break
		}
		report.Attempted++
		g.Go(func() error { return e.classifyPost(gctx, p, st) })
	}
	workErr := g.Wait()

	report.Duration = time.Since(start)
	report.Seconds = report.Duration.Seconds()
	report.Cancelled = ctx.Err() != nil
	report.BreakerOpen = st.halted.Load()
	report.Partial = report.Failed > 0 || report.Cancelled || report.Deferred > 0
	e.m.passDuration.With(bankID).Observe(report.Seconds)
	e.m.classified.With(bankID).Add(float64(report.Classified))
	e.m.failed.With(bankID).Add(float64(report.Failed))

	if report.Classified+report.Failed > 0 {
		e.inval.Invalidate(view.Invalidation{BankID: bankID, From: st.from, To: st.to, Reason: "classification"})
	}
	if e.graph != nil && len(st.done) > 0 {
		if err := e.graph.Project(context.WithoutCancel(ctx), st.done); err != nil {
			e.log.Warn("graph projection failed", "bank", bankID, "posts", len(st.done), "error", err)
		}
	}

	span.SetAttributes(
		attribute.Int("attempted", report.Attempted),
		attribute.Int("classified", report.Classified),
		attribute.Int("failed", report.Failed),
	)

	storeErr := errors.Join(fetchErr, workErr)
	if storeErr != nil && !(report.Cancelled && errors.Is(storeErr, ctx.Err())) {
		span.RecordError(storeErr)
		span.SetStatus(codes.Error, storeErr.Error())
		e.m.passes.With(bankID, "error").Inc()
		e.log.Error("classification pass aborted", "bank", bankID, "classified", report.Classified, "error", storeErr)
		return report, fmt.Errorf("classification pass %s: %w", bankID, storeErr)
	}

	result := "ok"
	switch {
	case report.Cancelled:
		result = "cancelled"
	case report.Partial:
		result = "partial"
	}
	e.m.passes.With(bankID, result).Inc()
	e.log.Info("classification pass finished",
		"bank", bankID,
		"attempted", report.Attempted,
		"classified", report.Classified,
		"failed", report.Failed,
		"deferred", report.Deferred,
		"cancelled", report.Cancelled,
		"duration", report.Duration,
	)
	return report, nil
}

// classifyPost returns an error only for store failures.
func (e *Engine) classifyPost(ctx context.Context, p domain.Post, st *passState) error {
	var c domain.Classification
	inFlight := e.m.inFlight.With(p.BankID)
	inFlight.Inc()
	labels, err := e.classifier.Classify(ctx, p.Text)
	inFlight.Dec()
	if err == nil {
		c = labels.Classification(p.ID)
		c.ClassifiedAt = e.now()
		err = domain.ValidateClassification(c)
	}
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight: the post stays unclassified for the next pass.
			return nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			if st.halted.CompareAndSwap(false, true) {
				e.log.Warn("classifier unavailable, stopping pass", "bank", p.BankID, "post", p.ID)
			}
			// Rejected before reaching the adapter: not this post's fault.
			// A post that failed real attempts first is still recorded below.
			if classify.Attempts(err) <= 1 {
				st.deferred()
				return nil
			}
		}
		f := &domain.ClassificationFailure{PostID: p.ID, Reason: err.Error(), Attempts: classify.Attempts(err)}
		if merr := e.store.MarkClassificationFailed(ctx, p.ID, f.Reason); merr != nil {
			return fmt.Errorf("mark %s failed: %w", p.ID, merr)
		}
		e.log.Warn("post classification failed", "bank", p.BankID, "post", p.ID, "attempts", f.Attempts, "error", err)
		st.failed(p, f)
		return nil
	}
	if err := e.store.SaveClassification(ctx, c); err != nil {
		return fmt.Errorf("save classification %s: %w", p.ID, err)
	}
	st.classified(p, c)
	return nil
}
