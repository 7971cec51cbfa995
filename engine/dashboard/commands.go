package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/graph"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/ingest"
)

// Reanalysis batch sizes.
const (
	DefaultPrimePosts = 20
	DefaultOtherPosts = 15
	MaxReanalyzePosts = 200
)

// ReanalyzeRequest sets how many posts are classified per bank. Zero values
// take the defaults.
type ReanalyzeRequest struct {
	PrimeBankPosts  int `json:"prime_bank_posts"`
	OtherBanksPosts int `json:"other_banks_posts"`
}

func (r *ReanalyzeRequest) normalize() error {
	if r.PrimeBankPosts == 0 {
		r.PrimeBankPosts = DefaultPrimePosts
	}
	if r.OtherBanksPosts == 0 {
		r.OtherBanksPosts = DefaultOtherPosts
	}
	if r.PrimeBankPosts < 1 || r.PrimeBankPosts > MaxReanalyzePosts {
		return domain.NewValidationError("prime_bank_posts", strconv.Itoa(r.PrimeBankPosts), domain.ErrOutOfRange)
	}
	if r.OtherBanksPosts < 1 || r.OtherBanksPosts > MaxReanalyzePosts {
		return domain.NewValidationError("other_banks_posts", strconv.Itoa(r.OtherBanksPosts), domain.ErrOutOfRange)
	}
	return nil
}

// ReanalyzeResult lists the passes that ran and the action items they produced.
type ReanalyzeResult struct {
	Passes             []aggregate.PassReport   `json:"passes"`
	Skipped            []string                 `json:"skipped,omitempty"`
	Actions            []aggregate.DeriveReport `json:"actions"`
	ActionItemsCreated int                      `json:"action_items_created"`
}

// Reanalyze retries failed posts and classifies a batch for every bank, the
// default bank first, and derives each bank's action items right after its
// pass. A pass already running for the default bank is an error; for other
// banks it is skipped.
func (s *Service) Reanalyze(ctx context.Context, req ReanalyzeRequest) (ReanalyzeResult, error) {
	if err := req.normalize(); err != nil {
		return ReanalyzeResult{}, err
	}
	primary := s.eng.Config().DefaultBank
	res := ReanalyzeResult{Passes: []aggregate.PassReport{}, Actions: []aggregate.DeriveReport{}}

	ids := append([]string{primary}, without(s.eng.Banks().IDs(), primary)...)
	for _, id := range ids {
		size := req.OtherBanksPosts
		if id == primary {
			size = req.PrimeBankPosts
		}
		rep, err := s.eng.RunClassificationPass(ctx, id, aggregate.PassOptions{BatchSize: size, RetryFailed: true})
		switch {
		case errors.Is(err, domain.ErrPassInProgress) && id != primary:
			res.Skipped = append(res.Skipped, id)
			continue
		case err != nil:
			return res, fmt.Errorf("reanalyze %s: %w", id, err)
		}
		res.Passes = append(res.Passes, rep)

		d, err := s.eng.DeriveActionItems(ctx, id)
		if err != nil {
			return res, fmt.Errorf("derive action items %s: %w", id, err)
		}
		res.Actions = append(res.Actions, d)
		res.ActionItemsCreated += d.Created
	}
	s.log.Info("dashboard: reanalysis done", "banks", len(res.Passes), "skipped", len(res.Skipped), "action_items", res.ActionItemsCreated)
	return res, nil
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// ResolveActionItem closes an item given its id or the id of its post.
func (s *Service) ResolveActionItem(ctx context.Context, q Query, id string) (ActionItemView, error) {
	it, err := s.ActionItem(ctx, q, id)
	if err != nil {
		return ActionItemView{}, err
	}
	resolved, err := s.eng.ResolveActionItem(ctx, it.ID)
	if err != nil {
		return ActionItemView{}, err
	}
	it.ActionItem = resolved
	return it, nil
}

func (s *Service) IngestPost(ctx context.Context, p domain.Post) (ingest.Outcome, error) {
	return s.loader.Post(ctx, p)
}

func (s *Service) IngestComment(ctx context.Context, c domain.Comment) (ingest.Outcome, error) {
	return s.loader.Comment(ctx, c)
}

func (s *Service) IngestBatch(ctx context.Context, b ingest.Batch) (ingest.Report, error) {
	return s.loader.Load(ctx, b)
}

// RecordRun registers a scrape run. A missing id is generated and a missing
// status or start time defaults to pending and now.
func (s *Service) RecordRun(ctx context.Context, r domain.ScrapeRun) (domain.ScrapeRun, error) {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.BankID = strings.ToLower(strings.TrimSpace(r.BankID))
	if r.BankID != "" {
		if err := s.eng.Banks().Check(r.BankID); err != nil {
			return domain.ScrapeRun{}, err
		}
	}
	if r.Status == "" {
		r.Status = domain.RunPending
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now().UTC()
	}
	if err := domain.ValidateScrapeRun(r); err != nil {
		return domain.ScrapeRun{}, err
	}
	if err := s.st.RecordScrapeRun(ctx, r); err != nil {
		return domain.ScrapeRun{}, fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return r, nil
}

// UpdateRun moves a run to status.
func (s *Service) UpdateRun(ctx context.Context, id string, status domain.RunStatus) (domain.ScrapeRun, error) {
	return s.st.UpdateRunStatus(ctx, id, domain.RunStatus(strings.ToLower(string(status))))
}

// GraphMentions counts posts per bank in the mention graph.
func (s *Service) GraphMentions(ctx context.Context) ([]graph.BankCount, error) {
	if s.graph == nil {
		return nil, ErrGraphDisabled
	}
	return s.graph.MentionCounts(ctx)
}

// CoMentions counts, per other bank, the posts that mention both banks.
func (s *Service) CoMentions(ctx context.Context, q Query) ([]graph.BankCount, error) {
	if s.graph == nil {
		return nil, ErrGraphDisabled
	}
	q, err := s.resolve(q)
	if err != nil {
		return nil, err
	}
	return s.graph.CoMentions(ctx, q.BankID)
}
