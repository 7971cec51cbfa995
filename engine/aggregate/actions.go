package aggregate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/view"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/textnlp"
)

// actionNamespace seeds the deterministic action item ids.
var actionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("prime-bank-backend/action-items"))

// ActionItemID is the UUIDv5 of (bankID, postID), so deriving twice never
// duplicates an item.
func ActionItemID(bankID, postID string) string {
	return uuid.NewSHA1(actionNamespace, []byte(bankID+"\x00"+postID)).String()
}

// DeriveReport summarizes one DeriveActionItems run.
type DeriveReport struct {
	BankID         string `json:"bank_id"`
	Scanned        int    `json:"scanned"`
	Created        int    `json:"created"`
	Existing       int    `json:"existing"`
	BelowThreshold int    `json:"below_threshold"`
}

// Urgency scores a classified post in [0, 1].
func (c ActionConfig) Urgency(p domain.ClassifiedPost) float64 {
	if p.Classification == nil {
		return 0
	}
	u := c.SentimentWeights[p.Classification.Sentiment] +
		c.EmotionWeights[p.Classification.Emotion] +
		c.CategoryWeights[p.Classification.Category]
	if c.ViralityCap > 0 {
		u += c.ViralityWeight * min(p.Virality()/c.ViralityCap, 1)
	}
	return round(min(max(u, 0), 1), 3)
}

// DeriveActionItems turns urgent complaints and inquiries from the lookback
// window into action items. Existing items are left untouched.
func (e *Engine) DeriveActionItems(ctx context.Context, bankID string) (DeriveReport, error) {
	if err := e.checkBank(bankID); err != nil {
		return DeriveReport{}, err
	}
	var w domain.Window
	if e.cfg.Actions.Lookback > 0 {
		now := e.now()
		w = domain.Window{From: now.Add(-e.cfg.Actions.Lookback)}
	}
	rep := DeriveReport{BankID: bankID}
	for _, cat := range []domain.Category{domain.CategoryComplaint, domain.CategoryInquiry} {
		posts, err := e.store.Posts(ctx, store.PostQuery{BankID: bankID, Window: w, Category: cat})
		if err != nil {
			return rep, fmt.Errorf("load %s posts: %w", cat, err)
		}
		for _, p := range posts {
			rep.Scanned++
			urgency := e.cfg.Actions.Urgency(p)
			if urgency < e.cfg.Actions.UrgencyThreshold {
				rep.BelowThreshold++
				continue
			}
			created, err := e.store.SaveActionItem(ctx, domain.ActionItem{
				ID:          ActionItemID(bankID, p.ID),
				BankID:      bankID,
				PostID:      p.ID,
				Category:    cat,
				Urgency:     urgency,
				Description: describe(p),
				Status:      domain.ActionOpen,
				CreatedAt:   e.now(),
			})
			if err != nil {
				return rep, fmt.Errorf("save action item for %s: %w", p.ID, err)
			}
			if created {
				rep.Created++
			} else {
				rep.Existing++
			}
		}
	}
	if rep.Created > 0 {
		e.m.actions.With(bankID).Add(float64(rep.Created))
		e.inval.Invalidate(view.Invalidation{BankID: bankID, Reason: "action_items"})
	}
	e.log.Info("action items derived", "bank", bankID, "scanned", rep.Scanned, "created", rep.Created, "existing", rep.Existing)
	return rep, nil
}

func describe(p domain.ClassifiedPost) string {
	who := p.AuthorName
	if who == "" {
		who = "anonymous"
	}
	c := p.Classification
	return fmt.Sprintf("%s %s from %s (%s): %s", c.Sentiment, c.Category, who, c.Emotion, textnlp.Excerpt(p.Text, 140))
}
