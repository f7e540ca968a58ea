package aggregate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stacktools/teams-harvester/pkg/client"
	"github.com/stacktools/teams-harvester/pkg/models"
)

// runContent executes a content-centric run: one record per question, with
// the owner and accepted answer resolved per item.
func (a *Aggregator) runContent(ctx context.Context) (*Result, error) {
	questions, streamErr := a.src.Questions().All(ctx)

	var truncated, cancelled bool
	if streamErr != nil {
		switch {
		case client.IsFatal(streamErr):
			return nil, streamErr
		case interrupted(streamErr):
			cancelled = true
		case len(questions) == 0:
			return nil, fmt.Errorf("question stream yielded no questions: %w", streamErr)
		default:
			truncated = true
			a.logger.Warn().
				Err(streamErr).
				Int("questions", len(questions)).
				Msg("Question stream failed partway, continuing with collected questions")
		}
	}

	var mu sync.Mutex
	records := make([]models.ContentRecord, 0, len(questions))

	if !cancelled {
		c, err := fanOut(ctx, a.cfg.Concurrency, questions, func(ctx context.Context, q models.Question) error {
			rec, err := a.resolveQuestion(ctx, q)
			if err != nil {
				if client.IsFatal(err) || interrupted(err) {
					return err
				}
				a.exclude("question", q.ID, err)
				return nil
			}

			subjectsResolved.Inc()
			mu.Lock()
			records = append(records, *rec)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, err
		}
		cancelled = c
	}

	sort.Slice(records, func(i, j int) bool { return records[i].QuestionID < records[j].QuestionID })

	exclusions, classes := a.takeExclusions()
	return &Result{
		Content: records,
		Summary: Summary{
			Processed:      len(records),
			Excluded:       len(exclusions),
			Exclusions:     exclusions,
			FailureClasses: classes,
			Truncated:      truncated,
			Cancelled:      cancelled,
		},
	}, nil
}

// resolveQuestion resolves one content item: owner profile, per-tag
// expertise, and the accepted answer. The run cache deduplicates owner and
// tag lookups shared across questions.
func (a *Aggregator) resolveQuestion(ctx context.Context, q models.Question) (*models.ContentRecord, error) {
	expertise := make(map[int64]models.ExpertiseRecord, len(q.Tags))
	for _, tag := range q.Tags {
		record, err := a.src.SubjectMatterExperts(ctx, tag)
		if err != nil {
			return nil, err
		}
		expertise[tag.ID] = record
	}

	owner := a.ownerSummary(q.Owner, q.Tags, expertise)
	if q.Owner.ID != 0 {
		profile, err := a.src.UserProfile(ctx, q.Owner.ID)
		if err != nil {
			return nil, err
		}
		owner.AccountID = profile.AccountID
		owner.Name = profile.Name
		owner.Reputation = profile.Reputation
		owner.Role = profile.Role
	}

	rec := &models.ContentRecord{
		QuestionID:        q.ID,
		Title:             q.Title,
		Tags:              models.TagNames(q.Tags),
		CreationDate:      q.CreationDate,
		Score:             q.Score,
		ViewCount:         q.ViewCount,
		AnswerCount:       q.AnswerCount,
		IsAnswered:        q.IsAnswered,
		HasAcceptedAnswer: q.HasAcceptedAnswer,
		Owner:             owner,
	}

	if q.HasAcceptedAnswer {
		accepted, err := a.resolveAccepted(ctx, q)
		if err != nil {
			return nil, err
		}
		if accepted != nil {
			rec.AcceptedAnswer = &models.AcceptedAnswerSummary{
				AnswerID:     accepted.ID,
				CreationDate: accepted.CreationDate,
				Score:        accepted.Score,
				Owner:        a.ownerSummary(accepted.Owner, q.Tags, expertise),
			}
		}
	}

	return rec, nil
}
