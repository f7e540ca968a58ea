package aggregate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stacktools/teams-harvester/pkg/client"
	"github.com/stacktools/teams-harvester/pkg/models"
)

const secondsPerDay = 86400

// subjectData collects one subject's sub-fetch results behind the barrier.
// Each field is written by exactly one goroutine.
type subjectData struct {
	user      models.User
	profile   models.User
	detail    models.UserDetail
	questions []models.Question
	answers   []models.Answer
	articles  []models.Article

	// accepted maps question id to its resolved accepted answer.
	accepted map[int64]*models.Answer

	// expertise maps tag id to its expert roster, covering every tag the
	// subject authored content under.
	expertise map[int64]models.ExpertiseRecord
}

// runSubjects executes a subject-centric run.
func (a *Aggregator) runSubjects(ctx context.Context) (*Result, error) {
	users, streamErr := a.src.Users().All(ctx)

	var truncated, cancelled bool
	if streamErr != nil {
		switch {
		case client.IsFatal(streamErr):
			return nil, streamErr
		case interrupted(streamErr):
			cancelled = true
		case len(users) == 0:
			return nil, fmt.Errorf("subject stream yielded no subjects: %w", streamErr)
		default:
			truncated = true
			a.logger.Warn().
				Err(streamErr).
				Int("subjects", len(users)).
				Msg("Subject stream failed partway, continuing with collected subjects")
		}
	}

	var mu sync.Mutex
	records := make([]models.SubjectRecord, 0, len(users))

	if !cancelled {
		c, err := fanOut(ctx, a.cfg.Concurrency, users, func(ctx context.Context, u models.User) error {
			rec, err := a.resolveSubject(ctx, u)
			if err != nil {
				if client.IsFatal(err) || interrupted(err) {
					return err
				}
				a.exclude("subject", u.ID, err)
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

	// Completion order is scheduler-dependent; sort for stable output.
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })

	exclusions, classes := a.takeExclusions()
	return &Result{
		Subjects: records,
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

// resolveSubject runs every sub-fetch for one subject and joins the results.
// Any sub-fetch failure fails the whole subject; partial records are never
// built.
func (a *Aggregator) resolveSubject(ctx context.Context, user models.User) (*models.SubjectRecord, error) {
	data := &subjectData{
		user:     user,
		accepted: make(map[int64]*models.Answer),
	}

	sg, sctx := errgroup.WithContext(ctx)

	sg.Go(func() error {
		profile, err := a.src.UserProfile(sctx, user.ID)
		if err != nil {
			return err
		}
		data.profile = *profile
		return nil
	})

	sg.Go(func() error {
		details, err := a.src.UserDetails(sctx, []int64{user.ID})
		if err != nil {
			return err
		}
		if d, ok := details[user.ID]; ok {
			data.detail = d
		}
		return nil
	})

	sg.Go(func() error {
		questions, err := a.src.QuestionsByAuthor(user.ID).All(sctx)
		if err != nil {
			return err
		}
		data.questions = questions

		for _, q := range questions {
			if !q.HasAcceptedAnswer {
				continue
			}
			accepted, err := a.resolveAccepted(sctx, q)
			if err != nil {
				return err
			}
			if accepted != nil {
				data.accepted[q.ID] = accepted
			}
		}
		return nil
	})

	sg.Go(func() error {
		answers, err := a.src.AnswersByAuthor(user.ID).All(sctx)
		if err != nil {
			return err
		}
		data.answers = answers
		return nil
	})

	sg.Go(func() error {
		articles, err := a.src.ArticlesByAuthor(user.ID).All(sctx)
		if err != nil {
			return err
		}
		data.articles = articles
		return nil
	})

	if err := sg.Wait(); err != nil {
		return nil, err
	}

	tags := contentTags(data.questions, data.articles)
	data.expertise = make(map[int64]models.ExpertiseRecord, len(tags))
	for _, tag := range tags {
		record, err := a.src.SubjectMatterExperts(ctx, tag)
		if err != nil {
			return nil, err
		}
		data.expertise[tag.ID] = record
	}

	return a.buildSubjectRecord(data), nil
}

// resolveAccepted scans a question's answers in upstream order and returns
// the first accepted one. Additional accepted answers are logged and
// dropped.
func (a *Aggregator) resolveAccepted(ctx context.Context, q models.Question) (*models.Answer, error) {
	answers, err := a.src.AnswersForQuestion(q.ID).All(ctx)
	if err != nil {
		return nil, err
	}

	var accepted *models.Answer
	for i := range answers {
		if !answers[i].IsAccepted {
			continue
		}
		if accepted == nil {
			accepted = &answers[i]
			continue
		}
		acceptedConflicts.Inc()
		a.logger.Warn().
			Int64("question_id", q.ID).
			Int64("kept_answer_id", accepted.ID).
			Int64("dropped_answer_id", answers[i].ID).
			Msg("Question reports multiple accepted answers, keeping first")
	}
	return accepted, nil
}

// buildSubjectRecord assembles the composite record from fully resolved
// sub-fetch data.
func (a *Aggregator) buildSubjectRecord(data *subjectData) *models.SubjectRecord {
	joined := data.detail.CreationDate
	if joined == 0 {
		joined = data.profile.CreationDate
	}
	lastSeen := data.detail.LastAccessDate

	rec := &models.SubjectRecord{
		UserID:      data.user.ID,
		DisplayName: data.profile.Name,
		AccountID:   data.profile.AccountID,
		Title:       data.profile.JobTitle,
		Department:  data.profile.Department,
		Location:    data.profile.Location,
		UserType:    data.profile.Role,

		Reputation:    data.profile.Reputation,
		JoinedEpoch:   joined,
		LastSeenEpoch: lastSeen,

		SMETags:   []string{},
		Questions: []models.QuestionSummary{},
		Answers:   []models.AnswerSummary{},
		Articles:  []models.ArticleSummary{},
	}

	if joined > 0 {
		rec.AccountLongevityDays = int((a.cfg.ReferenceTime.Unix() - joined) / secondsPerDay)
	}
	if joined > 0 && lastSeen > joined {
		rec.TenureDays = int((lastSeen - joined) / secondsPerDay)
	}

	for _, tag := range contentTags(data.questions, data.articles) {
		if data.expertise[tag.ID].HasUser(data.user.ID) {
			rec.SMETags = append(rec.SMETags, tag.Name)
		}
	}
	sort.Strings(rec.SMETags)
	rec.IsSME = len(rec.SMETags) > 0

	for _, q := range data.questions {
		summary := models.QuestionSummary{
			QuestionID:        q.ID,
			Title:             q.Title,
			Tags:              models.TagNames(q.Tags),
			CreationDate:      q.CreationDate,
			Score:             q.Score,
			ViewCount:         q.ViewCount,
			AnswerCount:       q.AnswerCount,
			IsAnswered:        q.IsAnswered,
			HasAcceptedAnswer: q.HasAcceptedAnswer,
		}
		if accepted, ok := data.accepted[q.ID]; ok {
			summary.AcceptedAnswer = &models.AcceptedAnswerSummary{
				AnswerID:     accepted.ID,
				CreationDate: accepted.CreationDate,
				Score:        accepted.Score,
				Owner:        a.ownerSummary(accepted.Owner, q.Tags, data.expertise),
			}
			rec.QuestionsWithAcceptedAnswers++
		}
		if q.AnswerCount == 0 {
			rec.TotalQuestionsNoAnswers++
		}
		rec.Questions = append(rec.Questions, summary)
	}
	rec.TotalQuestionsAsked = len(data.questions)

	for _, ans := range data.answers {
		rec.Answers = append(rec.Answers, models.AnswerSummary{
			AnswerID:     ans.ID,
			QuestionID:   ans.QuestionID,
			Score:        ans.Score,
			IsAccepted:   ans.IsAccepted,
			CreationDate: ans.CreationDate,
			CommentCount: ans.CommentCount,
			Owner: models.OwnerSummary{
				ID:         data.user.ID,
				AccountID:  data.profile.AccountID,
				Name:       data.profile.Name,
				Reputation: data.profile.Reputation,
				Role:       data.profile.Role,
				IsSME:      rec.IsSME,
			},
		})
		rec.TotalAnswerScore += ans.Score
		if ans.IsAccepted {
			rec.AcceptedAnswersGiven++
		}
	}
	rec.TotalAnswersGiven = len(data.answers)

	for _, art := range data.articles {
		rec.Articles = append(rec.Articles, models.ArticleSummary{
			ArticleID:        art.ID,
			Type:             art.Type,
			Title:            art.Title,
			Tags:             models.TagNames(art.Tags),
			CreationDate:     art.CreationDate,
			LastActivityDate: art.LastActivityDate,
			Score:            art.Score,
			ViewCount:        art.ViewCount,
		})
		rec.TotalArticleViews += art.ViewCount
		rec.TotalArticleScore += art.Score
	}
	rec.TotalArticlesWritten = len(data.articles)

	return rec
}

// ownerSummary builds an owner block, marking the owner SME when any of the
// content's tags lists them as an expert.
func (a *Aggregator) ownerSummary(owner models.UserRef, tags []models.Tag, expertise map[int64]models.ExpertiseRecord) models.OwnerSummary {
	isSME := false
	for _, tag := range tags {
		if expertise[tag.ID].HasUser(owner.ID) {
			isSME = true
			break
		}
	}
	return models.OwnerSummary{
		ID:         owner.ID,
		AccountID:  owner.AccountID,
		Name:       owner.Name,
		Reputation: owner.Reputation,
		Role:       owner.Role,
		IsSME:      isSME,
	}
}

// contentTags returns the distinct tags across the given content, ordered
// by tag id.
func contentTags(questions []models.Question, articles []models.Article) []models.Tag {
	seen := make(map[int64]models.Tag)
	for _, q := range questions {
		for _, t := range q.Tags {
			seen[t.ID] = t
		}
	}
	for _, art := range articles {
		for _, t := range art.Tags {
			seen[t.ID] = t
		}
	}

	tags := make([]models.Tag, 0, len(seen))
	for _, t := range seen {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })
	return tags
}
