// Package api is the typed endpoint surface of the upstream analytics API.
// It routes every fetch through the executor, the run cache, and the
// pagination walker, and decodes payloads into boundary types.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stacktools/teams-harvester/pkg/cache"
	"github.com/stacktools/teams-harvester/pkg/client"
	"github.com/stacktools/teams-harvester/pkg/models"
	"github.com/stacktools/teams-harvester/pkg/pagination"
	"github.com/stacktools/teams-harvester/pkg/timewindow"
)

// DefaultPageSize is the upstream maximum collection page size.
const DefaultPageSize = 100

// DetailBatchSize is the maximum id count per detail-family lookup.
const DetailBatchSize = 20

// Client wraps the executor with typed, cached endpoint accessors. One
// instance belongs to one run; its cache is scoped to the run's window.
type Client struct {
	exec     *client.Client
	cache    *cache.Store
	window   timewindow.Window
	pageSize int
	logger   zerolog.Logger
}

// New creates the endpoint surface for one run.
func New(exec *client.Client, store *cache.Store, window timewindow.Window) *Client {
	return &Client{
		exec:     exec,
		cache:    store,
		window:   window,
		pageSize: DefaultPageSize,
		logger:   log.With().Str("component", "api").Logger(),
	}
}

// Users streams the subject collection, window-filtered upstream.
func (c *Client) Users() *pagination.Walker[models.User] {
	return collection[models.User](c, "/users", 0, nil)
}

// Questions streams the full question collection, window-filtered
// upstream. Used by the content-first harvesting mode.
func (c *Client) Questions() *pagination.Walker[models.Question] {
	return collection[models.Question](c, "/questions", 0, nil)
}

// QuestionsByAuthor streams one subject's questions.
func (c *Client) QuestionsByAuthor(userID int64) *pagination.Walker[models.Question] {
	return collection[models.Question](c, "/questions", userID, url.Values{
		"authorId": {strconv.FormatInt(userID, 10)},
	})
}

// AnswersForQuestion streams one question's answers in upstream order.
func (c *Client) AnswersForQuestion(questionID int64) *pagination.Walker[models.Answer] {
	endpoint := fmt.Sprintf("/questions/%d/answers", questionID)
	return collection[models.Answer](c, endpoint, questionID, nil)
}

// AnswersByAuthor streams the answers one subject has given.
func (c *Client) AnswersByAuthor(userID int64) *pagination.Walker[models.Answer] {
	return collection[models.Answer](c, "/answers", userID, url.Values{
		"authorId": {strconv.FormatInt(userID, 10)},
	})
}

// ArticlesByAuthor streams one subject's articles.
func (c *Client) ArticlesByAuthor(userID int64) *pagination.Walker[models.Article] {
	return collection[models.Article](c, "/articles", userID, url.Values{
		"authorId": {strconv.FormatInt(userID, 10)},
	})
}

// UserProfile fetches one subject's full profile from the primary family.
func (c *Client) UserProfile(ctx context.Context, userID int64) (*models.User, error) {
	endpoint := fmt.Sprintf("/users/%d", userID)
	payload, err := c.cached(ctx, client.FamilyPrimary, endpoint, userID, nil)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, fmt.Errorf("decode user profile %d: %w", userID, err)
	}
	return &user, nil
}

// SubjectMatterExperts fetches the expertise record for one tag.
func (c *Client) SubjectMatterExperts(ctx context.Context, tag models.Tag) (models.ExpertiseRecord, error) {
	endpoint := fmt.Sprintf("/tags/%d/subject-matter-experts", tag.ID)
	payload, err := c.cached(ctx, client.FamilyPrimary, endpoint, 0, nil)
	if err != nil {
		return models.ExpertiseRecord{}, err
	}

	var resp models.SMEResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return models.ExpertiseRecord{}, fmt.Errorf("decode SME record for tag %d: %w", tag.ID, err)
	}

	record := models.ExpertiseRecord{TagID: tag.ID, TagName: tag.Name}
	for _, u := range resp.Users {
		if u.ID != 0 {
			record.UserIDs = append(record.UserIDs, u.ID)
		}
	}
	return record, nil
}

// UserDetails fetches detail-family records for the given subjects in
// batches, keyed by user id.
func (c *Client) UserDetails(ctx context.Context, userIDs []int64) (map[int64]models.UserDetail, error) {
	details := make(map[int64]models.UserDetail, len(userIDs))

	for start := 0; start < len(userIDs); start += DetailBatchSize {
		end := start + DetailBatchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}
		batch := userIDs[start:end]

		ids := make([]string, 0, len(batch))
		for _, id := range batch {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		endpoint := "/users/" + strings.Join(ids, ";")

		payload, err := c.cached(ctx, client.FamilyDetail, endpoint, 0, nil)
		if err != nil {
			return nil, err
		}

		var env client.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("decode detail envelope: %w", err)
		}
		for _, raw := range env.Items {
			var d models.UserDetail
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("decode user detail: %w", err)
			}
			if d.UserID != 0 {
				details[d.UserID] = d
			}
		}
	}

	return details, nil
}

// collection builds a walker over one paginated primary-family endpoint.
func collection[T any](c *Client, endpoint string, subjectID int64, base url.Values) *pagination.Walker[T] {
	return pagination.NewWalker(endpoint, func(ctx context.Context, page int) ([]T, bool, error) {
		query := url.Values{}
		for k, vs := range base {
			query[k] = vs
		}
		query.Set("page", strconv.Itoa(page))
		query.Set("pageSize", strconv.Itoa(c.pageSize))
		if c.window.Bounded {
			query.Set("fromdate", strconv.FormatInt(c.window.FromEpoch(), 10))
			query.Set("todate", strconv.FormatInt(c.window.ToEpoch(), 10))
		}

		payload, err := c.cached(ctx, client.FamilyPrimary, endpoint, subjectID, query)
		if err != nil {
			return nil, false, err
		}

		var env client.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, false, fmt.Errorf("decode %s envelope: %w", endpoint, err)
		}

		items := make([]T, 0, len(env.Items))
		for _, raw := range env.Items {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, false, fmt.Errorf("decode %s item: %w", endpoint, err)
			}
			items = append(items, item)
		}
		return items, env.HasMore, nil
	})
}

// cached routes one fetch through the run cache.
func (c *Client) cached(ctx context.Context, family client.Family, endpoint string, subjectID int64, query url.Values) (json.RawMessage, error) {
	key := cache.Key{Family: string(family), Endpoint: endpoint, SubjectID: subjectID, Params: query}
	entry, err := c.cache.GetOrFetch(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		return c.exec.GetRaw(ctx, family, endpoint, query)
	})
	if err != nil {
		return nil, err
	}
	return entry.Payload, nil
}

// Calls reports completed call attempts per endpoint family.
func (c *Client) Calls() (primary, detail int64) {
	return c.exec.Calls()
}

// CacheSize reports how many distinct fetches the run cache holds.
func (c *Client) CacheSize() int {
	return c.cache.Len()
}
