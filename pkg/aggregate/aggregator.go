// Package aggregate implements the scatter-gather harvesting engine. It
// fans out over subjects (or content items) with a bounded worker pool,
// joins the per-subject sub-fetches behind a barrier, and emits only fully
// resolved composite records plus a run summary.
package aggregate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/stacktools/teams-harvester/pkg/client"
	"github.com/stacktools/teams-harvester/pkg/models"
	"github.com/stacktools/teams-harvester/pkg/pagination"
)

// DefaultConcurrency bounds the worker pool when the config leaves it unset.
const DefaultConcurrency = 10

// Prometheus metrics for aggregation.
var (
	subjectsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_subjects_resolved_total",
		Help: "Subjects whose sub-fetches all resolved",
	})

	subjectsExcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_subjects_excluded_total",
		Help: "Subjects excluded from output by failure class",
	}, []string{"class"})

	acceptedConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_accepted_answer_conflicts_total",
		Help: "Questions reporting more than one accepted answer",
	})

	runDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_run_duration_seconds",
		Help: "Wall clock duration of the last harvesting run",
	})
)

// Mode selects which entity the run pivots on.
type Mode string

const (
	// ModeSubject harvests per user: profile, detail, owned content, and
	// expertise joined into one record per subject.
	ModeSubject Mode = "subject"

	// ModeContent harvests per question: owner and accepted answer joined
	// into one record per content item.
	ModeContent Mode = "content"
)

// Source is the typed endpoint surface the engine consumes. Implemented by
// api.Client; tests substitute their own.
type Source interface {
	Users() *pagination.Walker[models.User]
	Questions() *pagination.Walker[models.Question]
	QuestionsByAuthor(userID int64) *pagination.Walker[models.Question]
	AnswersForQuestion(questionID int64) *pagination.Walker[models.Answer]
	AnswersByAuthor(userID int64) *pagination.Walker[models.Answer]
	ArticlesByAuthor(userID int64) *pagination.Walker[models.Article]
	UserProfile(ctx context.Context, userID int64) (*models.User, error)
	UserDetails(ctx context.Context, userIDs []int64) (map[int64]models.UserDetail, error)
	SubjectMatterExperts(ctx context.Context, tag models.Tag) (models.ExpertiseRecord, error)
	Calls() (primary, detail int64)
	CacheSize() int
}

// Config holds the engine configuration.
type Config struct {
	// Mode selects subject-centric or content-centric harvesting.
	Mode Mode

	// Concurrency bounds the number of subjects resolved in parallel.
	Concurrency int

	// ReferenceTime anchors longevity computations. Pinning it keeps a run
	// reproducible for a fixed dataset.
	ReferenceTime time.Time
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeSubject,
		Concurrency:   DefaultConcurrency,
		ReferenceTime: time.Now().UTC(),
	}
}

// Exclusion records one entity dropped from the output and why.
type Exclusion struct {
	Kind   string            `json:"kind"`
	ID     int64             `json:"id"`
	Class  client.ErrorClass `json:"class"`
	Reason string            `json:"reason"`
}

// Summary describes one completed run.
type Summary struct {
	Mode           Mode           `json:"mode"`
	Processed      int            `json:"processed"`
	Excluded       int            `json:"excluded"`
	FailureClasses map[string]int `json:"failure_classes,omitempty"`
	Exclusions     []Exclusion    `json:"exclusions,omitempty"`
	PrimaryCalls   int64          `json:"primary_calls"`
	DetailCalls    int64          `json:"detail_calls"`
	CacheEntries   int            `json:"cache_entries"`
	Duration       time.Duration  `json:"duration"`

	// Truncated means the root entity stream failed partway; records from
	// pages emitted before the failure are still included.
	Truncated bool `json:"truncated,omitempty"`

	// Cancelled means the run was interrupted; the output holds only the
	// entities fully resolved before cancellation.
	Cancelled bool `json:"cancelled,omitempty"`
}

// Result is the output of one run. Exactly one of Subjects or Content is
// populated, matching the run mode.
type Result struct {
	Subjects []models.SubjectRecord `json:"subjects,omitempty"`
	Content  []models.ContentRecord `json:"content,omitempty"`
	Summary  Summary                `json:"summary"`
}

// Aggregator is the harvesting engine. One instance drives one run.
type Aggregator struct {
	src    Source
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	exclusions []Exclusion
}

// New creates an engine over the given source.
func New(src Source, cfg Config) *Aggregator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSubject
	}
	if cfg.ReferenceTime.IsZero() {
		cfg.ReferenceTime = time.Now().UTC()
	}
	return &Aggregator{
		src:    src,
		cfg:    cfg,
		logger: log.With().Str("component", "aggregator").Logger(),
	}
}

// Run executes one harvesting run to completion. It returns an error only
// for run-level failures (authentication, or a root stream that yielded
// nothing); per-entity failures become exclusions in the summary. On
// cancellation it returns the entities resolved so far with Cancelled set.
func (a *Aggregator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	a.logger.Info().
		Str("mode", string(a.cfg.Mode)).
		Int("concurrency", a.cfg.Concurrency).
		Msg("Harvesting run started")

	var result *Result
	var err error
	switch a.cfg.Mode {
	case ModeContent:
		result, err = a.runContent(ctx)
	default:
		result, err = a.runSubjects(ctx)
	}
	if err != nil {
		return nil, err
	}

	result.Summary.Mode = a.cfg.Mode
	result.Summary.Duration = time.Since(start)
	result.Summary.PrimaryCalls, result.Summary.DetailCalls = a.src.Calls()
	result.Summary.CacheEntries = a.src.CacheSize()
	runDuration.Set(result.Summary.Duration.Seconds())

	a.logger.Info().
		Int("processed", result.Summary.Processed).
		Int("excluded", result.Summary.Excluded).
		Int64("primary_calls", result.Summary.PrimaryCalls).
		Int64("detail_calls", result.Summary.DetailCalls).
		Dur("duration", result.Summary.Duration).
		Bool("cancelled", result.Summary.Cancelled).
		Msg("Harvesting run finished")

	return result, nil
}

// exclude records one dropped entity under the mutex.
func (a *Aggregator) exclude(kind string, id int64, err error) {
	class := client.ClassOf(err)
	if class == "" {
		class = client.ErrorClassNetwork
	}
	subjectsExcluded.WithLabelValues(string(class)).Inc()

	a.logger.Warn().
		Str("kind", kind).
		Int64("id", id).
		Str("error_class", string(class)).
		Err(err).
		Msg("Entity excluded from output")

	a.mu.Lock()
	a.exclusions = append(a.exclusions, Exclusion{
		Kind:   kind,
		ID:     id,
		Class:  class,
		Reason: err.Error(),
	})
	a.mu.Unlock()
}

// takeExclusions drains the recorded exclusions in deterministic order.
func (a *Aggregator) takeExclusions() ([]Exclusion, map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sort.Slice(a.exclusions, func(i, j int) bool {
		if a.exclusions[i].Kind != a.exclusions[j].Kind {
			return a.exclusions[i].Kind < a.exclusions[j].Kind
		}
		return a.exclusions[i].ID < a.exclusions[j].ID
	})

	classes := make(map[string]int)
	for _, e := range a.exclusions {
		classes[string(e.Class)]++
	}
	if len(classes) == 0 {
		classes = nil
	}
	return a.exclusions, classes
}

// interrupted reports whether err is the run's own cancellation rather than
// an upstream failure. Classified failures are never cancellation, even
// when a per-attempt timeout left context.DeadlineExceeded in the chain.
func interrupted(err error) bool {
	if errors.Is(err, client.ErrContextCancelled) {
		return true
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// fanOut resolves the collected roots with a bounded pool. resolve returns
// an error only for fatal failures or cancellation; everything else must be
// absorbed as an exclusion. Reports whether the run was cancelled.
func fanOut[T any](ctx context.Context, limit int, roots []T, resolve func(ctx context.Context, root T) error) (cancelled bool, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, root := range roots {
		root := root
		g.Go(func() error {
			return resolve(gctx, root)
		})
	}

	if err := g.Wait(); err != nil {
		if interrupted(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}
