package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stacktools/teams-harvester/internal/testutil"
	"github.com/stacktools/teams-harvester/pkg/aggregate"
	"github.com/stacktools/teams-harvester/pkg/api"
	"github.com/stacktools/teams-harvester/pkg/cache"
	"github.com/stacktools/teams-harvester/pkg/client"
	"github.com/stacktools/teams-harvester/pkg/models"
	"github.com/stacktools/teams-harvester/pkg/ratelimit"
	"github.com/stacktools/teams-harvester/pkg/timewindow"
)

// newEngine wires the full stack against the mock server.
func newEngine(t *testing.T, mock *testutil.MockAPI, mode aggregate.Mode) *aggregate.Aggregator {
	t.Helper()

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		BurstLimit:     40,
		BurstWindow:    time.Second,
		BucketCapacity: 5000,
		RefillTokens:   100,
		RefillInterval: time.Minute,
	}, zerolog.Nop())

	cfg := client.DefaultConfig(mock.URL(), "test-token")
	cfg.DetailBaseURL = mock.URL() + testutil.DetailPathPrefix
	exec, err := client.New(cfg, limiter)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	source := api.New(exec, cache.NewStore(), timewindow.Window{})
	return aggregate.New(source, aggregate.Config{
		Mode:          mode,
		Concurrency:   4,
		ReferenceTime: time.Unix(1700000000, 0).UTC(),
	})
}

func fixture() *testutil.Dataset {
	goTag := models.Tag{ID: 5, Name: "go"}
	sqlTag := models.Tag{ID: 6, Name: "sql"}
	return &testutil.Dataset{
		Users: []models.User{
			{ID: 1, AccountID: 11, Name: "Ada", Reputation: 900, Role: "Moderator", JobTitle: "Engineer", CreationDate: 1600000000},
			{ID: 2, AccountID: 22, Name: "Ben", Reputation: 150, Role: "Registered", CreationDate: 1650000000},
			{ID: 3, AccountID: 33, Name: "Cleo", Reputation: 40, Role: "Registered", CreationDate: 1660000000},
		},
		Details: map[int64]models.UserDetail{
			1: {UserID: 1, AccountID: 11, DisplayName: "Ada", CreationDate: 1600000000, LastAccessDate: 1686400000},
			2: {UserID: 2, AccountID: 22, DisplayName: "Ben", CreationDate: 1650000000, LastAccessDate: 1690000000},
			3: {UserID: 3, AccountID: 33, DisplayName: "Cleo", CreationDate: 1660000000, LastAccessDate: 1661000000},
		},
		Questions: []models.Question{
			{
				ID: 100, Title: "How to cache?", Owner: models.UserRef{ID: 1, Name: "Ada"},
				Tags: []models.Tag{goTag}, CreationDate: 1610000000,
				Score: 4, ViewCount: 120, AnswerCount: 2,
				IsAnswered: true, HasAcceptedAnswer: true,
			},
			{
				ID: 101, Title: "Index scans", Owner: models.UserRef{ID: 2, Name: "Ben"},
				Tags: []models.Tag{sqlTag}, AnswerCount: 0,
			},
		},
		Answers: []models.Answer{
			{ID: 200, QuestionID: 100, Owner: models.UserRef{ID: 2, Name: "Ben"}, IsAccepted: true, Score: 3, CreationDate: 1610001000},
			{ID: 201, QuestionID: 100, Owner: models.UserRef{ID: 3, Name: "Cleo"}, Score: 1},
		},
		Articles: []models.Article{
			{ID: 300, Title: "Caching patterns", Owner: models.UserRef{ID: 1}, Tags: []models.Tag{goTag}, Score: 7, ViewCount: 40},
		},
		Experts: map[int64][]int64{5: {1}, 6: {}},
	}
}

func TestHarvest_SubjectModeEndToEnd(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.Serve(fixture())

	engine := newEngine(t, mock, aggregate.ModeSubject)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Summary.Processed != 3 || result.Summary.Excluded != 0 {
		t.Fatalf("summary = %+v", result.Summary)
	}

	ada := result.Subjects[0]
	if ada.UserID != 1 {
		t.Fatalf("first subject = %d, want 1", ada.UserID)
	}
	if !ada.IsSME || len(ada.SMETags) != 1 || ada.SMETags[0] != "go" {
		t.Errorf("SME resolution: %v %v", ada.IsSME, ada.SMETags)
	}
	if ada.TotalQuestionsAsked != 1 || ada.QuestionsWithAcceptedAnswers != 1 {
		t.Errorf("counters: %+v", ada)
	}
	if ada.Questions[0].AcceptedAnswer == nil || ada.Questions[0].AcceptedAnswer.Owner.ID != 2 {
		t.Errorf("accepted answer = %+v", ada.Questions[0].AcceptedAnswer)
	}
	if ada.TenureDays != 1000 {
		t.Errorf("TenureDays = %d, want 1000", ada.TenureDays)
	}

	ben := result.Subjects[1]
	if ben.IsSME {
		t.Error("Ben must not be SME; the sql tag has no experts")
	}
	if ben.TotalAnswersGiven != 1 || ben.AcceptedAnswersGiven != 1 {
		t.Errorf("Ben counters: %+v", ben)
	}

	if result.Summary.PrimaryCalls == 0 || result.Summary.DetailCalls == 0 {
		t.Errorf("call counters not tracked: %+v", result.Summary)
	}
	if result.Summary.CacheEntries == 0 {
		t.Error("run cache unused")
	}
}

func TestHarvest_PartialSubjectExcluded(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	ds := fixture()
	mock.Serve(ds)

	// Cleo's article stream keeps failing with a client error, which
	// exhausts its one-retry budget quickly.
	mock.SetHandler("/articles", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("authorId") == "3" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"malformed request"}`))
			return
		}
		ds.Handle(w, r)
	})

	engine := newEngine(t, mock, aggregate.ModeSubject)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Summary.Processed != 2 || result.Summary.Excluded != 1 {
		t.Fatalf("summary = %+v", result.Summary)
	}
	for _, s := range result.Subjects {
		if s.UserID == 3 {
			t.Error("partial subject 3 leaked into output")
		}
	}
	if got := result.Summary.FailureClasses["client_error"]; got != 1 {
		t.Errorf("FailureClasses = %v", result.Summary.FailureClasses)
	}
}

func TestHarvest_RecoversFromTransientRateLimit(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	ds := fixture()
	mock.Serve(ds)

	// First hit on the user stream is throttled with a short Retry-After;
	// the run must absorb it and still complete.
	mock.SetHandler("/users", testutil.FailNTimesWithHeaders(1, http.StatusTooManyRequests,
		map[string]string{"Retry-After": "1"},
		func(w http.ResponseWriter, r *http.Request) {
			ds.Handle(w, r)
		}))

	engine := newEngine(t, mock, aggregate.ModeSubject)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Summary.Processed != 3 {
		t.Errorf("processed = %d, want 3", result.Summary.Processed)
	}
}

func TestHarvest_AuthFailureAbortsImmediately(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/users", testutil.NewAuthErrorResponse())

	engine := newEngine(t, mock, aggregate.ModeSubject)
	_, err := engine.Run(context.Background())
	if !client.IsFatal(err) {
		t.Fatalf("error = %v, want fatal auth failure", err)
	}
	if got := mock.PathCount("/users"); got != 1 {
		t.Errorf("auth failure retried: %d requests", got)
	}
}

func TestHarvest_ContentModeEndToEnd(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.Serve(fixture())

	engine := newEngine(t, mock, aggregate.ModeContent)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Content) != 2 {
		t.Fatalf("got %d records, want 2", len(result.Content))
	}
	rec := result.Content[0]
	if rec.QuestionID != 100 || !rec.Owner.IsSME || rec.Owner.Name != "Ada" {
		t.Errorf("record = %+v", rec)
	}
	if rec.AcceptedAnswer == nil || rec.AcceptedAnswer.AnswerID != 200 {
		t.Errorf("accepted answer = %+v", rec.AcceptedAnswer)
	}
}

func TestHarvest_Idempotent(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.Serve(fixture())

	first, err := newEngine(t, mock, aggregate.ModeSubject).Run(context.Background())
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := newEngine(t, mock, aggregate.ModeSubject).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	a, _ := json.Marshal(first.Subjects)
	b, _ := json.Marshal(second.Subjects)
	if string(a) != string(b) {
		t.Error("two runs over an identical dataset produced different records")
	}
}

func TestHarvest_GracefulCancellation(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.Serve(fixture())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newEngine(t, mock, aggregate.ModeSubject).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v, want graceful result", err)
	}
	if !result.Summary.Cancelled {
		t.Error("Cancelled flag not set")
	}
}
