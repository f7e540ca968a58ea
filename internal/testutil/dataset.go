package testutil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/stacktools/teams-harvester/pkg/models"
)

// DetailPathPrefix is the path prefix tests mount the detail endpoint
// family under, so one server can play both families:
//
//	cfg.DetailBaseURL = mock.URL() + testutil.DetailPathPrefix
const DetailPathPrefix = "/detail"

// Dataset is a canned upstream state served by MockAPI. All collection
// endpoints paginate it with the request's page and pageSize parameters.
type Dataset struct {
	Users     []models.User
	Details   map[int64]models.UserDetail
	Questions []models.Question
	Answers   []models.Answer
	Articles  []models.Article

	// Experts maps tag id to the user ids recognized as experts.
	Experts map[int64][]int64
}

// Handle answers one request from the dataset. Reports false when the path
// is not a dataset route. Exposed so tests can wrap it with failure
// injection.
func (ds *Dataset) Handle(w http.ResponseWriter, r *http.Request) bool {
	path := r.URL.Path

	if rest, ok := strings.CutPrefix(path, DetailPathPrefix+"/users/"); ok {
		ds.serveDetails(w, r, rest)
		return true
	}

	switch {
	case path == "/users":
		writePage(w, r, marshalAll(ds.Users))

	case strings.HasPrefix(path, "/users/"):
		id := parseID(strings.TrimPrefix(path, "/users/"))
		for _, u := range ds.Users {
			if u.ID == id {
				WriteJSON(w, u)
				return true
			}
		}
		http.NotFound(w, r)

	case path == "/questions":
		writePage(w, r, marshalAll(ds.questionsFor(r)))

	case strings.HasPrefix(path, "/questions/") && strings.HasSuffix(path, "/answers"):
		qid := parseID(strings.TrimSuffix(strings.TrimPrefix(path, "/questions/"), "/answers"))
		var answers []models.Answer
		for _, a := range ds.Answers {
			if a.QuestionID == qid {
				answers = append(answers, a)
			}
		}
		writePage(w, r, marshalAll(answers))

	case path == "/answers":
		author := parseID(r.URL.Query().Get("authorId"))
		var answers []models.Answer
		for _, a := range ds.Answers {
			if a.Owner.ID == author {
				answers = append(answers, a)
			}
		}
		writePage(w, r, marshalAll(answers))

	case path == "/articles":
		author := parseID(r.URL.Query().Get("authorId"))
		var articles []models.Article
		for _, a := range ds.Articles {
			if a.Owner.ID == author {
				articles = append(articles, a)
			}
		}
		writePage(w, r, marshalAll(articles))

	case strings.HasPrefix(path, "/tags/") && strings.HasSuffix(path, "/subject-matter-experts"):
		tagID := parseID(strings.TrimSuffix(strings.TrimPrefix(path, "/tags/"), "/subject-matter-experts"))
		users := make([]models.UserRef, 0)
		for _, id := range ds.Experts[tagID] {
			users = append(users, models.UserRef{ID: id})
		}
		WriteJSON(w, models.SMEResponse{Users: users})

	default:
		return false
	}
	return true
}

func (ds *Dataset) questionsFor(r *http.Request) []models.Question {
	author := r.URL.Query().Get("authorId")
	if author == "" {
		return ds.Questions
	}
	id := parseID(author)
	var out []models.Question
	for _, q := range ds.Questions {
		if q.Owner.ID == id {
			out = append(out, q)
		}
	}
	return out
}

func (ds *Dataset) serveDetails(w http.ResponseWriter, r *http.Request, rest string) {
	var items []string
	for _, part := range strings.Split(rest, ";") {
		if d, ok := ds.Details[parseID(part)]; ok {
			raw, _ := json.Marshal(d)
			items = append(items, string(raw))
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(Envelope(items, false)))
}

// writePage slices the marshaled items by the request's page parameters and
// writes one envelope.
func writePage(w http.ResponseWriter, r *http.Request, items []string) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 {
		pageSize = 100
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(Envelope(items[start:end], end < len(items))))
}

func marshalAll[T any](items []T) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		raw, _ := json.Marshal(item)
		out = append(out, string(raw))
	}
	return out
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
