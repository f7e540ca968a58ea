// Package models defines the typed records decoded at the API boundary and
// the composite records emitted after aggregation. Upstream payloads are
// decoded into these tagged types instead of propagating untyped maps.
package models

// UserRef is the embedded owner shape carried on content items.
type UserRef struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"accountId"`
	Name       string `json:"name"`
	Reputation int    `json:"reputation"`
	Role       string `json:"role"`
}

// User is a harvested subject from the primary user stream.
type User struct {
	ID           int64  `json:"id"`
	AccountID    int64  `json:"accountId"`
	Name         string `json:"name"`
	Reputation   int    `json:"reputation"`
	Role         string `json:"role"`
	JobTitle     string `json:"jobTitle"`
	Department   string `json:"department"`
	Location     string `json:"location"`
	CreationDate int64  `json:"creationDate"`
}

// UserDetail is the secondary-family profile record. It is the only source
// for join and last-seen timestamps; the primary stream lacks them.
type UserDetail struct {
	UserID         int64  `json:"user_id"`
	AccountID      int64  `json:"account_id"`
	DisplayName    string `json:"display_name"`
	Reputation     int    `json:"reputation"`
	Location       string `json:"location"`
	CreationDate   int64  `json:"creation_date"`
	LastAccessDate int64  `json:"last_access_date"`
}

// Tag is a content label; expertise records are keyed by tag.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Question is one content item of kind question.
type Question struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Tags              []Tag   `json:"tags"`
	Owner             UserRef `json:"owner"`
	CreationDate      int64   `json:"creationDate"`
	LastActivityDate  int64   `json:"lastActivityDate"`
	Score             int     `json:"score"`
	ViewCount         int     `json:"viewCount"`
	AnswerCount       int     `json:"answerCount"`
	IsAnswered        bool    `json:"isAnswered"`
	HasAcceptedAnswer bool    `json:"hasAcceptedAnswer"`
}

// Answer is one content item of kind answer, owned by its author and tied
// to its question.
type Answer struct {
	ID           int64   `json:"id"`
	QuestionID   int64   `json:"questionId"`
	Owner        UserRef `json:"owner"`
	CreationDate int64   `json:"creationDate"`
	Score        int     `json:"score"`
	IsAccepted   bool    `json:"isAccepted"`
	CommentCount int     `json:"commentCount"`
}

// Article is one content item of kind article.
type Article struct {
	ID               int64   `json:"id"`
	Type             string  `json:"type"`
	Title            string  `json:"title"`
	Tags             []Tag   `json:"tags"`
	Owner            UserRef `json:"owner"`
	CreationDate     int64   `json:"creationDate"`
	LastActivityDate int64   `json:"lastActivityDate"`
	Score            int     `json:"score"`
	ViewCount        int     `json:"viewCount"`
}

// SMEResponse is the wire shape of a per-tag subject-matter-expert lookup.
type SMEResponse struct {
	Users []UserRef `json:"users"`
}

// ExpertiseRecord maps one tag to the subjects recognized as experts for
// it. Read-only once fetched.
type ExpertiseRecord struct {
	TagID   int64
	TagName string
	UserIDs []int64
}

// HasUser reports whether the given subject is an expert for this tag.
func (r ExpertiseRecord) HasUser(userID int64) bool {
	for _, id := range r.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
