package models

// Composite output records. Field names follow the downstream reporting
// schema, which is why they deviate from Go naming conventions.

// OwnerSummary is the owner block embedded in composite records.
type OwnerSummary struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"account_id"`
	Name       string `json:"display_name"`
	Reputation int    `json:"reputation"`
	Role       string `json:"role"`
	IsSME      bool   `json:"Is_SME"`
}

// AcceptedAnswerSummary describes a question's accepted answer inside a
// composite record.
type AcceptedAnswerSummary struct {
	AnswerID     int64        `json:"answer_id"`
	CreationDate int64        `json:"creation_date"`
	Score        int          `json:"score"`
	Owner        OwnerSummary `json:"owner"`
}

// QuestionSummary is a question as it appears inside a subject record.
type QuestionSummary struct {
	QuestionID        int64                  `json:"question_id"`
	Title             string                 `json:"title"`
	Tags              []string               `json:"tags"`
	CreationDate      int64                  `json:"creation_date"`
	Score             int                    `json:"score"`
	ViewCount         int                    `json:"view_count"`
	AnswerCount       int                    `json:"answer_count"`
	IsAnswered        bool                   `json:"is_answered"`
	HasAcceptedAnswer bool                   `json:"has_accepted_answer"`
	AcceptedAnswer    *AcceptedAnswerSummary `json:"accepted_answer"`
}

// AnswerSummary is an answer given by the subject.
type AnswerSummary struct {
	AnswerID     int64        `json:"answer_id"`
	QuestionID   int64        `json:"question_id"`
	Score        int          `json:"score"`
	IsAccepted   bool         `json:"is_accepted"`
	CreationDate int64        `json:"creation_date"`
	CommentCount int          `json:"comment_count"`
	Owner        OwnerSummary `json:"owner"`
}

// ArticleSummary is an article written by the subject.
type ArticleSummary struct {
	ArticleID        int64    `json:"article_id"`
	Type             string   `json:"type"`
	Title            string   `json:"title"`
	Tags             []string `json:"tags"`
	CreationDate     int64    `json:"creation_date"`
	LastActivityDate int64    `json:"last_activity_date"`
	Score            int      `json:"score"`
	ViewCount        int      `json:"view_count"`
}

// SubjectRecord is the subject-centric composite output: one fully resolved
// subject with profile, activity counters, expertise, and owned content.
// Partial subjects are never emitted.
type SubjectRecord struct {
	UserID      int64  `json:"User_ID"`
	DisplayName string `json:"DisplayName"`
	AccountID   int64  `json:"Account_ID"`
	Title       string `json:"Title"`
	Department  string `json:"Department"`
	Location    string `json:"Location"`
	UserType    string `json:"User_Type"`

	Reputation           int   `json:"Reputation"`
	AccountLongevityDays int   `json:"Account_Longevity_Days"`
	JoinedEpoch          int64 `json:"Joined_UTC"`
	LastSeenEpoch        int64 `json:"Last_Login_Date"`
	TenureDays           int   `json:"Tenure_Days"`

	TotalQuestionsAsked          int `json:"Total_Questions_Asked"`
	TotalQuestionsNoAnswers      int `json:"Total_Questions_No_Answers"`
	QuestionsWithAcceptedAnswers int `json:"Questions_With_Accepted_Answers"`
	TotalAnswersGiven            int `json:"Total_Answers_Given"`
	AcceptedAnswersGiven         int `json:"Accepted_Answers_Given"`
	TotalAnswerScore             int `json:"Total_Answer_Score"`

	TotalArticlesWritten int `json:"Total_Articles_Written"`
	TotalArticleViews    int `json:"Total_Article_Views"`
	TotalArticleScore    int `json:"Total_Article_Score"`

	IsSME   bool     `json:"Is_SME"`
	SMETags []string `json:"SME_Tags"`

	Questions []QuestionSummary `json:"Questions"`
	Answers   []AnswerSummary   `json:"Answers"`
	Articles  []ArticleSummary  `json:"Articles"`
}

// ContentRecord is the content-centric composite output: one question with
// its resolved owner and accepted answer.
type ContentRecord struct {
	QuestionID        int64                  `json:"question_id"`
	Title             string                 `json:"title"`
	Tags              []string               `json:"tags"`
	CreationDate      int64                  `json:"creation_date"`
	Score             int                    `json:"score"`
	ViewCount         int                    `json:"view_count"`
	AnswerCount       int                    `json:"answer_count"`
	IsAnswered        bool                   `json:"is_answered"`
	HasAcceptedAnswer bool                   `json:"has_accepted_answer"`
	Owner             OwnerSummary           `json:"owner"`
	AcceptedAnswer    *AcceptedAnswerSummary `json:"accepted_answer"`
}

// TagNames flattens a tag list to its names, preserving order.
func TagNames(tags []Tag) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}
