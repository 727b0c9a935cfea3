package store

import (
	"context"
	"time"
)

// DefaultHistoryLimit caps ListByUser when no limit is given.
const DefaultHistoryLimit = 50

// LearningResource is one suggested study item attached to a diagnosis.
type LearningResource struct {
	Title     string `json:"title"`
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	Content   string `json:"content,omitempty"`
	Relevance string `json:"relevance"`
}

// Diagnosis is one persisted diagnostic record.
type Diagnosis struct {
	ID                   int64              `json:"id"`
	SessionID            string             `json:"sessionId"`
	UserID               string             `json:"userId"`
	ConceptName          string             `json:"conceptName"`
	UserExplanation      string             `json:"userExplanation"`
	RootCause            string             `json:"rootCause"`
	Confidence           int                `json:"confidence"`
	RepairQuestion       string             `json:"repairQuestion"`
	MissingPrerequisites []string           `json:"missingPrerequisites"`
	LearningResources    []LearningResource `json:"learningResources"`
	KnowledgeCoverage    int                `json:"knowledgeCoverage"`
	CreatedAt            time.Time          `json:"createdAt"`
}

// DiagnosisRepo persists diagnostic records.
type DiagnosisRepo interface {
	// Create inserts d and fills in its ID and CreatedAt.
	Create(ctx context.Context, d *Diagnosis) error

	// ListBySession returns a session's records oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]*Diagnosis, error)

	// ListByUser returns a user's most recent records, newest first.
	// A limit <= 0 means DefaultHistoryLimit.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Diagnosis, error)

	// Delete removes the record with id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id int64) error
}

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit   int       // max results (0 = unlimited)
	Purpose string    // exact purpose match when set
	After   int64     // id > After
	Before  int64     // id < Before
	From    time.Time // created_at >= From
	To      time.Time // created_at <= To
}

// LLMRequestEventData captures a single model request.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// LLMRequestEvent is a stored model request.
type LLMRequestEvent struct {
	ID        int64
	Timestamp time.Time
	LLMRequestEventData
}

// PurposeUsage aggregates token usage for one purpose.
type PurposeUsage struct {
	Purpose      string
	Calls        int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int64
}

// ModelUsage aggregates token usage for one model.
type ModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
}

// LLMEventRepo records and queries model requests.
type LLMEventRepo interface {
	// AppendLLMRequest records a model API call.
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error

	// QueryLLMEvents returns events newest first.
	QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]*LLMRequestEvent, error)

	// GetLLMEvent returns the event with id, or nil if it does not exist.
	GetLLMEvent(ctx context.Context, id int64) (*LLMRequestEvent, error)

	LLMUsageByPurpose(ctx context.Context) ([]PurposeUsage, error)
	LLMUsageByModel(ctx context.Context) ([]ModelUsage, error)
}
