package diagnosis

import (
	"time"

	"github.com/abhisek/learndebug/internal/extract"
	"github.com/abhisek/learndebug/internal/store"
)

// UnknownConcept is stored when neither the learner nor the model names
// the concept.
const UnknownConcept = "Unknown Concept"

// Learning resource types. Anything else the model returns is coerced
// to ResourceArticle.
const (
	ResourceArticle = "article"
	ResourceVideo   = "video"
	ResourceText    = "text"
	ResourceCourse  = "course"
)

// Input is one learner turn.
type Input struct {
	ConceptName     string              `form:"concept_name"`
	UserExplanation string              `form:"user_explanation" validate:"notblank"`
	SessionID       string              `form:"session_id"`
	UserID          string              `form:"user_id" validate:"notblank"`
	Attachment      *extract.Attachment `form:"-"`
}

// Analysis is the normalized model verdict for one turn.
type Analysis struct {
	RootCause            string                   `json:"root_cause"`
	Confidence           int                      `json:"confidence"`
	RepairQuestion       string                   `json:"repair_question"`
	MissingPrerequisites []string                 `json:"missing_prerequisites"`
	LearningResources    []store.LearningResource `json:"learning_resources"`
	KnowledgeCoverage    int                      `json:"knowledge_coverage"`
	InferredConcept      string                   `json:"inferred_concept,omitempty"`
}

// Result is what a successful pipeline run returns to the caller.
type Result struct {
	Analysis
	ConceptName string    `json:"concept_name"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DiagnosisID int64     `json:"diagnosis_id"`
	Timestamp   time.Time `json:"timestamp"`
}
