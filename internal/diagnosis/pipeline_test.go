package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/abhisek/learndebug/internal/extract"
	"github.com/abhisek/learndebug/internal/llm"
	"github.com/abhisek/learndebug/internal/store"
)

const validAnalysis = `{
	"root_cause": "missed state management",
	"confidence": 35,
	"repair_question": "Where does the counter value live between renders?",
	"missing_prerequisites": ["Component lifecycle: renders re-run the function"],
	"learning_resources": [
		{"title": "State: A Component's Memory", "type": "article", "url": "https://react.dev/learn/state-a-components-memory", "relevance": "Explains why local variables reset"},
		{"title": "useState in 100 seconds", "type": "video", "url": "https://www.google.com/search?q=useState", "relevance": "Quick visual of the hook"}
	],
	"knowledge_coverage": 40,
	"inferred_concept": "React State"
}`

func openStore(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fastInvokerConfig() InvokerConfig {
	cfg := DefaultInvokerConfig()
	cfg.Retry.InitialWait = time.Millisecond
	cfg.Retry.MaxWait = time.Millisecond
	cfg.Timeout = 5 * time.Second
	return cfg
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObservePipeline(outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func newTestPipeline(t *testing.T, repo store.DiagnosisRepo, responses ...llm.MockResponse) (*Pipeline, *llm.MockProvider, *recordingObserver) {
	t.Helper()
	mock := llm.NewMockProvider(responses...)
	obs := &recordingObserver{}
	p := NewPipeline(Deps{
		Invoker:  NewInvoker(mock, fastInvokerConfig(), nil),
		Store:    repo,
		Observer: obs,
	})
	return p, mock, obs
}

func okResponse(content string) llm.MockResponse {
	return llm.MockResponse{Content: json.RawMessage(content)}
}

func TestPipeline_FirstTurnCreatesSession(t *testing.T) {
	s := openStore(t)
	p, mock, obs := newTestPipeline(t, s.Diagnoses(), okResponse(validAnalysis), okResponse(validAnalysis))
	ctx := context.Background()

	res1, err := p.Run(ctx, Input{UserExplanation: "state is just a variable", UserID: "u1", SessionID: "undefined"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res2, err := p.Run(ctx, Input{UserExplanation: "state is just a variable", UserID: "u1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res1.SessionID == "" || res1.SessionID == "undefined" || res1.SessionID == res2.SessionID {
		t.Fatalf("expected fresh session ids, got %q and %q", res1.SessionID, res2.SessionID)
	}
	if res1.ConceptName != "React State" {
		t.Errorf("concept = %q, want inferred React State", res1.ConceptName)
	}
	if res1.DiagnosisID == 0 || res1.Timestamp.IsZero() {
		t.Errorf("missing server-assigned fields: %+v", res1)
	}
	if res1.Confidence != 35 || res1.KnowledgeCoverage != 40 || len(res1.LearningResources) != 2 {
		t.Errorf("unexpected analysis: %+v", res1.Analysis)
	}

	rows, err := s.Diagnoses().ListBySession(ctx, res1.SessionID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != res1.DiagnosisID || rows[0].UserExplanation != "state is just a variable" {
		t.Fatalf("unexpected stored rows: %+v", rows)
	}

	req, _ := mock.LastCall()
	if req.System != systemPrompt || req.Schema != AnalysisSchema {
		t.Errorf("request missing protocol or schema")
	}
	if !strings.Contains(req.Messages[0].Content, inferConceptPlaceholder) {
		t.Errorf("expected concept inference request:\n%s", req.Messages[0].Content)
	}
	if len(obs.outcomes) != 2 || obs.outcomes[0] != "success" {
		t.Errorf("observations = %v", obs.outcomes)
	}
}

func TestPipeline_FollowUpSeesPriorTurn(t *testing.T) {
	s := openStore(t)
	improved := strings.Replace(validAnalysis, `"confidence": 35`, `"confidence": 92`, 1)
	p, mock, _ := newTestPipeline(t, s.Diagnoses(), okResponse(validAnalysis), okResponse(improved))
	ctx := context.Background()

	first, err := p.Run(ctx, Input{ConceptName: "React State", UserExplanation: "state is just a variable", UserID: "u1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, err := p.Run(ctx, Input{
		ConceptName:     "React State",
		UserExplanation: "useState keeps the value between renders",
		UserID:          "u1",
		SessionID:       first.SessionID,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session changed: %q -> %q", first.SessionID, second.SessionID)
	}
	if second.ConceptName != "React State" || second.Confidence != 92 {
		t.Fatalf("unexpected result: %+v", second)
	}

	req, _ := mock.LastCall()
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, `Root Cause="missed state management", Confidence=35%`) {
		t.Fatalf("prompt missing prior verdict:\n%s", prompt)
	}
	if strings.Count(prompt, "[Turn ") != 1 {
		t.Fatalf("expected exactly one prior turn:\n%s", prompt)
	}

	rows, err := s.Diagnoses().ListBySession(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != first.DiagnosisID || rows[1].ID != second.DiagnosisID {
		t.Fatalf("unexpected session transcript: %+v", rows)
	}
}

func TestPipeline_ConceptFallback(t *testing.T) {
	s := openStore(t)
	noConcept := `{"root_cause":"x","confidence":10,"repair_question":"q","knowledge_coverage":5}`
	p, _, _ := newTestPipeline(t, s.Diagnoses(), okResponse(noConcept))

	res, err := p.Run(context.Background(), Input{UserExplanation: "???", UserID: "u1", ConceptName: "null"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ConceptName != UnknownConcept {
		t.Fatalf("concept = %q, want %q", res.ConceptName, UnknownConcept)
	}
	if res.LearningResources == nil || res.MissingPrerequisites == nil {
		t.Fatalf("lists must default to empty: %+v", res.Analysis)
	}
}

func TestPipeline_RateLimitExhaustionStoresNothing(t *testing.T) {
	s := openStore(t)
	var responses []llm.MockResponse
	for range 4 {
		responses = append(responses, llm.MockResponse{Err: &llm.ErrRateLimit{Err: errors.New("429 RESOURCE_EXHAUSTED")}})
	}
	responses = append(responses, okResponse(validAnalysis))
	p, mock, obs := newTestPipeline(t, s.Diagnoses(), responses...)

	_, err := p.Run(context.Background(), Input{UserExplanation: "x", UserID: "u1", SessionID: "s-rl"})
	if KindOf(err) != KindRateLimited {
		t.Fatalf("kind = %q, want %q (err=%v)", KindOf(err), KindRateLimited, err)
	}
	if mock.CallCount() != 4 {
		t.Fatalf("calls = %d, want 4", mock.CallCount())
	}

	rows, err := s.Diagnoses().ListByUser(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != string(KindRateLimited) {
		t.Fatalf("observations = %v", obs.outcomes)
	}
}

func TestPipeline_ProviderFailuresAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"unavailable", &llm.ErrProviderUnavailable{Err: errors.New("503")}, KindUnavailable},
		{"failed", &llm.ErrProviderFailed{StatusCode: 500, Err: errors.New("boom")}, KindFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStore(t)
			responses := []llm.MockResponse{{Err: tt.err}, {Err: tt.err}, {Err: tt.err}, {Err: tt.err}}
			p, _, _ := newTestPipeline(t, s.Diagnoses(), responses...)
			_, err := p.Run(context.Background(), Input{UserExplanation: "x", UserID: "u1"})
			if KindOf(err) != tt.want {
				t.Fatalf("kind = %q, want %q", KindOf(err), tt.want)
			}
		})
	}
}

func TestPipeline_RecoversAfterTransientFailure(t *testing.T) {
	s := openStore(t)
	p, mock, _ := newTestPipeline(t, s.Diagnoses(),
		llm.MockResponse{Err: &llm.ErrProviderUnavailable{}},
		okResponse(validAnalysis),
	)
	if _, err := p.Run(context.Background(), Input{UserExplanation: "x", UserID: "u1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("calls = %d, want 2", mock.CallCount())
	}
}

func TestPipeline_MalformedResponseIsNotRetried(t *testing.T) {
	s := openStore(t)
	p, mock, _ := newTestPipeline(t, s.Diagnoses(), okResponse(`"not an object"`), okResponse(validAnalysis))

	_, err := p.Run(context.Background(), Input{UserExplanation: "x", UserID: "u1", SessionID: "s-bad"})
	if KindOf(err) != KindMalformedResponse {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindMalformedResponse)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("calls = %d, want 1", mock.CallCount())
	}
	rows, _ := s.Diagnoses().ListBySession(context.Background(), "s-bad")
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestPipeline_InputValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		field string
		msg   string
	}{
		{"missing explanation", Input{UserID: "u1"}, "user_explanation", "Explanation is required"},
		{"blank explanation", Input{UserID: "u1", UserExplanation: "   "}, "user_explanation", "Explanation is required"},
		{"missing user", Input{UserExplanation: "x"}, "user_id", "User ID is required"},
		{"undefined user", Input{UserExplanation: "x", UserID: "undefined"}, "user_id", "User ID is required"},
		{"null user", Input{UserExplanation: "x", UserID: " null "}, "user_id", "User ID is required"},
		{"undefined explanation", Input{UserID: "u1", UserExplanation: "undefined"}, "user_explanation", "Explanation is required"},
		{"null explanation", Input{UserID: "u1", UserExplanation: "null"}, "user_explanation", "Explanation is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock, _ := newTestPipeline(t, nil, okResponse(validAnalysis))
			_, err := p.Run(context.Background(), tt.in)
			var de *Error
			if !errors.As(err, &de) || de.Kind != KindInputValidation {
				t.Fatalf("expected input validation error, got %v", err)
			}
			if de.Field != tt.field || de.Err.Error() != tt.msg {
				t.Fatalf("got field=%q msg=%q", de.Field, de.Err.Error())
			}
			if mock.CallCount() != 0 {
				t.Fatal("model must not be called for invalid input")
			}
		})
	}
}

type failingRepo struct {
	store.DiagnosisRepo
}

func (failingRepo) ListBySession(context.Context, string) ([]*store.Diagnosis, error) {
	return nil, nil
}

func (failingRepo) Create(context.Context, *store.Diagnosis) error {
	return errors.New("disk full")
}

func TestPipeline_PersistenceFailureKeepsAnalysis(t *testing.T) {
	p, _, _ := newTestPipeline(t, failingRepo{}, okResponse(validAnalysis))

	res, err := p.Run(context.Background(), Input{UserExplanation: "x", UserID: "u1"})
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if de.Analysis == nil || de.Analysis.RootCause != "missed state management" {
		t.Fatalf("analysis not carried on persistence error: %+v", de.Analysis)
	}
}

func TestPipeline_InlineAttachmentReachesModel(t *testing.T) {
	s := openStore(t)
	p, mock, _ := newTestPipeline(t, s.Diagnoses(), okResponse(validAnalysis))

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	_, err := p.Run(context.Background(), Input{
		UserExplanation: "see diagram",
		UserID:          "u1",
		Attachment:      &extract.Attachment{Filename: "diagram.png", MediaType: "image/png", Data: png},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	req, _ := mock.LastCall()
	msg := req.Messages[0]
	if len(msg.Attachments) != 1 || msg.Attachments[0].MIMEType != "image/png" {
		t.Fatalf("attachment not forwarded: %+v", msg.Attachments)
	}
	if !strings.Contains(msg.Content, "[Attached File: diagram.png (image/png)]") {
		t.Fatalf("attachment note missing:\n%s", msg.Content)
	}
}
