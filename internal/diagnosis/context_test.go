package diagnosis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/abhisek/learndebug/internal/extract"
	"github.com/abhisek/learndebug/internal/store"
)

type fakeHistory struct {
	rows  []*store.Diagnosis
	err   error
	asked []string
}

func (f *fakeHistory) ListBySession(_ context.Context, sessionID string) ([]*store.Diagnosis, error) {
	f.asked = append(f.asked, sessionID)
	return f.rows, f.err
}

func TestAssemble_FirstTurnWithoutSession(t *testing.T) {
	history := &fakeHistory{}
	a := NewAssembler(history, nil)

	p, err := a.Assemble(context.Background(), &Input{UserExplanation: "Recursion calls itself forever"}, extract.Resource{Kind: extract.KindEmpty})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	want := "Concept: [Please Infer from explanation and file]\nStudent Explanation: Recursion calls itself forever"
	if p.Text != want {
		t.Fatalf("prompt = %q, want %q", p.Text, want)
	}
	if len(history.asked) != 0 {
		t.Fatalf("history read without a session: %v", history.asked)
	}
	if p.PriorTurns != 0 || len(p.Attachments) != 0 {
		t.Fatalf("unexpected prompt: %+v", p)
	}
}

func TestAssemble_FirstTurnWithConcept(t *testing.T) {
	a := NewAssembler(&fakeHistory{}, nil)
	p, err := a.Assemble(context.Background(), &Input{ConceptName: "Recursion", UserExplanation: "x", SessionID: "new-session"}, extract.Resource{})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if p.Text != "Concept: Recursion\nStudent Explanation: x" {
		t.Fatalf("prompt = %q", p.Text)
	}
}

func TestAssemble_HistoryInOrder(t *testing.T) {
	history := &fakeHistory{rows: []*store.Diagnosis{
		{UserExplanation: "first try", RootCause: "missed state management", Confidence: 35},
		{UserExplanation: "second try", RootCause: "confuses props and state", Confidence: 55},
	}}
	a := NewAssembler(history, nil)

	p, err := a.Assemble(context.Background(), &Input{SessionID: "s1", UserExplanation: "state persists between renders via useState"}, extract.Resource{})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if p.PriorTurns != 2 {
		t.Fatalf("prior turns = %d, want 2", p.PriorTurns)
	}

	turn1 := `[Turn 1] Student thought: "first try". AI Diagnosis: Root Cause="missed state management", Confidence=35%`
	turn2 := `[Turn 2] Student thought: "second try". AI Diagnosis: Root Cause="confuses props and state", Confidence=55%`
	current := `[Current Turn] Student now says: "state persists between renders via useState"`

	i1, i2, ic := strings.Index(p.Text, turn1), strings.Index(p.Text, turn2), strings.Index(p.Text, current)
	if i1 < 0 || i2 < 0 || ic < 0 {
		t.Fatalf("prompt missing turns:\n%s", p.Text)
	}
	if !(i1 < i2 && i2 < ic) {
		t.Fatalf("turns out of order:\n%s", p.Text)
	}
	if strings.Count(p.Text, "[Turn ") != 2 {
		t.Fatalf("current turn rendered as prior:\n%s", p.Text)
	}
	if !strings.HasPrefix(p.Text, "SESSION HISTORY:\n") {
		t.Fatalf("missing history header:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "TASK: Analyze the [Current Turn] based on the history.") {
		t.Fatalf("missing task line:\n%s", p.Text)
	}
}

func TestAssemble_EmptySessionIsFirstTurn(t *testing.T) {
	a := NewAssembler(&fakeHistory{}, nil)
	p, err := a.Assemble(context.Background(), &Input{SessionID: "client-made", UserExplanation: "x"}, extract.Resource{})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if strings.Contains(p.Text, "SESSION HISTORY") {
		t.Fatalf("unexpected history framing:\n%s", p.Text)
	}
}

func TestAssemble_HistoryFailureDegrades(t *testing.T) {
	a := NewAssembler(&fakeHistory{err: errors.New("connection reset")}, nil)
	p, err := a.Assemble(context.Background(), &Input{SessionID: "s1", UserExplanation: "x"}, extract.Resource{})
	if err != nil {
		t.Fatalf("Assemble should not fail on history errors: %v", err)
	}
	if p.PriorTurns != 0 || strings.Contains(p.Text, "SESSION HISTORY") {
		t.Fatalf("expected first-turn prompt, got:\n%s", p.Text)
	}
}

func TestAssemble_Attachments(t *testing.T) {
	a := NewAssembler(nil, nil)

	inline := extract.Resource{Kind: extract.KindInline, Filename: "graph.png", MediaType: "image/png", Data: []byte("png")}
	p, err := a.Assemble(context.Background(), &Input{UserExplanation: "x"}, inline)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !strings.HasSuffix(p.Text, "\n\n[Attached File: graph.png (image/png)]") {
		t.Fatalf("missing attachment note:\n%s", p.Text)
	}
	if len(p.Attachments) != 1 || p.Attachments[0].MIMEType != "image/png" || string(p.Attachments[0].Data) != "png" {
		t.Fatalf("unexpected attachments: %+v", p.Attachments)
	}

	text := extract.Resource{Kind: extract.KindText, Filename: "essay.docx", Text: "body"}
	p, err = a.Assemble(context.Background(), &Input{UserExplanation: "x"}, text)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !strings.HasSuffix(p.Text, "[Attached File Content (essay.docx)]:\nbody\n[End of File Content]") {
		t.Fatalf("missing extracted text:\n%s", p.Text)
	}
	if len(p.Attachments) != 0 {
		t.Fatalf("text resource must not be sent inline")
	}
}
