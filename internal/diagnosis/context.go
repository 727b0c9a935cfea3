package diagnosis

import (
	"context"
	"fmt"

	"github.com/abhisek/learndebug/internal/extract"
	"github.com/abhisek/learndebug/internal/llm"
	"github.com/abhisek/learndebug/internal/logger"
	"github.com/abhisek/learndebug/internal/store"
)

// HistoryReader reads prior turns of a session, oldest first.
type HistoryReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]*store.Diagnosis, error)
}

// Prompt is the assembled user content for one model call.
type Prompt struct {
	SessionID   string
	Text        string
	PriorTurns  int
	Attachments []llm.Attachment
}

// Assembler renders session history and the current turn into a prompt.
type Assembler struct {
	history HistoryReader
	log     *logger.Logger
}

// NewAssembler creates an Assembler. A nil history behaves as an empty
// store.
func NewAssembler(history HistoryReader, log *logger.Logger) *Assembler {
	if log == nil {
		log = logger.Nop()
	}
	return &Assembler{history: history, log: log}
}

// Assemble builds the prompt for in. History read failures degrade to a
// first-turn prompt.
func (a *Assembler) Assemble(ctx context.Context, in *Input, res extract.Resource) (*Prompt, error) {
	data := &promptData{
		Concept:     in.ConceptName,
		Explanation: in.UserExplanation,
		Turns:       a.priorTurns(ctx, in.SessionID),
		Note:        res.PromptNote(),
	}

	text, err := renderPrompt(data)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	p := &Prompt{SessionID: in.SessionID, Text: text, PriorTurns: len(data.Turns)}
	if res.Kind == extract.KindInline {
		p.Attachments = []llm.Attachment{{MIMEType: res.MediaType, Data: res.Data}}
	}
	return p, nil
}

func (a *Assembler) priorTurns(ctx context.Context, sessionID string) []*priorTurn {
	if sessionID == "" || a.history == nil {
		return nil
	}
	rows, err := a.history.ListBySession(ctx, sessionID)
	if err != nil {
		a.log.Warn("session history unavailable, continuing without it",
			"session_id", sessionID,
			"error", err,
		)
		return nil
	}

	turns := make([]*priorTurn, 0, len(rows))
	for i, r := range rows {
		turns = append(turns, &priorTurn{
			Index:       i + 1,
			Explanation: r.UserExplanation,
			RootCause:   r.RootCause,
			Confidence:  r.Confidence,
		})
	}
	return turns
}
