package diagnosis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abhisek/learndebug/internal/extract"
	"github.com/abhisek/learndebug/internal/logger"
	"github.com/abhisek/learndebug/internal/store"
)

const tracerName = "github.com/abhisek/learndebug/internal/diagnosis"

// Observer receives one observation per pipeline run. outcome is
// "success" or the failure Kind.
type Observer interface {
	ObservePipeline(outcome string, elapsed time.Duration)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Extractor *extract.Extractor
	Invoker   *Invoker
	Store     store.DiagnosisRepo
	Logger    *logger.Logger
	Tracer    trace.Tracer
	Observer  Observer

	// NewSessionID generates ids for turns that start a session.
	NewSessionID func() string
}

// Pipeline runs one learner turn from input to stored diagnosis.
type Pipeline struct {
	extractor    *extract.Extractor
	assembler    *Assembler
	invoker      *Invoker
	store        store.DiagnosisRepo
	log          *logger.Logger
	tracer       trace.Tracer
	observer     Observer
	newSessionID func() string
}

// NewPipeline wires a Pipeline. Extractor, Logger, Tracer and
// NewSessionID have defaults; Invoker and Store are required.
func NewPipeline(deps Deps) *Pipeline {
	p := &Pipeline{
		extractor:    deps.Extractor,
		invoker:      deps.Invoker,
		store:        deps.Store,
		log:          deps.Logger,
		tracer:       deps.Tracer,
		observer:     deps.Observer,
		newSessionID: deps.NewSessionID,
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	if p.extractor == nil {
		p.extractor = extract.New(extract.WithLogger(p.log))
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	if p.newSessionID == nil {
		p.newSessionID = func() string { return uuid.NewString() }
	}
	p.assembler = NewAssembler(deps.Store, p.log)
	return p
}

// Run executes the pipeline. Every failure is a *Error.
func (p *Pipeline) Run(ctx context.Context, in Input) (res *Result, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "diagnosis.run")
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("diagnosis.outcome", outcome))
		span.End()
		if p.observer != nil {
			p.observer.ObservePipeline(outcome, time.Since(start))
		}
	}()

	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("diagnosis.follow_up", in.SessionID != ""))

	var resource extract.Resource
	p.stage(ctx, "extract", func(ctx context.Context) error {
		resource = p.extractor.Extract(ctx, in.Attachment)
		return nil
	})

	var prompt *Prompt
	if err := p.stage(ctx, "assemble", func(ctx context.Context) (err error) {
		prompt, err = p.assembler.Assemble(ctx, &in, resource)
		if err != nil {
			return newError(KindFailed, err)
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("diagnosis.prior_turns", prompt.PriorTurns))
		return nil
	}); err != nil {
		return nil, err
	}

	var raw string
	if err := p.stage(ctx, "invoke", func(ctx context.Context) (err error) {
		raw, err = p.invoker.Invoke(ctx, prompt)
		return err
	}); err != nil {
		p.log.Error("diagnosis model call failed",
			"kind", KindOf(err),
			"user_id", in.UserID,
			"session_id", in.SessionID,
			"error", err,
		)
		return nil, err
	}

	var analysis *Analysis
	if err := p.stage(ctx, "validate", func(context.Context) (err error) {
		analysis, err = ParseAnalysis(raw)
		return err
	}); err != nil {
		p.log.Error("model response rejected",
			"error", err,
			"raw_response", raw,
		)
		return nil, err
	}

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = p.newSessionID()
	}
	row := &store.Diagnosis{
		SessionID:            sessionID,
		UserID:               in.UserID,
		ConceptName:          resolveConcept(in.ConceptName, analysis.InferredConcept),
		UserExplanation:      in.UserExplanation,
		RootCause:            analysis.RootCause,
		Confidence:           analysis.Confidence,
		RepairQuestion:       analysis.RepairQuestion,
		MissingPrerequisites: analysis.MissingPrerequisites,
		LearningResources:    analysis.LearningResources,
		KnowledgeCoverage:    analysis.KnowledgeCoverage,
	}

	if err := p.stage(ctx, "persist", func(ctx context.Context) error {
		if err := p.store.Create(ctx, row); err != nil {
			return &Error{Kind: KindPersistence, Err: fmt.Errorf("store diagnosis: %w", err), Analysis: analysis}
		}
		return nil
	}); err != nil {
		p.log.Error("diagnosis could not be stored",
			"user_id", in.UserID,
			"error", err,
		)
		return nil, err
	}

	p.log.Info("diagnosis stored",
		"diagnosis_id", row.ID,
		"session_id", row.SessionID,
		"user_id", row.UserID,
		"confidence", row.Confidence,
		"prior_turns", prompt.PriorTurns,
	)

	return &Result{
		Analysis:    *analysis,
		ConceptName: row.ConceptName,
		SessionID:   row.SessionID,
		UserID:      row.UserID,
		DiagnosisID: row.ID,
		Timestamp:   row.CreatedAt,
	}, nil
}

// stage runs fn inside a child span named after the stage.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "diagnosis."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return err
	}
	return nil
}

func resolveConcept(explicit, inferred string) string {
	switch {
	case explicit != "":
		return explicit
	case inferred != "":
		return inferred
	default:
		return UnknownConcept
	}
}
