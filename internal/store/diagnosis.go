package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

const diagnosticsTable = "diagnostics"

var diagnosisColumns = []string{
	"id", "user_id", "session_id", "concept_name", "user_explanation",
	"root_cause", "confidence", "repair_question", "missing_prerequisites",
	"learning_resources", "knowledge_coverage", "created_at",
}

// diagnosisRepo implements DiagnosisRepo with the ent SQL builder.
type diagnosisRepo struct {
	drv     *entsql.Driver
	dialect string
}

func (r *diagnosisRepo) Create(ctx context.Context, d *Diagnosis) error {
	if err := checkDiagnosis(d); err != nil {
		return err
	}

	prereqs, err := json.Marshal(nonNilStrings(d.MissingPrerequisites))
	if err != nil {
		return fmt.Errorf("encode missing prerequisites: %w", err)
	}
	resources, err := json.Marshal(nonNilResources(d.LearningResources))
	if err != nil {
		return fmt.Errorf("encode learning resources: %w", err)
	}

	// Microsecond precision survives every supported backend.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)

	query, args := entsql.Dialect(r.dialect).
		Insert(diagnosticsTable).
		Columns(diagnosisColumns[1:]...).
		Values(
			d.UserID, d.SessionID, d.ConceptName, d.UserExplanation,
			d.RootCause, d.Confidence, d.RepairQuestion, string(prereqs),
			string(resources), d.KnowledgeCoverage, createdAt,
		).
		Returning("id").
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return fmt.Errorf("insert diagnosis: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("insert diagnosis: %w", err)
		}
		return errors.New("insert diagnosis: no id returned")
	}
	if err := rows.Scan(&d.ID); err != nil {
		return fmt.Errorf("scan diagnosis id: %w", err)
	}

	d.CreatedAt = createdAt
	d.MissingPrerequisites = nonNilStrings(d.MissingPrerequisites)
	d.LearningResources = nonNilResources(d.LearningResources)
	return nil
}

func (r *diagnosisRepo) ListBySession(ctx context.Context, sessionID string) ([]*Diagnosis, error) {
	b := entsql.Dialect(r.dialect)
	query, args := b.Select(diagnosisColumns...).
		From(b.Table(diagnosticsTable)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Query()

	return r.list(ctx, query, args)
}

func (r *diagnosisRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*Diagnosis, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	b := entsql.Dialect(r.dialect)
	query, args := b.Select(diagnosisColumns...).
		From(b.Table(diagnosticsTable)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(limit).
		Query()

	return r.list(ctx, query, args)
}

func (r *diagnosisRepo) Delete(ctx context.Context, id int64) error {
	query, args := entsql.Dialect(r.dialect).
		Delete(diagnosticsTable).
		Where(entsql.EQ("id", id)).
		Query()

	var res entsql.Result
	if err := r.drv.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("delete diagnosis %d: %w", id, err)
	}
	return nil
}

func (r *diagnosisRepo) list(ctx context.Context, query string, args []any) ([]*Diagnosis, error) {
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("query diagnoses: %w", err)
	}
	defer rows.Close()

	out := []*Diagnosis{}
	for rows.Next() {
		var d Diagnosis
		var prereqs, resources string
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.SessionID, &d.ConceptName, &d.UserExplanation,
			&d.RootCause, &d.Confidence, &d.RepairQuestion, &prereqs,
			&resources, &d.KnowledgeCoverage, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan diagnosis: %w", err)
		}
		if err := decodeList(prereqs, &d.MissingPrerequisites); err != nil {
			return nil, fmt.Errorf("decode missing prerequisites of %d: %w", d.ID, err)
		}
		if err := decodeList(resources, &d.LearningResources); err != nil {
			return nil, fmt.Errorf("decode learning resources of %d: %w", d.ID, err)
		}
		d.MissingPrerequisites = nonNilStrings(d.MissingPrerequisites)
		d.LearningResources = nonNilResources(d.LearningResources)
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnoses: %w", err)
	}
	return out, nil
}

// checkDiagnosis enforces the columns every record must carry.
func checkDiagnosis(d *Diagnosis) error {
	switch {
	case d == nil:
		return errors.New("diagnosis is nil")
	case strings.TrimSpace(d.UserID) == "":
		return errors.New("diagnosis user id is required")
	case strings.TrimSpace(d.SessionID) == "":
		return errors.New("diagnosis session id is required")
	case strings.TrimSpace(d.ConceptName) == "":
		return errors.New("diagnosis concept name is required")
	}
	return nil
}

func decodeList(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilResources(r []LearningResource) []LearningResource {
	if r == nil {
		return []LearningResource{}
	}
	return r
}
