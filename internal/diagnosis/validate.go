package diagnosis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/abhisek/learndebug/internal/llm"
	"github.com/abhisek/learndebug/internal/store"
)

var fencePattern = regexp.MustCompile("```json\\n?|\\n?```")

// analysisOutput is the raw model payload before normalization.
type analysisOutput struct {
	RootCause            string           `json:"root_cause"`
	Confidence           float64          `json:"confidence"`
	RepairQuestion       string           `json:"repair_question"`
	MissingPrerequisites []string         `json:"missing_prerequisites"`
	LearningResources    []resourceOutput `json:"learning_resources"`
	KnowledgeCoverage    float64          `json:"knowledge_coverage"`
	InferredConcept      string           `json:"inferred_concept"`
}

type resourceOutput struct {
	Title     string `json:"title"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Content   string `json:"content"`
	Relevance string `json:"relevance"`
}

// StripFences removes markdown code fences the model may wrap around
// its JSON.
func StripFences(raw string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))
}

// ParseAnalysis validates a raw model payload against AnalysisSchema and
// returns it normalized. Failures are KindMalformedResponse.
func ParseAnalysis(raw string) (*Analysis, error) {
	clean := StripFences(raw)
	if clean == "" {
		return nil, newError(KindMalformedResponse, errors.New("empty model response"))
	}

	payload, err := dropNulls(clean)
	if err != nil {
		return nil, newError(KindMalformedResponse, err)
	}
	if err := llm.ValidateJSON(AnalysisSchema, payload); err != nil {
		return nil, newError(KindMalformedResponse, err)
	}

	var out analysisOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, newError(KindMalformedResponse, fmt.Errorf("decode analysis: %w", err))
	}
	return normalize(&out), nil
}

// dropNulls removes null object members and array elements at any depth
// so optional fields sent as null read as absent.
func dropNulls(clean string) (json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(clean))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	if dec.More() {
		return nil, errors.New("parse analysis: trailing data after JSON object")
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, errors.New("parse analysis: expected a JSON object")
	}
	return json.Marshal(pruneNulls(doc))
}

func pruneNulls(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			if child == nil {
				delete(v, k)
				continue
			}
			v[k] = pruneNulls(child)
		}
		return v
	case []any:
		kept := v[:0]
		for _, child := range v {
			if child != nil {
				kept = append(kept, pruneNulls(child))
			}
		}
		return kept
	default:
		return v
	}
}

func normalize(out *analysisOutput) *Analysis {
	a := &Analysis{
		RootCause:            strings.TrimSpace(out.RootCause),
		Confidence:           percent(out.Confidence),
		RepairQuestion:       strings.TrimSpace(out.RepairQuestion),
		MissingPrerequisites: make([]string, 0, len(out.MissingPrerequisites)),
		LearningResources:    make([]store.LearningResource, 0, len(out.LearningResources)),
		KnowledgeCoverage:    percent(out.KnowledgeCoverage),
		InferredConcept:      strings.TrimSpace(out.InferredConcept),
	}
	for _, p := range out.MissingPrerequisites {
		if p = strings.TrimSpace(p); p != "" {
			a.MissingPrerequisites = append(a.MissingPrerequisites, p)
		}
	}
	for _, r := range out.LearningResources {
		a.LearningResources = append(a.LearningResources, store.LearningResource{
			Title:     strings.TrimSpace(r.Title),
			Type:      resourceType(r.Type),
			URL:       strings.TrimSpace(r.URL),
			Content:   strings.TrimSpace(r.Content),
			Relevance: strings.TrimSpace(r.Relevance),
		})
	}
	return a
}

// percent rounds v and clamps it to 0..100.
func percent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(0, math.Min(100, math.Round(v))))
}

func resourceType(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case ResourceArticle, ResourceVideo, ResourceText, ResourceCourse:
		return t
	default:
		return ResourceArticle
	}
}
