package diagnosis

import "github.com/abhisek/learndebug/internal/llm"

// AnalysisSchema defines the JSON schema for the model's diagnosis payload.
var AnalysisSchema = &llm.Schema{
	Name:        "learning-diagnosis",
	Description: "Diagnosis of the conceptual gap in a learner's explanation",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"root_cause": map[string]any{
				"type":        "string",
				"description": "Detailed analysis of the earliest conceptual failure",
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "Correctness score from 0 to 100",
			},
			"repair_question": map[string]any{
				"type":        "string",
				"description": "One follow-up question that leads the learner toward the gap",
			},
			"missing_prerequisites": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Missing prerequisite concepts, each as 'Concept: Reason'",
			},
			"learning_resources": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":     map[string]any{"type": "string"},
						"type":      map[string]any{"type": "string", "description": "article, video, text or course"},
						"url":       map[string]any{"type": "string"},
						"content":   map[string]any{"type": "string"},
						"relevance": map[string]any{"type": "string"},
					},
					"required": []any{"title", "type", "relevance"},
				},
				"description": "Two to four resources targeted at the identified gap",
			},
			"knowledge_coverage": map[string]any{
				"type":        "number",
				"description": "Estimated breadth of the topic covered, 0 to 100",
			},
			"inferred_concept": map[string]any{
				"type":        "string",
				"description": "Concept name inferred from the explanation",
			},
		},
		"required": []any{"root_cause", "confidence", "repair_question", "knowledge_coverage"},
	},
}
