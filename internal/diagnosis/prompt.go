package diagnosis

import (
	"bytes"
	"text/template"
)

const systemPrompt = `You are an elite Educational Diagnostician AI.

Your mission: identifying the EXACT point of conceptual failure in a student's explanation and providing HIGH-QUALITY resources.

ANALYSIS PROTOCOL:
1. REVIEW CONTEXT: If provided, compare the student's *current* explanation against their *previous* attempts.
   - Did they fix previous errors? If yes, INCREASE confidence.
   - Did they introduce new errors? Address them.
2. IDENTIFY GAPS: Find the *earliest* missing prerequisite.
3. INFER CONCEPT: If "Concept Name" is missing or user stated "I don't know", deduce it from the text and file content.
4. CONFIDENCE SCORE:
   - 90-100: Flawless.
   - 70-89: Mostly correct, minor wording issues.
   - 40-69: Significant conceptual gaps.
   - 0-39: Wrong topic or fundamental misunderstanding.
   - **CRITICAL**: If this is a follow-up and they corrected their mistake, High Score is MANDATORY.
5. RECOMMEND RESOURCES (MANDATORY):
   - You MUST provide at least 2, max 4 resources.
   - **URLs must be real**: prioritized official docs (React, MDN, Python.org) or highly reputable tutorials (W3Schools, CSS-Tricks).
   - If you cannot find a specific URL, generate a high-quality Google Search Query URL (e.g., https://www.google.com/search?q=React+Virtual+DOM).
   - "relevance": Explain *specifically* why this link helps THIS student's specific gap.

RESPONSE FORMAT (JSON ONLY):
{
  "root_cause": "Detailed analysis...",
  "confidence": 85,
  "repair_question": "Question...",
  "missing_prerequisites": ["Concept A: Reason...", "Concept B: Reason..."],
  "learning_resources": [
    {
       "title": "Exact Title of Resource",
       "type": "article",
       "url": "https://react.dev/learn/...",
       "relevance": "Directly explains the Virtual DOM diffing process you missed."
    }
  ],
  "knowledge_coverage": 65,
  "inferred_concept": "Concept Name"
}
NO MARKDOWN.`

const inferConceptPlaceholder = "[Please Infer from explanation and file]"

// promptData feeds the user message templates.
type promptData struct {
	Concept     string
	Explanation string
	Turns       []*priorTurn
	Note        string
}

type priorTurn struct {
	Index       int
	Explanation string
	RootCause   string
	Confidence  int
}

var firstTurnTemplate = template.Must(template.New("first-turn").Parse(
	`Concept: {{if .Concept}}{{.Concept}}{{else}}` + inferConceptPlaceholder + `{{end}}
Student Explanation: {{.Explanation}}{{if .Note}}

{{.Note}}{{end}}`))

var followUpTemplate = template.Must(template.New("follow-up").Parse(
	`{{if .Concept}}Concept: {{.Concept}}
{{end}}SESSION HISTORY:
{{range .Turns}}[Turn {{.Index}}] Student thought: "{{.Explanation}}". AI Diagnosis: Root Cause="{{.RootCause}}", Confidence={{.Confidence}}%
{{end}}
[Current Turn] Student now says: "{{.Explanation}}"

TASK: Analyze the [Current Turn] based on the history. Has the student improved? Update the score accordingly.{{if .Note}}

{{.Note}}{{end}}`))

func renderPrompt(data *promptData) (string, error) {
	tmpl := firstTurnTemplate
	if len(data.Turns) > 0 {
		tmpl = followUpTemplate
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
