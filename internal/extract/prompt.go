// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/pdiddy/care-engine/pkg/types"
)

// Completer answers a single extraction prompt with raw model text.
// Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// fieldPromptTmpl is the per-field fallback prompt. The model sees the
// whole note but is asked for exactly one field, constrained to a small
// JSON object with no surrounding prose.
var fieldPromptTmpl = template.Must(template.New("field").Parse(`You are a clinical fact extraction system. Read the clinical note below and extract exactly one field.

{{.Instruction}}

Respond with only the JSON object. Do not include any text outside it. If the note does not document the field, use null (or an empty array for list fields).

Clinical note:
{{.Note}}
`))

// fieldInstructions constrain the reply shape for each field.
var fieldInstructions = map[types.Field]string{
	types.FieldA1C: `Extract the most recent hemoglobin A1c value as a percentage.
Reply shape: {"a1c": 8.2} or {"a1c": null}`,
	types.FieldBloodPressure: `Extract the most recent blood pressure reading in mmHg.
Reply shape: {"systolic": 142, "diastolic": 94} or {"systolic": null, "diastolic": null}`,
	types.FieldDiagnoses: `Extract the active diagnoses. Exclude diagnoses documented as absent, denied, or ruled out.
Reply shape: {"diagnoses": ["Type 2 Diabetes Mellitus"]}`,
	types.FieldMedications: `Extract the current medications with dose and frequency where documented.
Reply shape: {"medications": ["Metformin 1000mg twice daily"]}`,
	types.FieldLastA1CTest: `Extract the date of the most recent prior A1c test, in YYYY-MM-DD form.
Reply shape: {"date": "2024-03-01"} or {"date": null}`,
	types.FieldLastKidney: `Extract the date of the most recent kidney screening (urine albumin, uACR, or renal panel), in YYYY-MM-DD form.
Reply shape: {"date": "2024-03-01"} or {"date": null}`,
	types.FieldLastEyeExam: `Extract the date of the most recent dilated eye or retinal exam, in YYYY-MM-DD form.
Reply shape: {"date": "2024-03-01"} or {"date": null}`,
	types.FieldLastFootExam: `Extract the date of the most recent foot exam, in YYYY-MM-DD form.
Reply shape: {"date": "2024-03-01"} or {"date": null}`,
}

// fieldPrompt renders the fallback prompt for one field.
func fieldPrompt(field types.Field, note string) string {
	var buf bytes.Buffer
	// The template cannot fail on string inputs.
	_ = fieldPromptTmpl.Execute(&buf, struct {
		Instruction string
		Note        string
	}{Instruction: fieldInstructions[field], Note: note})
	return buf.String()
}

// parseReply validates one fallback reply against the same field
// validators as the pattern path. Any deviation from the constrained
// shape leaves the field absent.
func (e *Extractor) parseReply(field types.Field, reply string) (fieldResult, bool) {
	llmProv := types.FieldProvenance{Method: types.MethodLLM, Confidence: llmConfidence}
	reply = strings.TrimSpace(reply)

	switch field {
	case types.FieldA1C:
		var body struct {
			A1C *float64 `json:"a1c"`
		}
		if err := json.Unmarshal([]byte(reply), &body); err != nil || body.A1C == nil || !validA1C(*body.A1C) {
			return fieldResult{}, false
		}
		v := *body.A1C
		return fieldResult{apply: func(b *types.FactBundle) { b.A1C = &v }, prov: llmProv}, true

	case types.FieldBloodPressure:
		var body struct {
			Systolic  *int `json:"systolic"`
			Diastolic *int `json:"diastolic"`
		}
		if err := json.Unmarshal([]byte(reply), &body); err != nil || body.Systolic == nil || body.Diastolic == nil || !validBP(*body.Systolic, *body.Diastolic) {
			return fieldResult{}, false
		}
		bp := types.BloodPressure{Systolic: *body.Systolic, Diastolic: *body.Diastolic}
		return fieldResult{apply: func(b *types.FactBundle) { b.BloodPressure = &bp }, prov: llmProv}, true

	case types.FieldDiagnoses:
		var body struct {
			Diagnoses []string `json:"diagnoses"`
		}
		if err := json.Unmarshal([]byte(reply), &body); err != nil || body.Diagnoses == nil {
			return fieldResult{}, false
		}
		diagnoses := cleanList(body.Diagnoses)
		return fieldResult{apply: func(b *types.FactBundle) { b.Diagnoses = diagnoses }, prov: llmProv}, true

	case types.FieldMedications:
		var body struct {
			Medications []string `json:"medications"`
		}
		if err := json.Unmarshal([]byte(reply), &body); err != nil || body.Medications == nil {
			return fieldResult{}, false
		}
		medications := cleanList(body.Medications)
		return fieldResult{apply: func(b *types.FactBundle) { b.Medications = medications }, prov: llmProv}, true

	case types.FieldLastA1CTest, types.FieldLastKidney, types.FieldLastEyeExam, types.FieldLastFootExam:
		var body struct {
			Date *string `json:"date"`
		}
		if err := json.Unmarshal([]byte(reply), &body); err != nil || body.Date == nil {
			return fieldResult{}, false
		}
		t, err := parseClinicalDate(*body.Date)
		if err != nil || !e.validDate(t) {
			return fieldResult{}, false
		}
		set := dateSetters[field]
		return fieldResult{apply: func(b *types.FactBundle) { set(b, &t) }, prov: llmProv}, true
	}
	return fieldResult{}, false
}

// dateSetters maps each screening-date field to its bundle slot.
var dateSetters = map[types.Field]func(*types.FactBundle, *time.Time){
	types.FieldLastA1CTest:  func(b *types.FactBundle, t *time.Time) { b.LastA1CTest = t },
	types.FieldLastKidney:   func(b *types.FactBundle, t *time.Time) { b.LastKidneyScreen = t },
	types.FieldLastEyeExam:  func(b *types.FactBundle, t *time.Time) { b.LastEyeExam = t },
	types.FieldLastFootExam: func(b *types.FactBundle, t *time.Time) { b.LastFootExam = t },
}

// cleanList trims entries and drops empties and duplicates.
func cleanList(items []string) []string {
	out := []string{}
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" && !containsString(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// ClaudeCompleter answers extraction prompts through the Claude
// Messages API.
type ClaudeCompleter struct {
	APIKey string
	Model  string
	Client *http.Client
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

// claudeMessage is a single message in the Claude API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

// claudeContent is a content block in the Claude API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Complete sends one prompt and returns the first text block of the
// reply.
func (c *ClaudeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := claudeRequest{
		Model:     c.Model,
		MaxTokens: 1024,
		Messages: []claudeMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return "", fmt.Errorf("decoding Claude response: %w", err)
	}

	for _, block := range cResp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Claude API response")
}
