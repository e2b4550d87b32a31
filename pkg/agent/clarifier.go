package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/garnizeh/orchestrator/internal/config"
	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

// clarifierPrompt is the system prompt for the clarifier capability. The
// model must answer with a single JSON object matching the stored schema.
const clarifierPrompt = `You are a senior engineer reviewing a product idea before implementation.
Analyze the idea and decide whether it is specific enough to build.
Respond with a single JSON object of the form:
{"analysis": "<your assessment>", "questions": [{"question": "<what you need to know>", "context": "<why it matters>"}]}
Return an empty questions array when the idea needs no clarification.
Do not include any text outside the JSON object.`

const clarifierInputTemplate = `Idea title: {{.Title}}
Idea description:
{{.Description}}
{{- if .Answered}}

Previously answered clarifications:
{{- range .Answered}}
Q: {{.Question}}
A: {{.Answer}}
{{- end}}
{{- end}}`

// ClarifierOutput is the structured response we expect from the clarifier.
type ClarifierOutput struct {
	Analysis  string              `json:"analysis"`
	Questions []ClarifierQuestion `json:"questions"`
}

type ClarifierQuestion struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// Clarifier runs the clarifier agent over an idea and validates the model's
// output against a versioned JSON schema.
type Clarifier struct {
	exec    Executor
	schemas *SchemaCache
	cfg     config.AgentConfig
	tmpl    *template.Template
}

func NewClarifier(exec Executor, schemas repository.SchemaRepo, cfg config.AgentConfig) (*Clarifier, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if schemas == nil {
		return nil, fmt.Errorf("schema repo is required")
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "v1"
	}

	tmpl, err := template.New("clarifier").Parse(clarifierInputTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse clarifier template: %w", err)
	}

	return &Clarifier{
		exec:    exec,
		schemas: NewSchemaCache(schemas),
		cfg:     cfg,
		tmpl:    tmpl,
	}, nil
}

// Agent returns the agent row this clarifier executes as.
func (c *Clarifier) Agent() *models.Agent {
	return &models.Agent{
		ID:          "clarifier",
		Name:        "Clarifier",
		Description: "Analyzes ideas and raises clarifying questions before conversion",
		Type:        "clarifier",
		Prompt:      clarifierPrompt,
		Model:       c.cfg.Model,
		IsActive:    true,
	}
}

// Clarify executes the clarifier for an idea. Answered questions from earlier
// rounds are included so the model does not re-ask them. A failed run is
// reported through the Result, not the error return.
func (c *Clarifier) Clarify(ctx context.Context, idea *models.Idea, answered []models.AnsweredQuestion) (*ClarifierOutput, *Result, error) {
	var sb strings.Builder
	data := map[string]any{
		"Title":       idea.Title,
		"Description": idea.Description,
		"Answered":    answered,
	}
	if err := c.tmpl.Execute(&sb, data); err != nil {
		return nil, nil, fmt.Errorf("render clarifier input: %w", err)
	}

	input, err := json.Marshal(map[string]string{"message": sb.String()})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal clarifier input: %w", err)
	}

	res, err := c.exec.Execute(ctx, c.Agent(), input, idea.ID, "")
	if err != nil {
		return nil, nil, err
	}
	if res.Status != models.RunSuccess {
		return nil, res, nil
	}

	out, err := c.parse(ctx, res.Output)
	if err != nil {
		res.Status = models.RunFailed
		res.Error = err.Error()
		return nil, res, nil
	}

	return out, res, nil
}

// parse extracts the JSON object from the model output and validates it
// against the configured schema version before unmarshalling.
func (c *Clarifier) parse(ctx context.Context, output json.RawMessage) (*ClarifierOutput, error) {
	var wrapper struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(output, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal run output: %w", err)
	}

	j := extractJSON(wrapper.Text)
	if j == "" {
		return nil, errors.New("no JSON object found in response")
	}

	schema, err := c.schemas.Get(ctx, c.cfg.SchemaVersion)
	if err != nil {
		return nil, err
	}

	verrs, err := schema.ValidateBytes(ctx, []byte(j))
	if err != nil {
		return nil, fmt.Errorf("schema validate error: %w", err)
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for _, v := range verrs {
			sb.WriteString(v.Message)
			sb.WriteString("; ")
		}
		return nil, fmt.Errorf("response does not match schema: %s", sb.String())
	}

	var out ClarifierOutput
	if err := json.Unmarshal([]byte(j), &out); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	if out.Questions == nil {
		out.Questions = []ClarifierQuestion{}
	}

	return &out, nil
}

// extractJSON returns the substring from the first '{' to the last '}'.
// Model outputs often wrap JSON in prose or markdown fences.
func extractJSON(s string) string {
	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first == -1 || last == -1 || last < first {
		return ""
	}
	return s[first : last+1]
}
