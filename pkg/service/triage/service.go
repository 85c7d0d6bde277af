package triage

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
)

// Error tags for categorization
var (
	ErrTagInvalidJSON     = goerr.NewTag("invalid_json")
	ErrTagMissingField    = goerr.NewTag("missing_field")
	ErrTagEmptyResponse   = goerr.NewTag("empty_response")
	ErrTagTemplateFailure = goerr.NewTag("template_failure")
)

//go:embed templates/*.md
var templateFS embed.FS

// Service asks an LLM to assess newly discovered findings and produce a
// remediation note
type Service struct {
	llmClient gollem.LLMClient
}

// New creates a triage service backed by the given LLM client
func New(llmClient gollem.LLMClient) *Service {
	return &Service{
		llmClient: llmClient,
	}
}

var _ interfaces.Triager = (*Service)(nil)

// triageTemplateData contains data for the triage prompt template
type triageTemplateData struct {
	Scanner      string
	RuleID       string
	Package      string
	Location     string
	Title        string
	Description  string
	Severity     string
	FixedVersion string
	URL          string
}

// TriageFinding generates an assessment of one finding. The returned
// FindingID is always taken from the finding, not from the model output.
func (s *Service) TriageFinding(ctx context.Context, finding *model.Finding) (*model.TriageResult, error) {
	if finding == nil {
		return nil, goerr.New("finding is nil")
	}

	prompt, err := s.renderTriageTemplate(finding)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to render triage template",
			goerr.T(ErrTagTemplateFailure))
	}

	// Create session with JSON content type
	session, err := s.llmClient.NewSession(ctx, gollem.WithSessionContentType(gollem.ContentTypeJSON))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create LLM session")
	}

	// Generate response from LLM
	response, err := session.GenerateContent(ctx, gollem.Text(prompt))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate LLM response")
	}

	// Check if response has content
	if len(response.Texts) == 0 || response.Texts[0] == "" {
		return nil, goerr.New("empty response from LLM",
			goerr.T(ErrTagEmptyResponse))
	}

	// Parse JSON response
	var result model.TriageResult
	if err := json.Unmarshal([]byte(response.Texts[0]), &result); err != nil {
		return nil, goerr.Wrap(err, "failed to parse LLM response as JSON",
			goerr.V("response", response.Texts[0]),
			goerr.T(ErrTagInvalidJSON))
	}

	// Validate response
	if result.Summary == "" {
		return nil, goerr.New("LLM response missing summary",
			goerr.T(ErrTagMissingField),
			goerr.V("field", "summary"))
	}

	// Confidence outside the known vocabulary is cleared rather than rejected
	switch result.Confidence {
	case "low", "medium", "high", "":
	default:
		result.Confidence = ""
	}

	result.FindingID = finding.ID

	return &result, nil
}

// renderTriageTemplate renders the triage prompt for one finding
func (s *Service) renderTriageTemplate(finding *model.Finding) (string, error) {
	templateContent, err := templateFS.ReadFile("templates/triage.md")
	if err != nil {
		return "", goerr.Wrap(err, "failed to read triage template")
	}

	tmpl, err := template.New("triage").Parse(string(templateContent))
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse triage template")
	}

	data := triageTemplateData{
		Scanner:      finding.Scanner.String(),
		RuleID:       finding.RuleID,
		Package:      finding.Package,
		Location:     finding.Location,
		Title:        finding.Title,
		Description:  finding.Description,
		Severity:     finding.Severity.String(),
		FixedVersion: finding.FixedVersion,
		URL:          finding.URL,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to execute triage template")
	}

	return buf.String(), nil
}
