package extraction

import (
	"context"
	"fmt"

	"chroniq.app/engine/common/llm"
	"chroniq.app/engine/core/config"
	"chroniq.app/engine/internal/model"
)

// EventExtractor is the LLM boundary of the pipeline. Defined as an
// interface so the pipeline tests can run without a live model.
type EventExtractor interface {
	Extract(ctx context.Context, input ExtractInput) (*EventExtraction, error)
	SummarizeEvidence(ctx context.Context, ev *model.Evidence) (string, error)
}

// ExtractInput is everything the model sees for one entry.
type ExtractInput struct {
	Text              string
	ReferenceDate     *string
	EvidenceSummaries []EvidenceSummary
}

// EvidenceSummary is the checkpointed result of one process-evidence step.
// Skipped summaries record why the evidence was unusable; the extraction
// proceeds without them.
type EvidenceSummary struct {
	EvidenceID int64  `json:"evidence_id"`
	Kind       string `json:"kind,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// EventExtraction is the model's structured output: the events found in the
// entry plus any standalone action items.
type EventExtraction struct {
	Events      []EventDraft      `json:"events" jsonschema_description:"Structured events found in the entry"`
	ActionItems []ActionItemDraft `json:"action_items" jsonschema_description:"Follow-up tasks mentioned in the entry"`
}

type EventDraft struct {
	Title        string             `json:"title" jsonschema_description:"Short title for the event"`
	Description  string             `json:"description" jsonschema_description:"One or two sentence description"`
	Category     string             `json:"category" jsonschema_description:"Category such as work, health, social, travel"`
	OccurredAt   string             `json:"occurred_at" jsonschema_description:"RFC 3339 timestamp when the event occurred, empty if unknown"`
	Participants []ParticipantDraft `json:"participants" jsonschema_description:"People involved in the event"`
	EvidenceIDs  []int64            `json:"evidence_ids" jsonschema_description:"Ids of evidence summaries supporting this event"`
}

type ParticipantDraft struct {
	Name string `json:"name"`
	Role string `json:"role" jsonschema_description:"Relationship or role, empty if unknown"`
}

type ActionItemDraft struct {
	Description string `json:"description"`
	DueDate     string `json:"due_date" jsonschema_description:"Due date in YYYY-MM-DD form, empty if none"`
	EventIndex  *int   `json:"event_index" jsonschema_description:"Index into events this item belongs to, null if standalone"`
}

type evidenceSummaryResponse struct {
	Summary string `json:"summary" jsonschema_description:"Two sentence summary of the evidence content"`
}

type llmExtractor struct {
	client    llm.Client
	maxTokens int
}

func NewExtractor(client llm.Client, cfg config.LLMConfig) EventExtractor {
	return &llmExtractor{
		client:    client,
		maxTokens: cfg.MaxTokens,
	}
}

func (e *llmExtractor) Extract(ctx context.Context, input ExtractInput) (*EventExtraction, error) {
	var extraction EventExtraction
	_, err := e.client.Chat(ctx, llm.Request{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   buildExtractionPrompt(input),
		SchemaName:   "event_extraction",
		Schema:       llm.GenerateSchema[EventExtraction](),
		MaxTokens:    e.maxTokens,
		Temperature:  llm.Temp(0),
	}, &extraction)
	if err != nil {
		return nil, fmt.Errorf("extracting events: %w", err)
	}
	return &extraction, nil
}

func (e *llmExtractor) SummarizeEvidence(ctx context.Context, ev *model.Evidence) (string, error) {
	var resp evidenceSummaryResponse
	_, err := e.client.Chat(ctx, llm.Request{
		SystemPrompt: summarizeSystemPrompt,
		UserPrompt:   buildSummarizePrompt(ev),
		SchemaName:   "evidence_summary",
		Schema:       llm.GenerateSchema[evidenceSummaryResponse](),
		MaxTokens:    512,
		Temperature:  llm.Temp(0),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("summarizing evidence: %w", err)
	}
	return resp.Summary, nil
}
