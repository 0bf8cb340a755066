package extraction

import (
	"fmt"
	"strings"

	"chroniq.app/engine/common/logger"
	"chroniq.app/engine/internal/model"
)

const extractionSystemPrompt = `You extract structured life events from personal journal entries.

Rules:
- Only extract events the entry actually describes. Do not invent details.
- Each event gets a short title, a one or two sentence description, and a
  category (work, health, social, travel, family, finance, or other).
- Resolve relative dates ("yesterday", "last Tuesday") against the reference
  date when one is given. Leave occurred_at empty when the timing is unclear.
- List people mentioned as participants with their role when stated.
- When evidence summaries are provided, set evidence_ids on events they
  support. Never reference an evidence id that was not provided.
- Extract explicit follow-up tasks as action items. Link an item to an event
  via event_index only when the entry ties them together.`

const summarizeSystemPrompt = `You summarize supporting material attached to a journal entry.
Produce a factual two sentence summary of the content. No speculation.`

func buildExtractionPrompt(input ExtractInput) string {
	var b strings.Builder

	if input.ReferenceDate != nil && *input.ReferenceDate != "" {
		fmt.Fprintf(&b, "Reference date: %s\n\n", *input.ReferenceDate)
	}

	b.WriteString("Journal entry:\n")
	b.WriteString(input.Text)
	b.WriteString("\n")

	usable := make([]EvidenceSummary, 0, len(input.EvidenceSummaries))
	for _, s := range input.EvidenceSummaries {
		if !s.Skipped {
			usable = append(usable, s)
		}
	}
	if len(usable) > 0 {
		b.WriteString("\nEvidence summaries:\n")
		for _, s := range usable {
			fmt.Fprintf(&b, "- evidence %d (%s): %s\n", s.EvidenceID, s.Kind, s.Summary)
		}
	}

	return b.String()
}

func buildSummarizePrompt(ev *model.Evidence) string {
	return fmt.Sprintf("Material kind: %s\n\nContent:\n%s", ev.Kind, logger.Truncate(ev.Content, 8000))
}
