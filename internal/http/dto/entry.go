package dto

type SubmitEntryRequest struct {
	Text          string  `json:"text" binding:"required"`
	ReferenceDate *string `json:"reference_date,omitempty"`
	EvidenceIDs   []int64 `json:"evidence_ids,omitempty"`
}

type SubmitEntryResponse struct {
	EntryID int64 `json:"entry_id,string"`
	JobID   int64 `json:"job_id,string"`
}
