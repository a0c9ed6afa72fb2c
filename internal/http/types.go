package http

import "github.com/fyrsmithlabs/extractd/internal/search"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ParsedResponse is the response body of the parser callback.
type ParsedResponse struct {
	FileIDs []int64 `json:"file_ids"`
}

// ExtractComplete is the body the LLM studio posts when an upload was
// extracted.
type ExtractComplete struct {
	Payload struct {
		DocID   string `json:"doc_id"`
		AppID   string `json:"app_id"`
		Success bool   `json:"success"`
	} `json:"payload"`
}

// ProcessRequest is the body for POST /api/v1/files/:id/process.
type ProcessRequest struct {
	ForceParse    bool   `json:"force_parse"`
	ForcePredict  bool   `json:"force_predict"`
	OCR           bool   `json:"ocr"`
	Garbled       bool   `json:"garbled_file_handle"`
	AsPDF         bool   `json:"as_pdf"`
	ForceOCRPages string `json:"force_ocr_pages"`
}

// SubmitResponse is the response body of an answer submission.
type SubmitResponse struct {
	ID         int64  `json:"id"`
	QID        int64  `json:"qid"`
	UID        int64  `json:"uid"`
	Status     int    `json:"status"`
	Type       string `json:"answer_type"`
	UpdatedUTC int64  `json:"updated_utc"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Hits []search.Hit `json:"hits"`
}

// ResetRequest is the body for POST /api/v1/admin/reset_status.
type ResetRequest struct {
	StuckAfter string `json:"stuck_after"`
	MoldID     int64  `json:"mold_id"`
}

// ResetResponse reports what a status reset changed.
type ResetResponse struct {
	Questions int `json:"questions"`
	Files     int `json:"files"`
}
