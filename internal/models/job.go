package models

// Queue status values reported by the backend.
const (
	JobStatusInQueue    = "IN_QUEUE"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
	JobStatusError      = "ERROR"
)

// JobHandle addresses a submitted backend job.
type JobHandle struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

// JobOutput is what a finished job produced. Reason carries the backend's
// explanation when the job failed.
type JobOutput struct {
	URLs   []string
	Seed   *int64
	Prompt string
	Reason string
}
