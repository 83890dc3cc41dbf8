package fal

type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
	CancelURL   string `json:"cancel_url"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
}
