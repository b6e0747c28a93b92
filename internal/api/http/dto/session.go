package dto

type SessionResponse struct {
	ID           string `json:"id"`
	HostID       string `json:"host_id"`
	OperatorID   string `json:"operator_id"`
	Status       string `json:"status"`
	StartedAt    string `json:"started_at"`
	LastActivity string `json:"last_activity"`
	EndedAt      string `json:"ended_at,omitempty"`
	CloseReason  string `json:"close_reason,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}
