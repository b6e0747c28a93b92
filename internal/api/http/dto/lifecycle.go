package dto

type LifecycleRequest struct {
	Operation string `json:"operation" binding:"required,oneof=deploy install start stop uninstall"`
}

type AgentStatusResponse struct {
	HostID         string `json:"host_id"`
	State          string `json:"state"`
	LastTransition string `json:"last_transition,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	LastHeartbeat  string `json:"last_heartbeat,omitempty"`
	StaleHeartbeat bool   `json:"stale_heartbeat"`
}
