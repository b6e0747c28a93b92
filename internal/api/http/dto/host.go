package dto

type SyncHostRequest struct {
	ID           string  `json:"id" binding:"required"`
	Name         string  `json:"name" binding:"required"`
	Address      string  `json:"address" binding:"required"`
	Port         int     `json:"port"`
	User         string  `json:"user" binding:"required"`
	CredentialID *string `json:"credential_id"`
}

type HostResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	Port         int     `json:"port"`
	User         string  `json:"user"`
	CredentialID *string `json:"credential_id,omitempty"`
}

type ListHostsResponse struct {
	Hosts []HostResponse `json:"hosts"`
}
