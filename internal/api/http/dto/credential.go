package dto

type StoreCredentialRequest struct {
	Name       string `json:"name" binding:"required,min=1,max=255"`
	PrivateKey string `json:"private_key" binding:"required"`
}

type CredentialResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	Algorithm   string `json:"algorithm"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
}

type ListCredentialsResponse struct {
	Credentials []CredentialResponse `json:"credentials"`
}
