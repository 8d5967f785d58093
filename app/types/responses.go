package types

import "github.com/shopspring/decimal"

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type PreferenceResponse struct {
	ID                string `json:"id"`
	InitPoint         string `json:"init_point"`
	SandboxInitPoint  string `json:"sandbox_init_point,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	CreatedAt         string `json:"created_at"`
}

type StoredStatusResponse struct {
	Status            string `json:"status"`
	StatusDetail      string `json:"status_detail,omitempty"`
	ProviderUpdatedAt string `json:"provider_updated_at"`
	UpdatedAt         string `json:"updated_at"`
}

type PaymentResponse struct {
	ID                string                `json:"id"`
	Status            string                `json:"status"`
	ProviderStatus    string                `json:"provider_status"`
	StatusDetail      string                `json:"status_detail,omitempty"`
	ExternalReference string                `json:"external_reference,omitempty"`
	Amount            decimal.Decimal       `json:"amount"`
	Currency          string                `json:"currency,omitempty"`
	LastUpdated       string                `json:"last_updated,omitempty"`
	Metadata          map[string]string     `json:"metadata"`
	Stored            *StoredStatusResponse `json:"stored,omitempty"`
}

type RefundResponse struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt string          `json:"created_at"`
}
