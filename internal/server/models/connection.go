package models

import "time"

type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionInvalid ConnectionStatus = "invalid"
)

// StorageConnection holds one user's credentials for one provider. Tokens are
// stored sealed; a zero ExpiresAt means the access token does not expire.
type StorageConnection struct {
	ID              string
	UserID          string
	Provider        string
	AccessTokenEnc  []byte
	RefreshTokenEnc []byte
	ExpiresAt       time.Time
	Status          ConnectionStatus
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConnectionSummary is the secret-free view of a connection.
type ConnectionSummary struct {
	Provider  string           `json:"provider"`
	Status    ConnectionStatus `json:"status"`
	LastError string           `json:"last_error,omitempty"`
	ExpiresAt time.Time        `json:"expires_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (c *StorageConnection) Summary() ConnectionSummary {
	return ConnectionSummary{
		Provider:  c.Provider,
		Status:    c.Status,
		LastError: c.LastError,
		ExpiresAt: c.ExpiresAt,
		UpdatedAt: c.UpdatedAt,
	}
}
