package domain

import "time"

// CredentialState is the lifecycle state of a channel credential
type CredentialState string

// enum of credential states
const (
	CredentialFresh       CredentialState = "fresh"
	CredentialRefreshing  CredentialState = "refreshing"
	CredentialNeedsReauth CredentialState = "needs-reauth"
	CredentialRevoked     CredentialState = "revoked"
)

// Terminal reports whether the credential can no longer be used without user action
func (s CredentialState) Terminal() bool {
	return s == CredentialNeedsReauth || s == CredentialRevoked
}

// Credential is the stored state of a provider account token, the token itself lives in a file
type Credential struct {
	ID            string
	Account       string
	State         CredentialState
	Expiry        time.Time
	TokenPath     string
	LastRefreshAt *time.Time
	LastError     string
	UpdatedAt     time.Time
}
