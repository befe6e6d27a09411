package model

import "time"

// StoredCredential is a session credential persisted in DynamoDB.
// Both tokens are stored encrypted.
type StoredCredential struct {
	SessionKey            string    `json:"session_key" dynamodbav:"session_key"`
	OwnerID               string    `json:"owner_id" dynamodbav:"owner_id"`
	Email                 string    `json:"email" dynamodbav:"email"`
	EncryptedAccessToken  string    `json:"encrypted_access_token" dynamodbav:"encrypted_access_token"`
	EncryptedRefreshToken string    `json:"encrypted_refresh_token" dynamodbav:"encrypted_refresh_token"`
	IssuedAt              time.Time `json:"issued_at" dynamodbav:"issued_at"`
	UpdatedAt             time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// UploadLease marks an upload run in progress against one collection path.
type UploadLease struct {
	LeaseKey  string `json:"lease_key" dynamodbav:"lease_key"`
	HolderID  string `json:"holder_id" dynamodbav:"holder_id"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}
