package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/gophstore/internal/crypto"
	"github.com/jun/gophstore/internal/model"
)

// Store persists the single credential a Manager works with.
type Store interface {
	Load(ctx context.Context) (Credential, error)
	Save(ctx context.Context, cred Credential) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the credential in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, ErrNoCredential
	}
	return *s.cred, nil
}

func (s *MemoryStore) Save(_ context.Context, cred Credential) error {
	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	return nil
}

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore persists the credential in a DynamoDB table keyed by
// session_key. Both tokens are encrypted before they leave the process.
type DynamoStore struct {
	client     DynamoAPI
	tableName  string
	sessionKey string
	enc        crypto.Encryptor
}

// NewDynamoStore creates a DynamoStore for one session key.
func NewDynamoStore(client DynamoAPI, tableName, sessionKey string, enc crypto.Encryptor) *DynamoStore {
	return &DynamoStore{
		client:     client,
		tableName:  tableName,
		sessionKey: sessionKey,
		enc:        enc,
	}
}

func (s *DynamoStore) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"session_key": &types.AttributeValueMemberS{Value: s.sessionKey},
	}
}

// Load reads and decrypts the stored credential.
func (s *DynamoStore) Load(ctx context.Context) (Credential, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Credential{}, fmt.Errorf("failed to get credential from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return Credential{}, ErrNoCredential
	}

	var stored model.StoredCredential
	if err := attributevalue.UnmarshalMap(out.Item, &stored); err != nil {
		return Credential{}, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	access, err := s.enc.Decrypt(ctx, stored.EncryptedAccessToken)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.enc.Decrypt(ctx, stored.EncryptedRefreshToken)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     stored.IssuedAt,
		OwnerID:      stored.OwnerID,
		Email:        stored.Email,
	}, nil
}

// Save encrypts both tokens and writes the credential.
func (s *DynamoStore) Save(ctx context.Context, cred Credential) error {
	access, err := s.enc.Encrypt(ctx, cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.enc.Encrypt(ctx, cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	item, err := attributevalue.MarshalMap(model.StoredCredential{
		SessionKey:            s.sessionKey,
		OwnerID:               cred.OwnerID,
		Email:                 cred.Email,
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		IssuedAt:              cred.IssuedAt,
		UpdatedAt:             time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save credential to DynamoDB: %w", err)
	}
	return nil
}

// Clear deletes the stored credential.
func (s *DynamoStore) Clear(ctx context.Context) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(),
	})
	if err != nil {
		return fmt.Errorf("failed to delete credential from DynamoDB: %w", err)
	}
	return nil
}
