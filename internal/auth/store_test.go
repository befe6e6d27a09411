package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/gophstore/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo stores items keyed by their session_key attribute.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	fail  error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) string {
	if s, ok := item["session_key"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStore_RoundTrip(t *testing.T) {
	db := newFakeDynamo()
	store := NewDynamoStore(db, "credentials", "default", crypto.NewMockEncryptor())
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNoCredential)

	in := Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     epoch,
		OwnerID:      "user-1",
		Email:        "a@example.com",
	}
	require.NoError(t, store.Save(ctx, in))

	item := db.items["default"]
	require.NotNil(t, item)
	sealed, ok := item["encrypted_refresh_token"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "mock:refresh", sealed.Value)

	out, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in.AccessToken, out.AccessToken)
	assert.Equal(t, in.RefreshToken, out.RefreshToken)
	assert.True(t, in.IssuedAt.Equal(out.IssuedAt))
	assert.Equal(t, in.OwnerID, out.OwnerID)
	assert.Equal(t, in.Email, out.Email)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestDynamoStore_BackendError(t *testing.T) {
	db := newFakeDynamo()
	db.fail = errors.New("throttled")
	store := NewDynamoStore(db, "credentials", "default", crypto.NewMockEncryptor())

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoCredential))
	assert.Error(t, store.Save(context.Background(), Credential{AccessToken: "a"}))
}

func TestManager_WithDynamoStore(t *testing.T) {
	f := &fakeIdentity{rotate: true}
	m, _, _ := newTestManager(t, f)
	store := NewDynamoStore(newFakeDynamo(), "credentials", "default", crypto.NewMockEncryptor())
	m.store = store
	seed(t, store, epoch.Add(-50*time.Minute))

	tok, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "stored-access", tok)

	cred, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, s.Save(ctx, Credential{AccessToken: "a"}))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)

	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)
}
