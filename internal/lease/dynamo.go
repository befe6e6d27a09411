package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/gophstore/internal/model"
)

const DefaultTTL = 5 * time.Minute

// DynamoAPI is the subset of *dynamodb.Client used by DynamoLocker.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLocker keeps leases in a DynamoDB table with a TTL attribute.
type DynamoLocker struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoLocker creates a DynamoLocker with DefaultTTL.
func NewDynamoLocker(client DynamoAPI, tableName string) *DynamoLocker {
	return &DynamoLocker{
		client:    client,
		tableName: tableName,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
}

func (l *DynamoLocker) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"lease_key": &types.AttributeValueMemberS{Value: key},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (l *DynamoLocker) Acquire(ctx context.Context, key, holder string) (*model.UploadLease, error) {
	now := l.now().Unix()
	lease := model.UploadLease{
		LeaseKey:  key,
		HolderID:  holder,
		ExpiresAt: now + int64(l.ttl.Seconds()),
	}

	item, err := attributevalue.MarshalMap(lease)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
		ConditionExpression: aws.String(
			"attribute_not_exists(lease_key) OR expires_at < :now OR holder_id = :holder",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":holder": &types.AttributeValueMemberS{Value: holder},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return &lease, nil
}

func (l *DynamoLocker) Heartbeat(ctx context.Context, key, holder string) (*model.UploadLease, error) {
	expiresAt := l.now().Unix() + int64(l.ttl.Seconds())

	out, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(l.tableName),
		Key:                 l.key(key),
		UpdateExpression:    aws.String("SET expires_at = :expires_at"),
		ConditionExpression: aws.String("holder_id = :holder"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
			":holder":     &types.AttributeValueMemberS{Value: holder},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrNotHeld
		}
		return nil, fmt.Errorf("failed to send heartbeat: %w", err)
	}

	var lease model.UploadLease
	if err := attributevalue.UnmarshalMap(out.Attributes, &lease); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	return &lease, nil
}

func (l *DynamoLocker) Release(ctx context.Context, key, holder string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.tableName),
		Key:                 l.key(key),
		ConditionExpression: aws.String("holder_id = :holder"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":holder": &types.AttributeValueMemberS{Value: holder},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotHeld
		}
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (l *DynamoLocker) Status(ctx context.Context, key string) (*model.UploadLease, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key:       l.key(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lease status: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var lease model.UploadLease
	if err := attributevalue.UnmarshalMap(out.Item, &lease); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	// DynamoDB deletes expired items lazily.
	if lease.ExpiresAt < l.now().Unix() {
		return nil, nil
	}
	return &lease, nil
}
