package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DDBClient is the subset of the DynamoDB API used by DynamoDBLock.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

const (
	attrKey     = "lock_key"
	attrOwner   = "owner"
	attrExpires = "expires_at"

	// DefaultLease is how long an acquired lock stays valid without release.
	DefaultLease = 5 * time.Minute
)

// DynamoDBLock is a lease lock stored as one item in a DynamoDB table.
//
// Acquisition is a conditional PutItem that succeeds only if no item exists
// for the key or the existing lease has expired. A crashed owner therefore
// blocks others for at most one lease.
//
// Table schema:
//   - Partition key: lock_key (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name fieldq-locks \
//	  --attribute-definitions AttributeName=lock_key,AttributeType=S \
//	  --key-schema AttributeName=lock_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DynamoDBLock struct {
	client     DDBClient
	table      string
	key        string
	owner      string
	lease      time.Duration
	retryDelay time.Duration
	now        func() time.Time

	mu     sync.Mutex
	locked bool
}

// DynamoDBOption configures a DynamoDBLock.
type DynamoDBOption func(*DynamoDBLock)

// WithLease sets the lease duration.
func WithLease(d time.Duration) DynamoDBOption {
	return func(l *DynamoDBLock) { l.lease = d }
}

// WithOwner sets the owner id. Defaults to a random UUID.
func WithOwner(owner string) DynamoDBOption {
	return func(l *DynamoDBLock) { l.owner = owner }
}

// WithRetryDelay sets the polling interval while the lock is held elsewhere.
func WithRetryDelay(d time.Duration) DynamoDBOption {
	return func(l *DynamoDBLock) { l.retryDelay = d }
}

// NewDynamoDBLock creates a lock for key (typically the cache directory URI).
func NewDynamoDBLock(client DDBClient, table, key string, optFns ...DynamoDBOption) *DynamoDBLock {
	l := &DynamoDBLock{
		client:     client,
		table:      table,
		key:        key,
		owner:      uuid.NewString(),
		lease:      DefaultLease,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
	}
	for _, fn := range optFns {
		fn(l)
	}
	return l
}

// Owner returns the owner id written to the lock item.
func (l *DynamoDBLock) Owner() string { return l.owner }

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (l *DynamoDBLock) tryAcquire(ctx context.Context) (bool, error) {
	now := l.now()
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			attrKey:     &types.AttributeValueMemberS{Value: l.key},
			attrOwner:   &types.AttributeValueMemberS{Value: l.owner},
			attrExpires: &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(l.lease).UnixMilli(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(lock_key) OR expires_at < :now OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": attrOwner,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	if err == nil {
		return true, nil
	}
	if isConditionFailed(err) {
		return false, nil
	}
	return false, err
}

// Lock acquires the lease, polling until ctx ends.
func (l *DynamoDBLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return nil
	}

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := l.tryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", l.key, err)
		}
		if ok {
			l.locked = true
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrLockHeld, l.key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Unlock deletes the lock item if this owner still holds it.
func (l *DynamoDBLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return ErrNotLocked
	}
	l.locked = false

	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			attrKey: &types.AttributeValueMemberS{Value: l.key},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": attrOwner,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			// The lease expired and another owner took over.
			return fmt.Errorf("%w: %s: lease lost", ErrNotLocked, l.key)
		}
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
